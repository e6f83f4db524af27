package commands

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mergeflow/mergeflow/internal/activity"
	"github.com/mergeflow/mergeflow/internal/agent"
	"github.com/mergeflow/mergeflow/internal/config"
	"github.com/mergeflow/mergeflow/internal/credentials"
	"github.com/mergeflow/mergeflow/internal/divergence"
	"github.com/mergeflow/mergeflow/internal/gate"
	"github.com/mergeflow/mergeflow/internal/github"
	"github.com/mergeflow/mergeflow/internal/notify"
	"github.com/mergeflow/mergeflow/internal/orchestrator"
	"github.com/mergeflow/mergeflow/internal/prompt"
	"github.com/mergeflow/mergeflow/internal/session"
	"github.com/mergeflow/mergeflow/internal/stale"
)

// Run processes the issue queue through the pipeline.
func Run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := AddProjectConfigFlag(fs)
	verbose := AddVerboseFlag(fs)
	profile := fs.String("profile", "", "Credentials profile name")
	unattended := fs.Bool("unattended", false, "Override mode to unattended for this run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := ResolveConfig(*configPath)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}
	if *unattended {
		cfg.Mode = config.ModeUnattended
	}

	logger := NewLogger(*verbose)

	creds, err := credentials.Resolve(credentials.DefaultPath(), *profile)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}

	var ghOpts []github.Option
	if creds.HasGithubApp() {
		ghOpts = append(ghOpts, github.WithAppAuth(github.AppCredentials{
			ClientID:       creds.GithubAppClientID,
			InstallationID: creds.GithubAppInstallationID,
			PrivateKeyPath: creds.GithubAppPrivateKeyPath,
		}))
	}
	gh, err := github.New(creds.GithubToken, ghOpts...)
	if err != nil {
		return fmt.Errorf("creating API client: %w", err)
	}

	issues, err := LoadQueue(filepath.Join(cfg.Repo.Path, ".mergeflow", "queue.yaml"))
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Println("queue is empty; nothing to do")
		return nil
	}

	store := sessionStore(cfg)
	if _, err := store.Init(string(cfg.Mode)); err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	notes := session.NewNotes(cfg.NotesPath())
	if err := notes.Seed(); err != nil {
		logger.Warn("seeding notes document", "error", err)
	}

	actLog, err := activity.Open(cfg.ActivityDBPath())
	if err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	defer actLog.Close()

	var prompter divergence.Prompter = prompt.Huh{}
	if cfg.Mode == config.ModeUnattended {
		prompter = prompt.Fixed{}
	}
	notifier := notify.NewConsole()

	invoker := agent.NewInvoker(cfg.Agent.Command,
		time.Duration(cfg.Agent.TimeoutMinutes)*time.Minute, logger)

	g := gate.New(gate.Config{
		Prober:              gh,
		Owner:               cfg.Repo.Owner,
		Repo:                cfg.Repo.Name,
		Session:             store,
		SkipCredentialCheck: cfg.Gates.SkipCredentialCheck,
		SensitivePaths:      cfg.Gates.SensitivePaths,
		ProtectedScripts:    cfg.Gates.ProtectedScripts,
		Logger:              logger,
	})

	div := divergence.NewResolver(divergence.ResolverConfig{
		Mainline:   cfg.Repo.Mainline,
		Mode:       cfg.Mode,
		Classifier: agent.NewClassifier(invoker, cfg.Repo.Path),
		Prompter:   prompter,
		Notifier:   notifier,
		Logger:     logger,
	})

	staleMgr := stale.NewManager(stale.ManagerConfig{
		Owner:     cfg.Repo.Owner,
		Repo:      cfg.Repo.Name,
		Mainline:  cfg.Repo.Mainline,
		Threshold: cfg.Session.StaleThreshold,
		Mode:      cfg.Mode,
		Closer:    gh,
		Snapshots: store,
		Prompter:  prompter,
		Notifier:  notifier,
		Logger:    logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Cfg:        cfg,
		API:        gh,
		Agent:      invoker,
		Gate:       g,
		Divergence: div,
		Stale:      staleMgr,
		Session:    store,
		Notes:      notes,
		Activity:   actLog,
		Prompter:   prompter,
		Notifier:   notifier,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.RunBatch(ctx, issues); err != nil {
		if ctx.Err() != nil {
			logger.Info("run interrupted; snapshot written, resume with 'mergeflow run'")
			return nil
		}
		return err
	}
	return nil
}
