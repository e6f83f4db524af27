// Package commands implements the mergeflow CLI subcommands.
package commands

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mergeflow/mergeflow/internal/config"
	"github.com/mergeflow/mergeflow/internal/orchestrator"
	"github.com/mergeflow/mergeflow/internal/session"
)

// AddProjectConfigFlag adds the --project-config flag to a FlagSet.
func AddProjectConfigFlag(fs *flag.FlagSet) *string {
	return fs.String("project-config", "", "Path to project config YAML (default: discover .mergeflow/mergeflow.yaml)")
}

// AddVerboseFlag adds the --verbose flag to a FlagSet.
func AddVerboseFlag(fs *flag.FlagSet) *bool {
	return fs.Bool("verbose", false, "Enable debug logging")
}

// ResolveConfig loads the project config from the explicit flag value or by
// discovery.
func ResolveConfig(flagValue string) (*config.Config, error) {
	return config.Resolve(flagValue)
}

// NewLogger builds the CLI logger writing to stderr.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func sessionStore(cfg *config.Config) *session.Store {
	return session.NewStore(cfg.SessionPath(), cfg.SnapshotDir(), session.Limits{
		MaxIssues: cfg.Session.MaxIssues,
		MaxHours:  cfg.Session.MaxHours,
	})
}

type queueFile struct {
	Issues []queueIssue `yaml:"issues"`
}

type queueIssue struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Body   string `yaml:"body"`
	Branch string `yaml:"branch"`
}

// LoadQueue reads the issue queue file. Branch defaults to
// mergeflow/<issue-id>.
func LoadQueue(path string) ([]orchestrator.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading queue %s: %w", path, err)
	}
	var qf queueFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing queue %s: %w", path, err)
	}

	issues := make([]orchestrator.Issue, 0, len(qf.Issues))
	for _, qi := range qf.Issues {
		if qi.ID == "" {
			return nil, fmt.Errorf("queue %s: issue with empty id", path)
		}
		branch := qi.Branch
		if branch == "" {
			branch = "mergeflow/" + qi.ID
		}
		issues = append(issues, orchestrator.Issue{
			ID:     qi.ID,
			Title:  qi.Title,
			Body:   qi.Body,
			Branch: branch,
		})
	}
	return issues, nil
}
