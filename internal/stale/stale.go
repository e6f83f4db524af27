// Package stale measures drift of an issue branch from mainline and
// resolves it: merge mainline in while drift is small, restart the issue
// from scratch once it crosses the threshold.
package stale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mergeflow/mergeflow/internal/config"
	"github.com/mergeflow/mergeflow/internal/divergence"
	"github.com/mergeflow/mergeflow/internal/github"
	"github.com/mergeflow/mergeflow/internal/gitops"
	"github.com/mergeflow/mergeflow/internal/shell"
)

// ResultKind tags the outcome of a staleness check.
type ResultKind string

const (
	// Continue means the branch is current enough to keep working on.
	Continue ResultKind = "continue"
	// Blocked means drift could not be resolved; Reason explains why.
	Blocked ResultKind = "blocked"
	// Restarted means the branch, PR, and worktree were torn down; the
	// caller must reinitialize all per-issue state as if starting fresh.
	Restarted ResultKind = "restarted"
)

// Result is the tagged outcome of Check.
type Result struct {
	Kind   ResultKind
	Reason string
}

// PRCloser closes a pull request with a farewell comment.
type PRCloser interface {
	ClosePR(ctx context.Context, owner, repo string, prNumber int, comment string) error
}

// SnapshotClearer clears an issue's persisted session snapshot.
type SnapshotClearer interface {
	ClearSnapshot(issue string) error
}

// Manager checks and resolves branch staleness against mainline.
type Manager struct {
	owner     string
	repo      string
	mainline  string
	threshold int
	mode      config.Mode

	closer    PRCloser
	snapshots SnapshotClearer
	prompter  divergence.Prompter
	notifier  divergence.Notifier
	logger    *slog.Logger
}

// ManagerConfig holds Manager dependencies. Threshold defaults to 10.
type ManagerConfig struct {
	Owner     string
	Repo      string
	Mainline  string
	Threshold int
	Mode      config.Mode
	Closer    PRCloser
	Snapshots SnapshotClearer
	Prompter  divergence.Prompter
	Notifier  divergence.Notifier
	Logger    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		owner:     cfg.Owner,
		repo:      cfg.Repo,
		mainline:  cfg.Mainline,
		threshold: threshold,
		mode:      cfg.Mode,
		closer:    cfg.Closer,
		snapshots: cfg.Snapshots,
		prompter:  cfg.Prompter,
		notifier:  cfg.Notifier,
		logger:    logger,
	}
}

// Attended-mode option labels for the over-threshold decision.
const (
	optRestart  = "restart fresh (recommended — final merges are squashed)"
	optMergeIn  = "merge mainline into the branch"
	optContinue = "continue unmerged"
	optAbort    = "abort"
)

// Check measures commits-behind after fetching mainline and resolves drift.
// Below the threshold, mainline is merged in with the stash-safe procedure
// and pushed (no force: history is not rewritten). At or above it, the
// issue restarts in unattended mode or a human chooses in attended mode.
func (m *Manager) Check(ctx context.Context, r *shell.Runner, wt gitops.WorktreeRecord, pr *github.PR, issue string) (Result, error) {
	if err := gitops.FetchBranch(ctx, r, m.mainline); err != nil {
		return Result{}, err
	}
	behind, err := gitops.CountBehind(ctx, r, "origin/"+m.mainline)
	if err != nil {
		return Result{}, err
	}

	if behind == 0 {
		return Result{Kind: Continue}, nil
	}

	if behind < m.threshold {
		return m.mergeMainline(ctx, r, wt)
	}

	m.logger.Info("branch is stale past threshold",
		"issue", issue, "branch", wt.Branch, "behind", behind, "threshold", m.threshold)

	if m.mode == config.ModeUnattended {
		return m.restart(ctx, r, wt, pr, issue)
	}

	choice, err := m.prompter.Choose(ctx,
		fmt.Sprintf("branch %s is %d commit(s) behind %s", wt.Branch, behind, m.mainline),
		[]string{optRestart, optMergeIn, optContinue, optAbort})
	if err != nil {
		return Result{}, fmt.Errorf("prompting for stale branch resolution: %w", err)
	}
	switch choice {
	case optRestart:
		return m.restart(ctx, r, wt, pr, issue)
	case optMergeIn:
		return m.mergeMainline(ctx, r, wt)
	case optContinue:
		return Result{Kind: Continue, Reason: "continuing unmerged by operator choice"}, nil
	default:
		return Result{Kind: Blocked, Reason: "aborted by operator"}, nil
	}
}

func (m *Manager) mergeMainline(ctx context.Context, r *shell.Runner, wt gitops.WorktreeRecord) (Result, error) {
	mergeMsg := fmt.Sprintf("Merge branch '%s' into %s", m.mainline, wt.Branch)
	err := divergence.MergeFrom(ctx, r, "origin/"+m.mainline, mergeMsg, m.logger)
	if err == nil {
		if pushErr := gitops.Push(ctx, r, wt.Branch); pushErr != nil {
			return Result{}, pushErr
		}
		return Result{Kind: Continue, Reason: "mainline merged in and pushed"}, nil
	}

	var conflictErr *divergence.ConflictError
	if !errors.As(err, &conflictErr) {
		return Result{}, err
	}

	if m.mode == config.ModeUnattended {
		if m.notifier != nil {
			msg := fmt.Sprintf("mainline merge into %s conflicted; tree restored", wt.Branch)
			if nErr := m.notifier.Notify(ctx, msg, "high"); nErr != nil {
				m.logger.Warn("sending stale-branch notification", "error", nErr)
			}
		}
		return Result{Kind: Blocked, Reason: conflictErr.Error()}, nil
	}

	choice, promptErr := m.prompter.Choose(ctx,
		fmt.Sprintf("merging %s into %s conflicted; tree restored", m.mainline, wt.Branch),
		[]string{optContinue, optAbort})
	if promptErr != nil {
		return Result{}, fmt.Errorf("prompting after merge conflict: %w", promptErr)
	}
	if choice == optContinue {
		return Result{Kind: Continue, Reason: "continuing unmerged after conflict"}, nil
	}
	return Result{Kind: Blocked, Reason: "merge conflict; aborted by operator"}, nil
}

// restart tears down the branch end to end: close the PR with a generated
// summary, delete local and remote branch, remove the worktree, and clear
// the issue's session snapshot. The caller must reinitialize all per-issue
// variables as if starting fresh.
func (m *Manager) restart(ctx context.Context, r *shell.Runner, wt gitops.WorktreeRecord, pr *github.PR, issue string) (Result, error) {
	summary, err := m.closeSummary(ctx, r, wt)
	if err != nil {
		m.logger.Warn("building close summary", "issue", issue, "error", err)
		summary = "Closing: branch restarted due to mainline drift."
	}

	if pr != nil {
		if err := m.closer.ClosePR(ctx, m.owner, m.repo, pr.Number, summary); err != nil {
			return Result{}, fmt.Errorf("closing PR #%d: %w", pr.Number, err)
		}
	}

	repoRoot, err := r.Run(ctx, "git", "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return Result{}, fmt.Errorf("finding main repo: %w", err)
	}
	mainRepo := strings.TrimSuffix(strings.TrimSpace(repoRoot), "/.git")

	if err := gitops.DeleteRemoteBranch(ctx, r, wt.Branch); err != nil {
		m.logger.Warn("deleting remote branch", "branch", wt.Branch, "error", err)
	}

	if err := gitops.RemoveWorktree(ctx, mainRepo, wt.Path); err != nil {
		return Result{}, err
	}

	mainRunner := &shell.Runner{Dir: mainRepo}
	if err := gitops.DeleteBranch(ctx, mainRunner, wt.Branch); err != nil {
		m.logger.Warn("deleting local branch", "branch", wt.Branch, "error", err)
	}

	if err := m.snapshots.ClearSnapshot(issue); err != nil {
		m.logger.Warn("clearing session snapshot", "issue", issue, "error", err)
	}

	return Result{Kind: Restarted, Reason: "branch restarted due to mainline drift"}, nil
}

// closeSummary renders the PR farewell comment: the branch's commit log and
// changed files relative to mainline.
func (m *Manager) closeSummary(ctx context.Context, r *shell.Runner, wt gitops.WorktreeRecord) (string, error) {
	commits, err := gitops.CommitsInRange(ctx, r, "origin/"+m.mainline, "HEAD")
	if err != nil {
		return "", err
	}
	files, err := gitops.ChangedFiles(ctx, r, "origin/"+m.mainline, "HEAD")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Closing this PR: the branch drifted too far behind ")
	b.WriteString(m.mainline)
	b.WriteString(" and the issue will restart from a fresh branch.\n\n")

	if len(commits) > 0 {
		b.WriteString("Work done here:\n")
		for _, c := range commits {
			fmt.Fprintf(&b, "- %s %s\n", c.SHA[:min(8, len(c.SHA))], c.Subject)
		}
		b.WriteString("\n")
	}
	if len(files) > 0 {
		b.WriteString("Files touched:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String(), nil
}
