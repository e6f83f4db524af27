package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mergeflow/mergeflow/internal/shell"
)

// IsDirty reports whether the working tree has uncommitted changes,
// including untracked files.
func IsDirty(ctx context.Context, r *shell.Runner) (bool, error) {
	out, err := r.Run(ctx, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("checking status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// StatusPorcelain returns the raw porcelain status output.
func StatusPorcelain(ctx context.Context, r *shell.Runner) (string, error) {
	out, err := r.Run(ctx, "git", "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("checking status: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// UncommittedCount returns the number of paths with uncommitted changes.
func UncommittedCount(ctx context.Context, r *shell.Runner) (int, error) {
	out, err := StatusPorcelain(ctx, r)
	if err != nil {
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	return len(strings.Split(out, "\n")), nil
}

// StashSave stashes the working tree including untracked files.
func StashSave(ctx context.Context, r *shell.Runner, message string) error {
	_, err := r.Run(ctx, "git", "stash", "push", "--include-untracked", "-m", message)
	if err != nil {
		return fmt.Errorf("stashing working tree: %w", err)
	}
	return nil
}

// ErrStashPopConflict reports that popping the stash hit conflicts. The
// stash entry is preserved by git in this case, so no data is lost.
var ErrStashPopConflict = errors.New("stash pop conflicted; stash preserved")

// StashPop restores the most recent stash. When the pop itself conflicts,
// git keeps the stash entry; ErrStashPopConflict is returned so the caller
// can warn rather than lose data.
func StashPop(ctx context.Context, r *shell.Runner) error {
	_, err := r.Run(ctx, "git", "stash", "pop")
	if err != nil {
		var exitErr *shell.ExitError
		if errors.As(err, &exitErr) && exitErr.Code != 0 {
			return ErrStashPopConflict
		}
		return fmt.Errorf("popping stash: %w", err)
	}
	return nil
}

// StartRebase rebases HEAD onto the given ref. It returns hasConflicts=true
// when the rebase stopped on conflicts (a rebase is then in progress and
// must be aborted or continued).
func StartRebase(ctx context.Context, r *shell.Runner, onto string) (hasConflicts bool, err error) {
	_, runErr := r.Run(ctx, "git", "rebase", onto)
	if runErr == nil {
		return false, nil
	}
	var exitErr *shell.ExitError
	if errors.As(runErr, &exitErr) {
		inProgress, checkErr := HasRebaseInProgress(ctx, r)
		if checkErr != nil {
			return false, fmt.Errorf("starting rebase: %w", runErr)
		}
		if inProgress {
			return true, nil
		}
	}
	return false, fmt.Errorf("starting rebase: %w", runErr)
}

// HasRebaseInProgress detects whether a rebase is currently in progress.
func HasRebaseInProgress(ctx context.Context, r *shell.Runner) (bool, error) {
	gitDir, err := r.Run(ctx, "git", "rev-parse", "--absolute-git-dir")
	if err != nil {
		return false, fmt.Errorf("getting git dir: %w", err)
	}
	absGitDir := strings.TrimSpace(gitDir)
	for _, marker := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(absGitDir, marker)); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// AbortRebase runs git rebase --abort.
func AbortRebase(ctx context.Context, r *shell.Runner) error {
	_, err := r.Run(ctx, "git", "rebase", "--abort")
	if err != nil {
		return fmt.Errorf("aborting rebase: %w", err)
	}
	return nil
}

// MergeBranch merges the given ref into the current branch without editing
// the merge message. It returns hasConflicts=true when the merge stopped on
// conflicts.
func MergeBranch(ctx context.Context, r *shell.Runner, ref, message string) (hasConflicts bool, err error) {
	args := []string{"merge", "--no-edit"}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, ref)
	_, runErr := r.Run(ctx, "git", args...)
	if runErr == nil {
		return false, nil
	}
	var exitErr *shell.ExitError
	if errors.As(runErr, &exitErr) {
		conflicts, checkErr := ConflictFiles(ctx, r)
		if checkErr == nil && len(conflicts) > 0 {
			return true, nil
		}
	}
	return false, fmt.Errorf("merging %s: %w", ref, runErr)
}

// AbortMerge runs git merge --abort.
func AbortMerge(ctx context.Context, r *shell.Runner) error {
	_, err := r.Run(ctx, "git", "merge", "--abort")
	if err != nil {
		return fmt.Errorf("aborting merge: %w", err)
	}
	return nil
}

// ConflictFiles returns the list of files with unresolved conflicts.
func ConflictFiles(ctx context.Context, r *shell.Runner) ([]string, error) {
	out, err := r.Run(ctx, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("listing conflict files: %w", err)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// Push pushes the branch to origin without rewriting remote history.
func Push(ctx context.Context, r *shell.Runner, branch string) error {
	_, err := r.Run(ctx, "git", "push", "origin", branch)
	if err != nil {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// PushWithLease force-pushes the branch using a lease so further remote
// changes made after the last fetch reject the push instead of being
// silently clobbered.
func PushWithLease(ctx context.Context, r *shell.Runner, branch string) error {
	_, err := r.Run(ctx, "git", "push", "--force-with-lease", "origin", branch)
	if err != nil {
		return fmt.Errorf("force pushing %s with lease: %w", branch, err)
	}
	return nil
}

// CommitAll stages all changes and creates a commit.
func CommitAll(ctx context.Context, r *shell.Runner, message string) error {
	if _, err := r.Run(ctx, "git", "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	if _, err := r.Run(ctx, "git", "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}
