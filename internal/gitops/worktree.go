package gitops

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mergeflow/mergeflow/internal/shell"
)

// WorktreeRecord describes an on-disk worktree checkout bound to one branch.
type WorktreeRecord struct {
	Path            string
	Branch          string
	Uncommitted     int
	Unpushed        int
	Age             time.Duration
	BehindMainline  int
}

// InspectWorktree measures a worktree: uncommitted and unpushed counts, age
// of the checkout directory, and commits behind origin/<mainline>. Mainline
// is fetched first so the behind count reflects the current remote tip.
func InspectWorktree(ctx context.Context, path, branch, mainline string) (WorktreeRecord, error) {
	r := &shell.Runner{Dir: path}

	rec := WorktreeRecord{Path: path, Branch: branch}

	info, err := os.Stat(path)
	if err != nil {
		return rec, fmt.Errorf("stat worktree %s: %w", path, err)
	}
	rec.Age = time.Since(info.ModTime())

	if rec.Uncommitted, err = UncommittedCount(ctx, r); err != nil {
		return rec, err
	}

	// Unpushed is best-effort: a branch without an upstream counts as fully
	// unpushed only once it has commits beyond mainline.
	if ahead, aheadErr := CountAhead(ctx, r, "origin/"+branch); aheadErr == nil {
		rec.Unpushed = ahead
	}

	if err := FetchBranch(ctx, r, mainline); err != nil {
		return rec, err
	}
	if rec.BehindMainline, err = CountBehind(ctx, r, "origin/"+mainline); err != nil {
		return rec, err
	}

	return rec, nil
}

// AddWorktree creates a worktree at path for the branch. An existing branch
// (local or remote) is checked out directly; otherwise the branch is created
// from origin/<base>, falling back to the local base for repos without a
// remote.
func AddWorktree(ctx context.Context, repoPath, path, branch, base string) error {
	r := &shell.Runner{Dir: repoPath}

	_, _ = r.Run(ctx, "git", "fetch", "origin", base)

	_, localErr := r.Run(ctx, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	_, remoteErr := r.Run(ctx, "git", "rev-parse", "--verify", "refs/remotes/origin/"+branch)

	if localErr == nil || remoteErr == nil {
		if _, err := r.Run(ctx, "git", "worktree", "add", path, branch); err != nil {
			return fmt.Errorf("adding worktree %s: %w", path, err)
		}
		return nil
	}

	if _, err := r.Run(ctx, "git", "worktree", "add", "-b", branch, path, "origin/"+base); err != nil {
		if _, err := r.Run(ctx, "git", "worktree", "add", "-b", branch, path, base); err != nil {
			return fmt.Errorf("adding worktree %s for new branch %s: %w", path, branch, err)
		}
	}
	return nil
}

// RemoveWorktree removes a git worktree, discarding any local state in it.
func RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	r := &shell.Runner{Dir: repoPath}
	if _, err := r.Run(ctx, "git", "worktree", "remove", "--force", worktreePath); err != nil {
		return fmt.Errorf("removing worktree %s: %w", worktreePath, err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func DeleteBranch(ctx context.Context, r *shell.Runner, branch string) error {
	if _, err := r.Run(ctx, "git", "branch", "-D", branch); err != nil {
		return fmt.Errorf("deleting branch %s: %w", branch, err)
	}
	return nil
}

// DeleteRemoteBranch deletes the branch on origin.
func DeleteRemoteBranch(ctx context.Context, r *shell.Runner, branch string) error {
	if _, err := r.Run(ctx, "git", "push", "origin", "--delete", branch); err != nil {
		return fmt.Errorf("deleting origin/%s: %w", branch, err)
	}
	return nil
}
