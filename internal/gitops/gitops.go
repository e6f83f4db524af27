package gitops

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mergeflow/mergeflow/internal/shell"
)

// Commit is a single commit with its author timestamp normalized to UTC
// epoch seconds at ingestion. Timestamps are only ever compared as integers,
// never as formatted strings.
type Commit struct {
	SHA         string
	Subject     string
	Author      string
	AuthorEpoch int64
}

// commitLogFormat produces hash, author epoch, author name, and subject
// separated by tabs, one commit per line.
const commitLogFormat = "%H%x09%at%x09%an%x09%s"

func parseCommitLines(out string) ([]Commit, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	var commits []Commit
	for _, line := range strings.Split(trimmed, "\n") {
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("malformed commit line %q", line)
		}
		epoch, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing commit timestamp %q: %w", parts[1], err)
		}
		commits = append(commits, Commit{
			SHA:         parts[0],
			AuthorEpoch: epoch,
			Author:      parts[2],
			Subject:     parts[3],
		})
	}
	return commits, nil
}

// LocalHead returns the commit id of HEAD.
func LocalHead(ctx context.Context, r *shell.Runner) (string, error) {
	out, err := r.Run(ctx, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// RemoteHead returns the commit id of origin/<branch>, or an error when the
// remote tracking ref does not exist locally.
func RemoteHead(ctx context.Context, r *shell.Runner, branch string) (string, error) {
	out, err := r.Run(ctx, "git", "rev-parse", "refs/remotes/origin/"+branch)
	if err != nil {
		return "", fmt.Errorf("resolving origin/%s: %w", branch, err)
	}
	return strings.TrimSpace(out), nil
}

// FetchBranch fetches origin/<branch>.
func FetchBranch(ctx context.Context, r *shell.Runner, branch string) error {
	_, err := r.Run(ctx, "git", "fetch", "origin", branch)
	if err != nil {
		return fmt.Errorf("fetching origin/%s: %w", branch, err)
	}
	return nil
}

// CurrentBranch returns the name of the currently checked-out branch.
func CurrentBranch(ctx context.Context, r *shell.Runner) (string, error) {
	out, err := r.Run(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// IsAncestor returns true when ancestor is an ancestor of descendant.
func IsAncestor(ctx context.Context, r *shell.Runner, ancestor, descendant string) (bool, error) {
	_, err := r.Run(ctx, "git", "merge-base", "--is-ancestor", ancestor, descendant)
	if err != nil {
		var exitErr *shell.ExitError
		if errors.As(err, &exitErr) && exitErr.Code == 1 {
			return false, nil
		}
		return false, fmt.Errorf("checking ancestry: %w", err)
	}
	return true, nil
}

// CommitsInRange lists commits reachable from to but not from, oldest first.
func CommitsInRange(ctx context.Context, r *shell.Runner, from, to string) ([]Commit, error) {
	out, err := r.Run(ctx, "git", "log", "--reverse", "--format="+commitLogFormat, from+".."+to)
	if err != nil {
		return nil, fmt.Errorf("listing commits %s..%s: %w", from, to, err)
	}
	return parseCommitLines(out)
}

// RecentCommits lists the n most recent commits reachable from HEAD,
// newest first.
func RecentCommits(ctx context.Context, r *shell.Runner, n int) ([]Commit, error) {
	out, err := r.Run(ctx, "git", "log", "--format="+commitLogFormat, "-n", strconv.Itoa(n), "HEAD")
	if err != nil {
		return nil, fmt.Errorf("listing recent commits: %w", err)
	}
	return parseCommitLines(out)
}

// CountBehind returns the number of commits reachable from ref but not from
// HEAD, using the merge base.
func CountBehind(ctx context.Context, r *shell.Runner, ref string) (int, error) {
	out, err := r.Run(ctx, "git", "rev-list", "--count", "HEAD.."+ref)
	if err != nil {
		return 0, fmt.Errorf("counting commits behind %s: %w", ref, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing rev-list count: %w", err)
	}
	return n, nil
}

// CountAhead returns the number of commits reachable from HEAD but not from ref.
func CountAhead(ctx context.Context, r *shell.Runner, ref string) (int, error) {
	out, err := r.Run(ctx, "git", "rev-list", "--count", ref+"..HEAD")
	if err != nil {
		return 0, fmt.Errorf("counting commits ahead of %s: %w", ref, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing rev-list count: %w", err)
	}
	return n, nil
}

// DiffSummary returns the --stat summary of changes between base and head
// (three-dot, i.e. since their merge base).
func DiffSummary(ctx context.Context, r *shell.Runner, base, head string) (string, error) {
	out, err := r.Run(ctx, "git", "diff", "--stat", base+"..."+head)
	if err != nil {
		return "", fmt.Errorf("diff summary %s...%s: %w", base, head, err)
	}
	return strings.TrimSpace(out), nil
}

// ChangedFiles lists file paths changed between base and head (three-dot).
func ChangedFiles(ctx context.Context, r *shell.Runner, base, head string) ([]string, error) {
	out, err := r.Run(ctx, "git", "diff", "--name-only", base+"..."+head)
	if err != nil {
		return nil, fmt.Errorf("listing changed files %s...%s: %w", base, head, err)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// DiffContent returns the full diff between base and head (three-dot).
func DiffContent(ctx context.Context, r *shell.Runner, base, head string) (string, error) {
	out, err := r.Run(ctx, "git", "diff", base+"..."+head)
	if err != nil {
		return "", fmt.Errorf("diff %s...%s: %w", base, head, err)
	}
	return out, nil
}
