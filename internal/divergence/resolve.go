package divergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mergeflow/mergeflow/internal/config"
	"github.com/mergeflow/mergeflow/internal/gitops"
	"github.com/mergeflow/mergeflow/internal/shell"
)

// OutcomeKind tags the result of a resolution attempt.
type OutcomeKind string

const (
	// Resolved means the branch was brought back in sync and pushed.
	Resolved OutcomeKind = "resolved"
	// Blocked means resolution halted; Reason explains why.
	Blocked OutcomeKind = "blocked"
	// NeedsReReview means foreign commits were pulled in and the review
	// cycle must run again before merging.
	NeedsReReview OutcomeKind = "needs_re_review"
)

// Outcome is the tagged result of Resolve.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// ConflictError reports a rebase or merge conflict that was aborted, leaving
// the tree in its pre-attempt state.
type ConflictError struct {
	Op    string
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflicted on %d file(s); aborted to pre-attempt state", e.Op, len(e.Files))
}

// Attended-mode option labels.
const (
	optPullReReview   = "pull foreign commits and re-review"
	optPullNoReview   = "pull foreign commits without review"
	optForcePushLocal = "force-push local (discard foreign commits)"
	optAbort          = "abort"
)

// Resolve applies the resolution matrix for a classified divergence.
// Force pushes always use a lease so remote changes made after detection
// reject the push instead of being clobbered.
func (rs *Resolver) Resolve(ctx context.Context, r *shell.Runner, rep *Report, cls Classification, reviewed bool) (Outcome, error) {
	switch {
	case cls == Trivial,
		cls == Related && reviewed:
		return rs.autoRebasePush(ctx, r, rep)

	case cls == Related && !reviewed:
		if rs.mode == config.ModeUnattended {
			return rs.block(ctx, rep, "unreviewed related foreign commits on "+rep.Branch, "high")
		}
		return rs.offerRelated(ctx, r, rep)

	case cls == Unrelated:
		if rs.mode == config.ModeUnattended {
			return rs.block(ctx, rep, "unrelated foreign commits on "+rep.Branch, "high")
		}
		return rs.offerUnrelated(ctx, r, rep)
	}
	return Outcome{}, fmt.Errorf("unhandled classification %q", cls)
}

func (rs *Resolver) block(ctx context.Context, rep *Report, reason, urgency string) (Outcome, error) {
	if rs.notifier != nil {
		msg := fmt.Sprintf("divergence blocked: %s (%d foreign commit(s))", reason, len(rep.Foreign))
		if err := rs.notifier.Notify(ctx, msg, urgency); err != nil {
			rs.logger.Warn("sending divergence notification", "error", err)
		}
	}
	return Outcome{Kind: Blocked, Reason: reason}, nil
}

func (rs *Resolver) offerRelated(ctx context.Context, r *shell.Runner, rep *Report) (Outcome, error) {
	choice, err := rs.prompter.Choose(ctx,
		fmt.Sprintf("branch %s has %d related, unreviewed foreign commit(s)", rep.Branch, len(rep.Foreign)),
		[]string{optPullReReview, optPullNoReview, optForcePushLocal, optAbort})
	if err != nil {
		return Outcome{}, fmt.Errorf("prompting for divergence resolution: %w", err)
	}

	switch choice {
	case optPullReReview:
		out, err := rs.autoRebasePush(ctx, r, rep)
		if err != nil || out.Kind != Resolved {
			return out, err
		}
		return Outcome{Kind: NeedsReReview, Reason: "foreign commits pulled; review required"}, nil
	case optPullNoReview:
		return rs.autoRebasePush(ctx, r, rep)
	case optForcePushLocal:
		return rs.forcePushLocal(ctx, r, rep)
	default:
		return Outcome{Kind: Blocked, Reason: "aborted by operator"}, nil
	}
}

// offerUnrelated never offers a pull: unrelated commits are out of scope
// for this branch and pulling them in would widen the change.
func (rs *Resolver) offerUnrelated(ctx context.Context, r *shell.Runner, rep *Report) (Outcome, error) {
	choice, err := rs.prompter.Choose(ctx,
		fmt.Sprintf("branch %s has %d unrelated foreign commit(s)", rep.Branch, len(rep.Foreign)),
		[]string{optForcePushLocal, optAbort})
	if err != nil {
		return Outcome{}, fmt.Errorf("prompting for divergence resolution: %w", err)
	}

	if choice == optForcePushLocal {
		return rs.forcePushLocal(ctx, r, rep)
	}
	return Outcome{Kind: Blocked, Reason: "aborted by operator"}, nil
}

func (rs *Resolver) forcePushLocal(ctx context.Context, r *shell.Runner, rep *Report) (Outcome, error) {
	if err := gitops.PushWithLease(ctx, r, rep.Branch); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: Resolved, Reason: "local state force-pushed"}, nil
}

// autoRebasePush runs the stash-safe rebase onto the remote head and pushes
// with a lease. On conflict the tree is restored byte-identical to its
// pre-attempt state and escalation follows the mode: unattended fails
// closed, attended offers force-push or abort.
func (rs *Resolver) autoRebasePush(ctx context.Context, r *shell.Runner, rep *Report) (Outcome, error) {
	err := RebaseOnto(ctx, r, rep.RemoteHead, rs.logger)
	if err == nil {
		if pushErr := gitops.PushWithLease(ctx, r, rep.Branch); pushErr != nil {
			return Outcome{}, pushErr
		}
		return Outcome{Kind: Resolved, Reason: "rebased onto remote and pushed"}, nil
	}

	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		return Outcome{}, err
	}

	if rs.mode == config.ModeUnattended {
		return rs.block(ctx, rep, conflictErr.Error(), "high")
	}

	choice, promptErr := rs.prompter.Choose(ctx,
		fmt.Sprintf("rebase of %s conflicted; tree restored", rep.Branch),
		[]string{optForcePushLocal, optAbort})
	if promptErr != nil {
		return Outcome{}, fmt.Errorf("prompting after rebase conflict: %w", promptErr)
	}
	if choice == optForcePushLocal {
		return rs.forcePushLocal(ctx, r, rep)
	}
	return Outcome{Kind: Blocked, Reason: "rebase conflict; aborted by operator"}, nil
}

// RebaseOnto rebases the current branch onto the given ref with stash
// safety: a dirty tree is stashed first; on conflict the rebase is aborted
// and the stash restored, leaving the tree byte-identical to its
// pre-attempt state; on success the stash is restored (a conflicting
// stash-pop preserves the stash rather than lose data, with a warning).
func RebaseOnto(ctx context.Context, r *shell.Runner, onto string, logger *slog.Logger) error {
	dirty, err := gitops.IsDirty(ctx, r)
	if err != nil {
		return err
	}
	if dirty {
		if err := gitops.StashSave(ctx, r, "pre-rebase"); err != nil {
			return err
		}
	}

	hasConflicts, err := gitops.StartRebase(ctx, r, onto)
	if err != nil {
		if dirty {
			restoreStash(ctx, r, logger)
		}
		return err
	}

	if hasConflicts {
		files, _ := gitops.ConflictFiles(ctx, r)
		if abortErr := gitops.AbortRebase(ctx, r); abortErr != nil {
			return abortErr
		}
		if dirty {
			restoreStash(ctx, r, logger)
		}
		return &ConflictError{Op: "rebase", Files: files}
	}

	if dirty {
		restoreStash(ctx, r, logger)
	}
	return nil
}

// MergeFrom merges ref into the current branch with the same stash safety
// as RebaseOnto. Used by the mainline merge-in path, where history is not
// rewritten and a plain push suffices afterwards.
func MergeFrom(ctx context.Context, r *shell.Runner, ref, message string, logger *slog.Logger) error {
	dirty, err := gitops.IsDirty(ctx, r)
	if err != nil {
		return err
	}
	if dirty {
		if err := gitops.StashSave(ctx, r, "pre-merge"); err != nil {
			return err
		}
	}

	hasConflicts, err := gitops.MergeBranch(ctx, r, ref, message)
	if err != nil {
		if dirty {
			restoreStash(ctx, r, logger)
		}
		return err
	}

	if hasConflicts {
		files, _ := gitops.ConflictFiles(ctx, r)
		if abortErr := gitops.AbortMerge(ctx, r); abortErr != nil {
			return abortErr
		}
		if dirty {
			restoreStash(ctx, r, logger)
		}
		return &ConflictError{Op: "merge", Files: files}
	}

	if dirty {
		restoreStash(ctx, r, logger)
	}
	return nil
}

func restoreStash(ctx context.Context, r *shell.Runner, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := gitops.StashPop(ctx, r); err != nil {
		// The stash entry is preserved by git on pop conflict.
		logger.Warn("restoring stash after rebase", "error", err)
	}
}
