// Package phase derives the single pipeline phase of an issue from remote
// PR/comment metadata and local commit history. Resolution is a pure
// function of its inputs; all timestamps are UTC epoch seconds normalized
// at ingestion and never compared as strings.
package phase

import (
	"regexp"
	"strings"

	"github.com/mergeflow/mergeflow/internal/github"
	"github.com/mergeflow/mergeflow/internal/gitops"
)

// Phase is a pipeline phase. Phases are ordered: an issue only ever moves
// forward within one review cycle.
type Phase string

const (
	NotStarted      Phase = "not_started"
	DevPR           Phase = "dev_pr"
	NeedsReview     Phase = "needs_review"
	ReviewStale     Phase = "review_stale"
	NeedsAssessment Phase = "needs_assessment"
	NeedsFixes      Phase = "needs_fixes"
	ReadyToMerge    Phase = "ready_to_merge"
)

// Result is the resolved phase plus the actionable-finding count when the
// phase is NeedsFixes.
type Result struct {
	Phase              Phase
	ActionableFindings int
}

// Input bundles the two eventually-consistent data sources: remote PR and
// comment metadata, and local commit history. RemoteReadFailed marks that
// comment retrieval failed; resolution then degrades to the most
// conservative phase derivable from what is present instead of erroring.
type Input struct {
	PR               *github.PR
	Comments         []github.Comment
	RemoteReadFailed bool

	// LocalHead and TrackingHead come from the local clone. An empty
	// TrackingHead means the remote tracking ref could not be read.
	LocalHead    string
	TrackingHead string

	// Commits are the most recent commits reachable from HEAD, newest
	// first, used for the review-currency comparison.
	Commits []gitops.Commit

	Mainline string
}

// Resolve derives the pipeline phase.
func Resolve(in Input) Result {
	if in.PR == nil {
		return Result{Phase: NotStarted}
	}

	if in.RemoteReadFailed {
		// Comments unavailable: the conservative assumption is that no
		// current review exists, which forces a review pass before any
		// state-changing action.
		return Result{Phase: NeedsReview}
	}

	review := LatestReview(in.Comments)
	if review == nil {
		if in.PR.Draft {
			return Result{Phase: DevPR}
		}
		return Result{Phase: NeedsReview}
	}

	if !reviewCurrent(*review, in) {
		return Result{Phase: ReviewStale}
	}

	assessment := LatestAssessment(in.Comments)
	if assessment == nil || assessment.Epoch <= review.Epoch {
		return Result{Phase: NeedsAssessment}
	}

	if assessment.ActionableNow > 0 {
		return Result{Phase: NeedsFixes, ActionableFindings: assessment.ActionableNow}
	}
	return Result{Phase: ReadyToMerge}
}

// reviewCurrent reports whether the review postdates the latest qualifying
// commit. Unpushed local work (HEAD differing from its remote tracking ref,
// or an unreadable tracking ref) invalidates currency regardless of
// timestamps.
func reviewCurrent(review ReviewRecord, in Input) bool {
	if in.TrackingHead == "" || in.LocalHead != in.TrackingHead {
		return false
	}
	latest, ok := LatestQualifyingCommit(in.Commits, in.Mainline)
	if !ok {
		// No qualifying commit at all: nothing newer than the review.
		return true
	}
	return review.Epoch > latest.AuthorEpoch
}

// LatestQualifyingCommit returns the most recent commit that is not a
// mainline-sync merge, given commits ordered newest first.
func LatestQualifyingCommit(commits []gitops.Commit, mainline string) (gitops.Commit, bool) {
	for _, c := range commits {
		if !IsSyncMerge(c.Subject, mainline) {
			return c, true
		}
	}
	return gitops.Commit{}, false
}

var syncMergeRe = regexp.MustCompile(`^Merge (remote-tracking )?branch '(origin/)?(.+)'`)

// IsSyncMerge reports whether a commit subject is a mainline-sync merge
// commit for the given mainline branch.
func IsSyncMerge(subject, mainline string) bool {
	m := syncMergeRe.FindStringSubmatch(strings.TrimSpace(subject))
	if m == nil {
		return false
	}
	return m[3] == mainline
}
