// Package divergence detects remote-vs-local branch divergence, classifies
// it with an ordered heuristic chain falling through to an injected
// classification capability, and resolves it without ever silently
// discarding foreign commits.
package divergence

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/mergeflow/mergeflow/internal/config"
	"github.com/mergeflow/mergeflow/internal/gitops"
	"github.com/mergeflow/mergeflow/internal/phase"
	"github.com/mergeflow/mergeflow/internal/shell"
)

// Classification of a divergence report.
type Classification string

const (
	// Trivial divergence is pure branch sync; resolving it cannot lose work.
	Trivial Classification = "TRIVIAL"
	// Related foreign commits belong to this issue's own automation flow.
	Related Classification = "RELATED"
	// Unrelated foreign commits are out of scope for this issue.
	Unrelated Classification = "UNRELATED"
)

// Report describes a detected divergence between the local branch and its
// remote counterpart.
type Report struct {
	Branch     string
	LocalHead  string
	RemoteHead string

	// Foreign commits are reachable from the remote head but not the local
	// one, oldest first.
	Foreign []gitops.Commit

	DiffSummary string

	// LocalAhead records that local-only commits exist alongside the
	// foreign ones (genuine three-way divergence). Classification and
	// resolution treat such reports the same as remote-only divergence;
	// the flag is informational.
	LocalAhead bool
}

// IssueContext gives the classifier the issue the branch belongs to.
type IssueContext struct {
	Issue string
	Title string
	Body  string
}

// Request is the input to the injected classification capability.
type Request struct {
	Issue       IssueContext
	Commits     []gitops.Commit
	DiffSummary string
}

// Classifier is the injected classification capability (an LLM or
// equivalent) consulted when the heuristics do not match.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Classification, error)
}

// Prompter chooses among options in attended mode. Unattended mode supplies
// a fixed-answer implementation.
type Prompter interface {
	Choose(ctx context.Context, title string, options []string) (string, error)
}

// Notifier delivers urgency-tagged messages when resolution blocks.
type Notifier interface {
	Notify(ctx context.Context, message, urgency string) error
}

// Resolver detects, classifies, and resolves branch divergence.
type Resolver struct {
	mainline   string
	mode       config.Mode
	classifier Classifier
	prompter   Prompter
	notifier   Notifier
	logger     *slog.Logger
}

// ResolverConfig holds Resolver dependencies.
type ResolverConfig struct {
	Mainline   string
	Mode       config.Mode
	Classifier Classifier
	Prompter   Prompter
	Notifier   Notifier
	Logger     *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		mainline:   cfg.Mainline,
		mode:       cfg.Mode,
		classifier: cfg.Classifier,
		prompter:   cfg.Prompter,
		notifier:   cfg.Notifier,
		logger:     logger,
	}
}

// Detect fetches the remote ref and reports divergence. A nil report means
// none: the branch has no remote counterpart, heads are equal, or local is
// merely ahead (no foreign commits).
func (rs *Resolver) Detect(ctx context.Context, r *shell.Runner, branch string) (*Report, error) {
	if err := gitops.FetchBranch(ctx, r, branch); err != nil {
		return nil, err
	}

	localHead, err := gitops.LocalHead(ctx, r)
	if err != nil {
		return nil, err
	}
	remoteHead, err := gitops.RemoteHead(ctx, r, branch)
	if err != nil {
		// No remote tracking ref: nothing to diverge from.
		rs.logger.Debug("no remote ref for branch", "branch", branch)
		return nil, nil
	}
	if localHead == remoteHead {
		return nil, nil
	}

	foreign, err := gitops.CommitsInRange(ctx, r, localHead, remoteHead)
	if err != nil {
		return nil, err
	}
	if len(foreign) == 0 {
		// Local is merely ahead.
		return nil, nil
	}

	ahead, err := gitops.CountAhead(ctx, r, remoteHead)
	if err != nil {
		return nil, err
	}

	summary, err := gitops.DiffSummary(ctx, r, localHead, remoteHead)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Branch:      branch,
		LocalHead:   localHead,
		RemoteHead:  remoteHead,
		Foreign:     foreign,
		DiffSummary: summary,
		LocalAhead:  ahead > 0,
	}
	if rep.LocalAhead {
		rs.logger.Debug("three-way divergence: local commits ahead alongside foreign commits",
			"branch", branch, "foreign", len(foreign))
	}
	return rep, nil
}

// automationCommitRes match commit subjects authored by the automation
// itself: review-fix commits and WIP auto-commits.
var automationCommitRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^address review feedback`),
	regexp.MustCompile(`(?i)^fix(es)?:? review`),
	regexp.MustCompile(`(?i)^wip\b`),
	regexp.MustCompile(`(?i)^auto-commit\b`),
}

// Classify runs the heuristic chain in order, first match wins, falling
// through to the injected classification capability. Capability failure
// substitutes the mode-dependent safe default: unattended blocks
// (Unrelated), attended asks (Related).
func (rs *Resolver) Classify(ctx context.Context, r *shell.Runner, rep *Report, issue IssueContext) (Classification, error) {
	mainlineRef := "origin/" + rs.mainline

	// 1. All foreign commits already on mainline: pure branch sync.
	allOnMainline := true
	for _, c := range rep.Foreign {
		onMainline, err := gitops.IsAncestor(ctx, r, c.SHA, mainlineRef)
		if err != nil {
			return "", err
		}
		if !onMainline {
			allOnMainline = false
			break
		}
	}
	if allOnMainline {
		return Trivial, nil
	}

	// 2. Foreign commits not on mainline are all mainline-sync merges.
	onlySyncMerges := true
	for _, c := range rep.Foreign {
		onMainline, err := gitops.IsAncestor(ctx, r, c.SHA, mainlineRef)
		if err != nil {
			return "", err
		}
		if onMainline {
			continue
		}
		if !phase.IsSyncMerge(c.Subject, rs.mainline) {
			onlySyncMerges = false
			break
		}
	}
	if onlySyncMerges {
		return Trivial, nil
	}

	// 3. All foreign commits match known automation-authored patterns.
	if allAutomationCommits(rep.Foreign) {
		return Related, nil
	}

	// 4. Injected classification capability.
	cls, err := rs.classifier.Classify(ctx, Request{
		Issue:       issue,
		Commits:     rep.Foreign,
		DiffSummary: rep.DiffSummary,
	})
	if err != nil {
		fallback := Unrelated
		if rs.mode == config.ModeAttended {
			fallback = Related
		}
		rs.logger.Warn("classification capability failed; using mode default",
			"error", err, "fallback", string(fallback))
		return fallback, nil
	}
	return cls, nil
}

func allAutomationCommits(commits []gitops.Commit) bool {
	for _, c := range commits {
		if !matchesAutomation(c.Subject) {
			return false
		}
	}
	return true
}

func matchesAutomation(subject string) bool {
	for _, re := range automationCommitRes {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// Reviewed reports whether the assessment postdates every foreign commit,
// i.e. the foreign work was already seen by a review/assessment pass.
func Reviewed(assessment *phase.AssessmentRecord, foreign []gitops.Commit) bool {
	if assessment == nil {
		return false
	}
	for _, c := range foreign {
		if assessment.Epoch <= c.AuthorEpoch {
			return false
		}
	}
	return true
}

// ParseClassification maps a free-form categorical answer to a
// Classification, erroring on anything unrecognized.
func ParseClassification(s string) (Classification, error) {
	switch Classification(s) {
	case Trivial, Related, Unrelated:
		return Classification(s), nil
	}
	return "", fmt.Errorf("unrecognized classification %q", s)
}
