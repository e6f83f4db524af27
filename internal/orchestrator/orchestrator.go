// Package orchestrator drives issues through the pipeline: derive the phase
// from remote and local state, run the gates, resolve staleness and
// divergence, act on the phase, and merge when the issue is ready.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mergeflow/mergeflow/internal/activity"
	"github.com/mergeflow/mergeflow/internal/agent"
	"github.com/mergeflow/mergeflow/internal/config"
	"github.com/mergeflow/mergeflow/internal/divergence"
	"github.com/mergeflow/mergeflow/internal/gate"
	"github.com/mergeflow/mergeflow/internal/github"
	"github.com/mergeflow/mergeflow/internal/gitops"
	"github.com/mergeflow/mergeflow/internal/phase"
	"github.com/mergeflow/mergeflow/internal/session"
	"github.com/mergeflow/mergeflow/internal/shell"
	"github.com/mergeflow/mergeflow/internal/stale"
)

// Issue is one unit of work flowing through the pipeline.
type Issue struct {
	ID     string
	Title  string
	Body   string
	Branch string
}

// API is the code-hosting surface the orchestrator needs.
type API interface {
	FindOpenPR(ctx context.Context, owner, repo, head, base string) (*github.PR, error)
	CreatePR(ctx context.Context, owner, repo string, np github.NewPR) (github.PR, error)
	FetchPR(ctx context.Context, owner, repo string, prNumber int) (github.PR, error)
	FetchPRComments(ctx context.Context, owner, repo string, prNumber int) ([]github.Comment, error)
	PostPRComment(ctx context.Context, owner, repo string, prNumber int, body string) (github.Comment, error)
	ListPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]github.ChangedFile, error)
	MergePR(ctx context.Context, owner, repo string, prNumber int, expectedHeadSHA, commitMsg string) error
}

// AgentRunner invokes the coding agent for one pass.
type AgentRunner interface {
	Invoke(ctx context.Context, opts agent.InvokeOpts) (string, error)
}

// Recorder appends to the activity log. A nil Recorder disables recording.
type Recorder interface {
	Record(issue, eventType, fromPhase, toPhase, detail string) error
}

// Outcome is the terminal result of processing one issue.
type Outcome string

const (
	OutcomeMerged     Outcome = "merged"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeBatchStop  Outcome = "batch_stop"
	OutcomeInProgress Outcome = "in_progress"
)

// Config holds the orchestrator dependencies.
type Config struct {
	Cfg        *config.Config
	API        API
	Agent      AgentRunner
	Gate       *gate.Gate
	Divergence *divergence.Resolver
	Stale      *stale.Manager
	Session    *session.Store
	Notes      *session.Notes
	Activity   Recorder
	Prompter   divergence.Prompter
	Notifier   divergence.Notifier
	Logger     *slog.Logger
}

// Orchestrator drives the per-issue pipeline and the batch loop.
type Orchestrator struct {
	cfg    *config.Config
	api    API
	agent  AgentRunner
	gate   *gate.Gate
	div    *divergence.Resolver
	stale  *stale.Manager
	sess   *session.Store
	notes  *session.Notes
	rec    Recorder
	prompt divergence.Prompter
	notify divergence.Notifier
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(c Config) *Orchestrator {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    c.Cfg,
		api:    c.API,
		agent:  c.Agent,
		gate:   c.Gate,
		div:    c.Divergence,
		stale:  c.Stale,
		sess:   c.Session,
		notes:  c.Notes,
		rec:    c.Activity,
		prompt: c.Prompter,
		notify: c.Notifier,
		logger: logger,
	}
}

// maxCyclesPerIssue bounds the derive-act loop for one issue so a phase that
// never advances cannot spin forever.
const maxCyclesPerIssue = 20

// RunBatch processes issues in order. A batch-blocking blocker or an
// exhausted session limit stops the whole batch; any other blocker fails
// only the current issue.
func (o *Orchestrator) RunBatch(ctx context.Context, issues []Issue) error {
	blocker, err := o.gate.Evaluate(ctx, gate.StagePreStart, gate.Params{})
	if err != nil {
		return err
	}
	if blocker != nil {
		proceed, err := o.handleBlocker(ctx, "session", blocker)
		if err != nil {
			return err
		}
		if !proceed {
			o.logger.Info("batch not started", "blocker", blocker.Type, "details", blocker.Details)
			return nil
		}
	}

	for _, issue := range issues {
		blocker, err := o.gate.Evaluate(ctx, gate.StageSessionCheck, gate.Params{Issue: issue.ID})
		if err != nil {
			return err
		}
		if blocker != nil {
			proceed, err := o.handleBlocker(ctx, issue.ID, blocker)
			if err != nil {
				return err
			}
			if !proceed {
				if blocker.BatchBlocking {
					o.logger.Info("batch stopped", "blocker", blocker.Type, "details", blocker.Details)
					return nil
				}
				o.recordEvent(issue.ID, activity.EventGate, "", "", blocker.Type)
				continue
			}
		}

		outcome, err := o.ProcessIssue(ctx, issue)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			o.logger.Error("issue failed", "issue", issue.ID, "error", err)
			if ferr := o.sess.IncrementFailed(); ferr != nil {
				o.logger.Warn("recording failed issue", "error", ferr)
			}
			continue
		}
		if outcome == OutcomeBatchStop {
			return nil
		}
	}
	return nil
}

// ProcessIssue runs derive-act cycles for one issue until it merges, blocks,
// or runs out of cycles.
func (o *Orchestrator) ProcessIssue(ctx context.Context, issue Issue) (Outcome, error) {
	wtPath := o.worktreePath(issue)
	if err := o.ensureWorktree(ctx, issue, wtPath); err != nil {
		return "", err
	}
	if err := o.sess.SetCurrent(issue.ID, wtPath); err != nil {
		return "", err
	}
	if o.notes != nil {
		if err := o.notes.SetCurrentWork(fmt.Sprintf("%s: %s", issue.ID, issue.Title)); err != nil {
			o.logger.Warn("updating notes", "error", err)
		}
	}

	outcome, err := o.runCycles(ctx, &shell.Runner{Dir: wtPath}, issue)
	// Cancellation surfaces wherever the cycle happened to be, including mid
	// agent pass; snapshot once here so every interrupted path is captured.
	if err != nil && ctx.Err() != nil {
		o.snapshotInterrupt(issue, wtPath, "context cancelled")
		return "", ctx.Err()
	}
	return outcome, err
}

// runCycles is the derive-act loop for one issue.
func (o *Orchestrator) runCycles(ctx context.Context, r *shell.Runner, issue Issue) (Outcome, error) {
	lastPhase := phase.Phase("")

	for cycle := 0; cycle < maxCyclesPerIssue; cycle++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		res, pr, comments, err := o.derivePhase(ctx, r, issue)
		if err != nil {
			return "", err
		}
		if res.Phase != lastPhase {
			o.recordEvent(issue.ID, activity.EventPhaseChange, string(lastPhase), string(res.Phase), "")
			lastPhase = res.Phase
		}
		o.logger.Info("phase resolved", "issue", issue.ID, "phase", res.Phase)

		// Staleness and divergence only matter once a branch exists.
		if res.Phase != phase.NotStarted {
			outcome, restarted, err := o.checkStaleAndDivergence(ctx, r, issue, pr, comments)
			if err != nil {
				return "", err
			}
			if restarted {
				lastPhase = ""
				continue
			}
			if outcome != "" {
				return outcome, nil
			}
		}

		done, outcome, err := o.act(ctx, r, issue, res, pr, comments)
		if err != nil {
			return "", err
		}
		if done {
			return outcome, nil
		}
	}

	return OutcomeInProgress, nil
}

// derivePhase gathers the remote and local inputs and resolves the phase.
// A failed comment read degrades to RemoteReadFailed instead of erroring.
func (o *Orchestrator) derivePhase(ctx context.Context, r *shell.Runner, issue Issue) (phase.Result, *github.PR, []github.Comment, error) {
	pr, err := o.api.FindOpenPR(ctx, o.cfg.Repo.Owner, o.cfg.Repo.Name, issue.Branch, o.cfg.Repo.Mainline)
	if err != nil {
		return phase.Result{}, nil, nil, fmt.Errorf("finding PR for %s: %w", issue.Branch, err)
	}

	in := phase.Input{PR: pr, Mainline: o.cfg.Repo.Mainline}

	if pr != nil {
		comments, err := o.api.FetchPRComments(ctx, o.cfg.Repo.Owner, o.cfg.Repo.Name, pr.Number)
		if err != nil {
			o.logger.Warn("fetching PR comments failed; degrading", "issue", issue.ID, "error", err)
			in.RemoteReadFailed = true
		} else {
			in.Comments = comments
		}

		localHead, err := gitops.LocalHead(ctx, r)
		if err != nil {
			return phase.Result{}, nil, nil, err
		}
		in.LocalHead = localHead
		if tracking, err := gitops.RemoteHead(ctx, r, issue.Branch); err == nil {
			in.TrackingHead = tracking
		}
		commits, err := gitops.RecentCommits(ctx, r, 50)
		if err != nil {
			return phase.Result{}, nil, nil, err
		}
		in.Commits = commits
	}

	return phase.Resolve(in), pr, in.Comments, nil
}

// checkStaleAndDivergence runs the staleness check then divergence
// detection. It returns a non-empty Outcome when the issue is finished
// (blocked), restarted=true when all per-issue state must be rebuilt.
func (o *Orchestrator) checkStaleAndDivergence(ctx context.Context, r *shell.Runner, issue Issue, pr *github.PR, comments []github.Comment) (Outcome, bool, error) {
	wt, err := gitops.InspectWorktree(ctx, r.Dir, issue.Branch, o.cfg.Repo.Mainline)
	if err != nil {
		return "", false, err
	}

	staleRes, err := o.stale.Check(ctx, r, wt, pr, issue.ID)
	if err != nil {
		return "", false, err
	}
	switch staleRes.Kind {
	case stale.Restarted:
		o.recordEvent(issue.ID, activity.EventStale, "", "", staleRes.Reason)
		if err := o.ensureWorktree(ctx, issue, r.Dir); err != nil {
			return "", false, err
		}
		return "", true, nil
	case stale.Blocked:
		o.recordEvent(issue.ID, activity.EventStale, "", "", staleRes.Reason)
		return OutcomeBlocked, false, nil
	}

	rep, err := o.div.Detect(ctx, r, issue.Branch)
	if err != nil {
		return "", false, err
	}
	if rep == nil {
		return "", false, nil
	}

	cls, err := o.div.Classify(ctx, r, rep, divergence.IssueContext{
		Issue: issue.ID, Title: issue.Title, Body: issue.Body,
	})
	if err != nil {
		return "", false, err
	}
	reviewed := divergence.Reviewed(phase.LatestAssessment(comments), rep.Foreign)

	out, err := o.div.Resolve(ctx, r, rep, cls, reviewed)
	if err != nil {
		return "", false, err
	}
	o.recordEvent(issue.ID, activity.EventDivergence, "", "", fmt.Sprintf("%s: %s", cls, out.Kind))

	switch out.Kind {
	case divergence.Blocked:
		return OutcomeBlocked, false, nil
	case divergence.NeedsReReview:
		// The next derive cycle sees the stale review and reruns it.
		return "", false, nil
	}
	return "", false, nil
}

// act performs the phase's action. done=true ends the issue with the given
// outcome; done=false continues with the next derive cycle.
func (o *Orchestrator) act(ctx context.Context, r *shell.Runner, issue Issue, res phase.Result, pr *github.PR, comments []github.Comment) (bool, Outcome, error) {
	switch res.Phase {
	case phase.NotStarted:
		return false, "", o.startWork(ctx, r, issue)

	case phase.DevPR:
		return false, "", o.continueDev(ctx, r, issue)

	case phase.NeedsReview, phase.ReviewStale:
		return false, "", o.runReview(ctx, r, issue, pr)

	case phase.NeedsAssessment:
		return false, "", o.runAssessment(ctx, r, issue, pr, comments)

	case phase.NeedsFixes:
		return false, "", o.runFixes(ctx, r, issue, res.ActionableFindings, comments)

	case phase.ReadyToMerge:
		return o.merge(ctx, issue, pr, comments)
	}
	return false, "", fmt.Errorf("unhandled phase %q", res.Phase)
}

func (o *Orchestrator) startWork(ctx context.Context, r *shell.Runner, issue Issue) error {
	out, err := o.invokeAgent(ctx, agent.InvokeOpts{
		Prompt: implementPrompt(issue),
		Dir:    r.Dir,
	}, issue)
	if err != nil {
		return fmt.Errorf("implementation pass: %w", err)
	}
	o.logger.Debug("implementation pass finished", "issue", issue.ID, "output_bytes", len(out))

	dirty, err := gitops.IsDirty(ctx, r)
	if err != nil {
		return err
	}
	if dirty {
		if err := gitops.CommitAll(ctx, r, fmt.Sprintf("%s: %s", issue.ID, issue.Title)); err != nil {
			return err
		}
	}
	if err := o.pushResolvingDivergence(ctx, r, issue); err != nil {
		return err
	}

	_, err = o.api.CreatePR(ctx, o.cfg.Repo.Owner, o.cfg.Repo.Name, github.NewPR{
		Title: fmt.Sprintf("%s: %s", issue.ID, issue.Title),
		Body:  issue.Body,
		Head:  issue.Branch,
		Base:  o.cfg.Repo.Mainline,
		Draft: true,
	})
	if err != nil {
		return fmt.Errorf("opening PR: %w", err)
	}
	return nil
}

func (o *Orchestrator) continueDev(ctx context.Context, r *shell.Runner, issue Issue) error {
	out, err := o.invokeAgent(ctx, agent.InvokeOpts{
		Prompt: continuePrompt(issue),
		Dir:    r.Dir,
	}, issue)
	if err != nil {
		return fmt.Errorf("development pass: %w", err)
	}
	o.logger.Debug("development pass finished", "issue", issue.ID, "output_bytes", len(out))

	dirty, err := gitops.IsDirty(ctx, r)
	if err != nil {
		return err
	}
	if dirty {
		if err := gitops.CommitAll(ctx, r, fmt.Sprintf("wip %s", issue.ID)); err != nil {
			return err
		}
	}
	return o.pushResolvingDivergence(ctx, r, issue)
}

func (o *Orchestrator) runReview(ctx context.Context, r *shell.Runner, issue Issue, pr *github.PR) error {
	var hintText string
	files, err := o.api.ListPRFiles(ctx, o.cfg.Repo.Owner, o.cfg.Repo.Name, pr.Number)
	if err != nil {
		o.logger.Warn("listing PR files for hints", "issue", issue.ID, "error", err)
	} else {
		paths := make([]string, len(files))
		var patches strings.Builder
		for i, f := range files {
			paths[i] = f.Path
			patches.WriteString(f.Patch)
			patches.WriteString("\n")
		}
		hintText = gate.RenderHints(o.gate.Hints(paths, patches.String()))
	}

	out, err := o.agent.Invoke(ctx, agent.InvokeOpts{
		Prompt: reviewPrompt(issue, hintText),
		Dir:    r.Dir,
	})
	if err != nil {
		return fmt.Errorf("review pass: %w", err)
	}

	body := strings.TrimSpace(out) + "\n\n" + phase.ReviewMarker
	if _, err := o.api.PostPRComment(ctx, o.cfg.Repo.Owner, o.cfg.Repo.Name, pr.Number, body); err != nil {
		return err
	}

	if rec := phase.LatestReview([]github.Comment{{Body: body}}); rec != nil && rec.Critical > 0 && o.notes != nil {
		entry := fmt.Sprintf("%s: %d critical finding(s) in review", issue.ID, rec.Critical)
		if err := o.notes.AddSecurityFinding(entry); err != nil {
			o.logger.Warn("updating notes", "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) runAssessment(ctx context.Context, r *shell.Runner, issue Issue, pr *github.PR, comments []github.Comment) error {
	review := phase.LatestReview(comments)
	if review == nil {
		return fmt.Errorf("assessment requested without a review on PR #%d", pr.Number)
	}

	out, err := o.agent.Invoke(ctx, agent.InvokeOpts{
		Prompt: assessmentPrompt(issue, review.Body),
		Dir:    r.Dir,
	})
	if err != nil {
		return fmt.Errorf("assessment pass: %w", err)
	}

	// Pin the assessment to the head it was produced against: the remote
	// head as the PR reports it right now.
	current, err := o.api.FetchPR(ctx, o.cfg.Repo.Owner, o.cfg.Repo.Name, pr.Number)
	if err != nil {
		return err
	}

	body := strings.TrimSpace(out) + "\n\n" + phase.AssessmentMarker(current.HeadSHA)
	_, err = o.api.PostPRComment(ctx, o.cfg.Repo.Owner, o.cfg.Repo.Name, pr.Number, body)
	return err
}

func (o *Orchestrator) runFixes(ctx context.Context, r *shell.Runner, issue Issue, actionable int, comments []github.Comment) error {
	blocker, err := o.gate.Evaluate(ctx, gate.StagePreCommit, gate.Params{Issue: issue.ID})
	if err != nil {
		return err
	}
	if blocker != nil {
		return fmt.Errorf("pre-commit gate: %s", blocker.Details)
	}

	assessment := phase.LatestAssessment(comments)
	if assessment == nil {
		return fmt.Errorf("fixes requested without an assessment")
	}

	out, err := o.invokeAgent(ctx, agent.InvokeOpts{
		Prompt: fixesPrompt(issue, actionable, assessment.Body),
		Dir:    r.Dir,
	}, issue)
	if err != nil {
		return fmt.Errorf("fix pass: %w", err)
	}
	o.logger.Debug("fix pass finished", "issue", issue.ID, "output_bytes", len(out))

	dirty, err := gitops.IsDirty(ctx, r)
	if err != nil {
		return err
	}
	if dirty {
		if err := gitops.CommitAll(ctx, r, "address review feedback"); err != nil {
			return err
		}
	}
	return o.pushResolvingDivergence(ctx, r, issue)
}

// merge runs the pre-merge gate then squash-merges with the assessed head as
// a precondition, so commits that were never assessed cannot slip into
// mainline.
func (o *Orchestrator) merge(ctx context.Context, issue Issue, pr *github.PR, comments []github.Comment) (bool, Outcome, error) {
	review := phase.LatestReview(comments)
	blocker, err := o.gate.Evaluate(ctx, gate.StagePreMerge, gate.Params{Issue: issue.ID, Review: review})
	if err != nil {
		return false, "", err
	}
	if blocker != nil {
		proceed, err := o.handleBlocker(ctx, issue.ID, blocker)
		if err != nil {
			return false, "", err
		}
		if !proceed {
			return true, OutcomeBlocked, nil
		}
	}

	assessment := phase.LatestAssessment(comments)
	if assessment == nil {
		return false, "", fmt.Errorf("merge requested without an assessment")
	}
	expectedHead := assessment.HeadSHA
	if expectedHead == "" {
		expectedHead = pr.HeadSHA
	}

	commitMsg := fmt.Sprintf("%s: %s", issue.ID, issue.Title)
	err = o.api.MergePR(ctx, o.cfg.Repo.Owner, o.cfg.Repo.Name, pr.Number, expectedHead, commitMsg)
	if err != nil {
		// A moved head fails the SHA precondition; the next cycle sees the
		// new commits and reruns review.
		o.logger.Warn("merge rejected; head moved since assessment", "issue", issue.ID, "error", err)
		o.recordEvent(issue.ID, activity.EventMerge, "", "", "rejected: head moved")
		return false, "", nil
	}

	o.recordEvent(issue.ID, activity.EventMerge, "", "", fmt.Sprintf("PR #%d merged", pr.Number))
	if err := o.sess.IncrementCompleted(); err != nil {
		return false, "", err
	}
	if err := o.sess.ClearSnapshot(issue.ID); err != nil {
		o.logger.Warn("clearing snapshot", "issue", issue.ID, "error", err)
	}
	if o.notes != nil {
		if err := o.notes.AddCompleted(fmt.Sprintf("%s: %s", issue.ID, issue.Title)); err != nil {
			o.logger.Warn("updating notes", "error", err)
		}
	}
	return true, OutcomeMerged, nil
}

// pushResolvingDivergence pushes and, when the remote rejects because it
// moved, runs one divergence detection/resolution round before giving up.
func (o *Orchestrator) pushResolvingDivergence(ctx context.Context, r *shell.Runner, issue Issue) error {
	err := gitops.Push(ctx, r, issue.Branch)
	if err == nil {
		return nil
	}
	var exitErr *shell.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}

	rep, detErr := o.div.Detect(ctx, r, issue.Branch)
	if detErr != nil {
		return detErr
	}
	if rep == nil {
		return err
	}
	cls, clsErr := o.div.Classify(ctx, r, rep, divergence.IssueContext{
		Issue: issue.ID, Title: issue.Title, Body: issue.Body,
	})
	if clsErr != nil {
		return clsErr
	}
	out, resErr := o.div.Resolve(ctx, r, rep, cls, false)
	if resErr != nil {
		return resErr
	}
	if out.Kind == divergence.Blocked {
		return fmt.Errorf("push rejected and divergence blocked: %s", out.Reason)
	}
	return nil
}

// handleBlocker applies approval memoization: a pair the operator already
// approved passes silently; otherwise attended mode asks once and persists
// the answer, unattended mode notifies (deduped) and fails closed.
func (o *Orchestrator) handleBlocker(ctx context.Context, issueID string, b *gate.Blocker) (bool, error) {
	approved, err := o.sess.HasApprovedBlocker(issueID, b.Type)
	if err != nil {
		return false, err
	}
	if approved {
		o.logger.Info("blocker previously approved", "issue", issueID, "blocker", b.Type)
		return true, nil
	}

	o.recordEvent(issueID, activity.EventGate, "", "", b.Type+": "+b.Details)

	if o.cfg.Mode == config.ModeUnattended {
		if o.notify != nil {
			d := &dedupNotify{inner: o.notify, sess: o.sess, issue: issueID, kind: b.Type}
			if err := d.Notify(ctx, fmt.Sprintf("blocked: %s (%s)", b.Details, b.Type), string(b.Urgency)); err != nil {
				o.logger.Warn("sending blocker notification", "error", err)
			}
		}
		return false, nil
	}

	const (
		optProceed = "approve and proceed"
		optStop    = "stop"
	)
	choice, err := o.prompt.Choose(ctx, fmt.Sprintf("%s: %s", b.Type, b.Details), []string{optProceed, optStop})
	if err != nil {
		return false, fmt.Errorf("prompting for blocker approval: %w", err)
	}
	if choice != optProceed {
		return false, nil
	}
	if err := o.sess.AddApprovedBlocker(issueID, b.Type); err != nil {
		return false, err
	}
	return true, nil
}

// invokeAgent runs one agent pass. A killed-on-timeout child is not fatal:
// the partial work left in the tree is committed and pushed like any other
// pass, so nothing the agent produced is lost.
func (o *Orchestrator) invokeAgent(ctx context.Context, opts agent.InvokeOpts, issue Issue) (string, error) {
	out, err := o.agent.Invoke(ctx, opts)
	var timedOut *shell.ErrTimedOut
	if errors.As(err, &timedOut) {
		o.logger.Warn("agent timed out; continuing with work in progress",
			"issue", issue.ID, "after", timedOut.After)
		return out, nil
	}
	return out, err
}

// snapshotInterrupt commits any work in progress and writes the per-issue
// interrupt snapshot with current git state, best effort.
func (o *Orchestrator) snapshotInterrupt(issue Issue, wtPath, reason string) {
	r := &shell.Runner{Dir: wtPath}
	ctx := context.Background()

	if dirty, err := gitops.IsDirty(ctx, r); err == nil && dirty {
		if err := gitops.CommitAll(ctx, r, fmt.Sprintf("wip %s (interrupted)", issue.ID)); err != nil {
			o.logger.Warn("committing work in progress before snapshot", "issue", issue.ID, "error", err)
		}
	}

	status, err := gitops.StatusPorcelain(ctx, r)
	if err != nil {
		o.logger.Warn("reading git status for snapshot", "error", err)
	}
	var lastCommit string
	if commits, err := gitops.RecentCommits(ctx, r, 1); err == nil && len(commits) > 0 {
		lastCommit = commits[0].SHA + " " + commits[0].Subject
	}

	if err := o.sess.WriteSnapshot(issue.ID, reason, wtPath, status, lastCommit); err != nil {
		o.logger.Error("writing interrupt snapshot", "issue", issue.ID, "error", err)
		return
	}
	o.logger.Info("interrupt snapshot written", "issue", issue.ID, "reason", reason)
}

func (o *Orchestrator) worktreePath(issue Issue) string {
	return filepath.Join(o.cfg.Repo.Path, ".mergeflow", "worktrees", issue.ID)
}

// ensureWorktree creates the issue's worktree and branch when missing.
func (o *Orchestrator) ensureWorktree(ctx context.Context, issue Issue, wtPath string) error {
	r := &shell.Runner{Dir: wtPath}
	if _, err := gitops.LocalHead(ctx, r); err == nil {
		return nil
	}
	if err := gitops.AddWorktree(ctx, o.cfg.Repo.Path, wtPath, issue.Branch, o.cfg.Repo.Mainline); err != nil {
		return fmt.Errorf("creating worktree for %s: %w", issue.ID, err)
	}
	return nil
}

func (o *Orchestrator) recordEvent(issue, eventType, from, to, detail string) {
	if o.rec == nil {
		return
	}
	if err := o.rec.Record(issue, eventType, from, to, detail); err != nil {
		o.logger.Warn("recording activity", "issue", issue, "error", err)
	}
}

// dedupNotify adapts the session store's notification dedup to a notifier.
type dedupNotify struct {
	inner divergence.Notifier
	sess  *session.Store
	issue string
	kind  string
}

func (d *dedupNotify) Notify(ctx context.Context, message, urgency string) error {
	sent, err := d.sess.WasNotified(d.issue, d.kind)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}
	if err := d.inner.Notify(ctx, message, urgency); err != nil {
		return err
	}
	return d.sess.MarkNotified(d.issue, d.kind)
}
