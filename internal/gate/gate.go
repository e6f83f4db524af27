// Package gate enforces the layered blocking policy: informational
// sensitivity hints attached to the next review pass, and hard gates that
// halt progression per workflow stage.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mergeflow/mergeflow/internal/phase"
	"github.com/mergeflow/mergeflow/internal/session"
)

// Stage identifies where in the workflow a gate check runs.
type Stage string

const (
	StagePreStart     Stage = "pre-start"
	StagePreCommit    Stage = "pre-commit"
	StagePreMerge     Stage = "pre-merge"
	StageSessionCheck Stage = "session-check"
)

// Urgency grades a blocker for notification purposes.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// Blocker types emitted by the hard gates.
const (
	BlockerCredentials      = "credentials"
	BlockerCriticalFindings = "critical_findings"
	BlockerIssueLimit       = "session_issue_limit"
	BlockerTimeLimit        = "session_time_limit"
)

// Blocker is a hard-gate event. BatchBlocking blockers halt an entire
// queued issue sequence; all others stop only the current issue.
type Blocker struct {
	Type          string
	Urgency       Urgency
	Details       string
	BatchBlocking bool
}

// CredentialProber checks that the configured credentials are still valid.
type CredentialProber interface {
	ValidateCredentials(ctx context.Context, owner, repo string) error
}

// Config holds the gate dependencies.
type Config struct {
	Prober              CredentialProber
	Owner               string
	Repo                string
	Session             *session.Store
	SkipCredentialCheck bool
	Logger              *slog.Logger

	// Extra sensitivity patterns from project config.
	SensitivePaths   []string
	ProtectedScripts []string
}

// Gate evaluates sensitivity hints and hard gates.
type Gate struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Gate.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{cfg: cfg, logger: logger}
}

// Params carries the stage-dependent inputs to Evaluate.
type Params struct {
	Issue        string
	ChangedFiles []string
	DiffContent  string
	Review       *phase.ReviewRecord
}

// Evaluate runs the hard gates for the given stage. A nil Blocker means the
// stage passes. Sensitivity hints never block and are queried separately
// via Hints.
func (g *Gate) Evaluate(ctx context.Context, stage Stage, p Params) (*Blocker, error) {
	switch stage {
	case StagePreStart:
		return g.checkCredentials(ctx)

	case StagePreCommit:
		// No gates defined; extension point.
		return nil, nil

	case StagePreMerge:
		if p.Review != nil && p.Review.Critical > 0 {
			return &Blocker{
				Type:    BlockerCriticalFindings,
				Urgency: UrgencyHigh,
				Details: fmt.Sprintf("latest review has %d CRITICAL finding(s)", p.Review.Critical),
			}, nil
		}
		return nil, nil

	case StageSessionCheck:
		decision, err := g.cfg.Session.ShouldContinue()
		if err != nil {
			return nil, fmt.Errorf("checking session limits: %w", err)
		}
		switch decision {
		case session.TokenLimit:
			return &Blocker{
				Type:          BlockerIssueLimit,
				Urgency:       UrgencyNormal,
				Details:       "completed-issue count reached the session maximum",
				BatchBlocking: true,
			}, nil
		case session.TimeLimit:
			return &Blocker{
				Type:          BlockerTimeLimit,
				Urgency:       UrgencyNormal,
				Details:       "elapsed session time reached the configured maximum",
				BatchBlocking: true,
			}, nil
		}
		return g.checkCredentials(ctx)

	default:
		return nil, fmt.Errorf("unknown gate stage %q", stage)
	}
}

func (g *Gate) checkCredentials(ctx context.Context) (*Blocker, error) {
	if g.cfg.SkipCredentialCheck {
		g.logger.Debug("credential gate skipped by configuration")
		return nil, nil
	}
	if err := g.cfg.Prober.ValidateCredentials(ctx, g.cfg.Owner, g.cfg.Repo); err != nil {
		return &Blocker{
			Type:          BlockerCredentials,
			Urgency:       UrgencyNormal,
			Details:       fmt.Sprintf("credential probe failed: %v", err),
			BatchBlocking: true,
		}, nil
	}
	return nil, nil
}
