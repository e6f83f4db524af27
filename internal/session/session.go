// Package session maintains the single durable record per project clone that
// underlies resumability: resource counters, approvals, notification dedup,
// and interrupt snapshots. The record is shared by all worktrees of a clone;
// writes use atomic temp-file-and-replace, with no locking (two simultaneous
// sessions on one clone are unsupported).
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// State is the persistent session record. Counters reset on Init; the
// approval and notification sets persist across resets.
type State struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	CurrentIssue    string `json:"current_issue,omitempty"`
	CurrentWorktree string `json:"current_worktree,omitempty"`

	// ApprovedBlockers holds "issue|blocker-type" keys a human already
	// approved; the same pair is never re-prompted.
	ApprovedBlockers map[string]bool `json:"approved_blockers,omitempty"`

	// SentNotifications holds "issue|notification-type" dedup keys.
	SentNotifications map[string]bool `json:"sent_notifications,omitempty"`

	// LimitReached records the first limit observed by ShouldContinue so
	// the answer stays monotonic until the next Init.
	LimitReached Decision `json:"limit_reached,omitempty"`
}

// Decision is the outcome of ShouldContinue.
type Decision string

const (
	Continue   Decision = "continue"
	TokenLimit Decision = "token_limit"
	TimeLimit  Decision = "time_limit"
)

// Limits configures the session resource gates.
type Limits struct {
	MaxIssues int
	MaxHours  int
}

// Store persists the session record at a fixed path.
type Store struct {
	path        string
	snapshotDir string
	limits      Limits
}

// NewStore creates a Store for the given session record path.
func NewStore(path, snapshotDir string, limits Limits) *Store {
	return &Store{path: path, snapshotDir: snapshotDir, limits: limits}
}

// Load reads the current record. A missing file yields a zero State.
func (s *Store) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("reading session record: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parsing session record: %w", err)
	}
	return st, nil
}

// Init starts a new session: counters reset, approval and notification sets
// carry forward from any prior record.
func (s *Store) Init(mode string) (State, error) {
	prior, err := s.Load()
	if err != nil {
		return State{}, err
	}

	st := State{
		ID:                uuid.NewString(),
		Mode:              mode,
		StartedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
		ApprovedBlockers:  prior.ApprovedBlockers,
		SentNotifications: prior.SentNotifications,
	}
	if st.ApprovedBlockers == nil {
		st.ApprovedBlockers = map[string]bool{}
	}
	if st.SentNotifications == nil {
		st.SentNotifications = map[string]bool{}
	}

	if err := s.write(st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Mutate applies fn to the current record and writes it back atomically.
func (s *Store) Mutate(fn func(*State)) (State, error) {
	st, err := s.Load()
	if err != nil {
		return State{}, err
	}
	fn(&st)
	st.UpdatedAt = time.Now().UTC()
	if err := s.write(st); err != nil {
		return State{}, err
	}
	return st, nil
}

// write persists the record via temp-file-and-replace so readers never see
// a partial record.
func (s *Store) write(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing session record: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing session record: %w", err)
	}
	return nil
}

// IncrementCompleted bumps the completed-issue counter.
func (s *Store) IncrementCompleted() error {
	_, err := s.Mutate(func(st *State) { st.Completed++ })
	return err
}

// IncrementFailed bumps the failed-issue counter.
func (s *Store) IncrementFailed() error {
	_, err := s.Mutate(func(st *State) { st.Failed++ })
	return err
}

// SetCurrent records the issue and worktree being processed.
func (s *Store) SetCurrent(issue, worktree string) error {
	_, err := s.Mutate(func(st *State) {
		st.CurrentIssue = issue
		st.CurrentWorktree = worktree
	})
	return err
}

// Elapsed returns how long the session has been running.
func (s *Store) Elapsed() (time.Duration, error) {
	st, err := s.Load()
	if err != nil {
		return 0, err
	}
	if st.StartedAt.IsZero() {
		return 0, nil
	}
	return time.Since(st.StartedAt), nil
}

// ShouldContinue reports whether the session may take on more work. The
// answer is monotonic within a session: once a limit is reached, it stays
// reached until the next Init.
func (s *Store) ShouldContinue() (Decision, error) {
	st, err := s.Load()
	if err != nil {
		return Continue, err
	}
	if st.LimitReached != "" && st.LimitReached != Continue {
		return st.LimitReached, nil
	}

	decision := Continue
	switch {
	case s.limits.MaxIssues > 0 && st.Completed >= s.limits.MaxIssues:
		decision = TokenLimit
	case s.limits.MaxHours > 0 && !st.StartedAt.IsZero() &&
		time.Since(st.StartedAt) >= time.Duration(s.limits.MaxHours)*time.Hour:
		decision = TimeLimit
	}

	if decision != Continue {
		if _, err := s.Mutate(func(st *State) { st.LimitReached = decision }); err != nil {
			return decision, err
		}
	}
	return decision, nil
}

func pairKey(issue, kind string) string { return issue + "|" + kind }

// AddApprovedBlocker records a human approval for an (issue, blocker-type)
// pair. The record survives session resets.
func (s *Store) AddApprovedBlocker(issue, blockerType string) error {
	_, err := s.Mutate(func(st *State) {
		if st.ApprovedBlockers == nil {
			st.ApprovedBlockers = map[string]bool{}
		}
		st.ApprovedBlockers[pairKey(issue, blockerType)] = true
	})
	return err
}

// HasApprovedBlocker reports whether the pair was already approved.
func (s *Store) HasApprovedBlocker(issue, blockerType string) (bool, error) {
	st, err := s.Load()
	if err != nil {
		return false, err
	}
	return st.ApprovedBlockers[pairKey(issue, blockerType)], nil
}

// MarkNotified records that a notification of the given type was sent for
// the issue, for dedup.
func (s *Store) MarkNotified(issue, notificationType string) error {
	_, err := s.Mutate(func(st *State) {
		if st.SentNotifications == nil {
			st.SentNotifications = map[string]bool{}
		}
		st.SentNotifications[pairKey(issue, notificationType)] = true
	})
	return err
}

// WasNotified reports whether the (issue, notification-type) pair was
// already sent.
func (s *Store) WasNotified(issue, notificationType string) (bool, error) {
	st, err := s.Load()
	if err != nil {
		return false, err
	}
	return st.SentNotifications[pairKey(issue, notificationType)], nil
}

// Cleanup removes the session record. Snapshots and notes are left in place.
func (s *Store) Cleanup() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
