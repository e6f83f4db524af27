package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot captures the full session record plus local repository state for
// one issue at interrupt time, enabling a generated resume procedure.
type Snapshot struct {
	Issue      string    `json:"issue"`
	Reason     string    `json:"reason"`
	Worktree   string    `json:"worktree"`
	TakenAt    time.Time `json:"taken_at"`
	Session    State     `json:"session"`
	GitStatus  string    `json:"git_status"`
	LastCommit string    `json:"last_commit"`
}

// WriteSnapshot persists an interrupt snapshot for the issue, one snapshot
// per issue (newer snapshots replace older ones).
func (s *Store) WriteSnapshot(issue, reason, worktree, gitStatus, lastCommit string) error {
	st, err := s.Load()
	if err != nil {
		return err
	}

	snap := Snapshot{
		Issue:      issue,
		Reason:     reason,
		Worktree:   worktree,
		TakenAt:    time.Now().UTC(),
		Session:    st,
		GitStatus:  gitStatus,
		LastCommit: lastCommit,
	}

	if err := os.MkdirAll(s.snapshotDir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	path := s.snapshotPath(issue)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot returns the persisted snapshot for the issue, or nil when
// none exists.
func (s *Store) ReadSnapshot(issue string) (*Snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(issue))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &snap, nil
}

// ClearSnapshot removes the issue's persisted snapshot, if any.
func (s *Store) ClearSnapshot(issue string) error {
	err := os.Remove(s.snapshotPath(issue))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) snapshotPath(issue string) string {
	return filepath.Join(s.snapshotDir, issue+".json")
}
