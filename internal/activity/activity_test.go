package activity

import (
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), ".mergeflow", "activity.db"))
	if err != nil {
		t.Fatalf("opening activity log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndList_NewestFirst(t *testing.T) {
	l := openTestLog(t)

	events := []struct{ from, to string }{
		{"not_started", "dev_pr"},
		{"dev_pr", "needs_review"},
		{"needs_review", "needs_assessment"},
	}
	for _, e := range events {
		if err := l.Record("ISSUE-1", EventPhaseChange, e.from, e.to, ""); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := l.List("ISSUE-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ToPhase != "needs_assessment" {
		t.Errorf("expected newest first, got %+v", entries[0])
	}
	if entries[2].FromPhase != "not_started" {
		t.Errorf("expected oldest last, got %+v", entries[2])
	}
}

func TestList_FiltersByIssue(t *testing.T) {
	l := openTestLog(t)
	if err := l.Record("ISSUE-1", EventMerge, "", "", "merged PR #7"); err != nil {
		t.Fatal(err)
	}
	if err := l.Record("ISSUE-2", EventGate, "", "", "credentials invalid"); err != nil {
		t.Fatal(err)
	}

	entries, err := l.List("ISSUE-2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].EventType != EventGate {
		t.Errorf("expected only ISSUE-2 events, got %+v", entries)
	}
}

func TestListRecent_SpansIssuesAndHonorsLimit(t *testing.T) {
	l := openTestLog(t)
	for _, issue := range []string{"ISSUE-1", "ISSUE-2", "ISSUE-3"} {
		if err := l.Record(issue, EventSession, "", "", ""); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := l.ListRecent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected limit applied, got %d entries", len(entries))
	}
	if entries[0].Issue != "ISSUE-3" {
		t.Errorf("expected newest first, got %+v", entries[0])
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deeply", "nested", "activity.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()
	if err := l.Record("ISSUE-1", EventStale, "", "", ""); err != nil {
		t.Fatal(err)
	}
}
