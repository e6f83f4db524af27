package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestNotes(t *testing.T) *Notes {
	t.Helper()
	return NewNotes(filepath.Join(t.TempDir(), "notes.md"))
}

func TestNotes_SeedIsIdempotent(t *testing.T) {
	n := newTestNotes(t)
	if err := n.Seed(); err != nil {
		t.Fatal(err)
	}
	if err := n.SetCurrentWork("ISSUE-1: something"); err != nil {
		t.Fatal(err)
	}
	if err := n.Seed(); err != nil {
		t.Fatal(err)
	}

	entries, err := n.Section("## Current work")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != "ISSUE-1: something" {
		t.Errorf("expected seed not to overwrite, got %v", entries)
	}
}

func TestNotes_SetCurrentWork_Replaces(t *testing.T) {
	n := newTestNotes(t)
	n.Seed()
	n.SetCurrentWork("first")
	n.SetCurrentWork("second")

	entries, err := n.Section("## Current work")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != "second" {
		t.Errorf("expected replacement, got %v", entries)
	}
}

func TestNotes_SecurityFindings_CappedAtFive(t *testing.T) {
	n := newTestNotes(t)
	n.Seed()
	for i := 1; i <= 7; i++ {
		if err := n.AddSecurityFinding(fmt.Sprintf("finding %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := n.Section("## Security findings")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	if entries[0] != "- finding 7" {
		t.Errorf("expected newest first, got %q", entries[0])
	}
	if entries[4] != "- finding 3" {
		t.Errorf("expected oldest kept to be finding 3, got %q", entries[4])
	}
}

func TestNotes_PreservesFreeformContent(t *testing.T) {
	n := newTestNotes(t)
	n.Seed()

	// An operator adds a custom section by hand.
	data, err := os.ReadFile(n.path)
	if err != nil {
		t.Fatal(err)
	}
	custom := string(data) + "\n## Team conventions\n\n- always squash\n"
	if err := os.WriteFile(n.path, []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}

	if err := n.AddCompleted("ISSUE-9: done"); err != nil {
		t.Fatal(err)
	}

	data, err = os.ReadFile(n.path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "- always squash") {
		t.Error("expected free-form content to survive edits")
	}
	if !strings.Contains(string(data), "- ISSUE-9: done") {
		t.Error("expected completed entry to be written")
	}
}
