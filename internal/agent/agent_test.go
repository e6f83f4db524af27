package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mergeflow/mergeflow/internal/divergence"
	"github.com/mergeflow/mergeflow/internal/gitops"
	"github.com/mergeflow/mergeflow/internal/shell"
)

// fakeAgent writes a script that stands in for the agent CLI and returns its
// path. The script ignores the flags the invoker passes.
func fakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInvoke_ReturnsOutput(t *testing.T) {
	iv := NewInvoker(fakeAgent(t, "echo done"), time.Minute, nil)
	out, err := iv.Invoke(context.Background(), InvokeOpts{Prompt: "do things"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "done\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestInvoke_PromptPipedToStdin(t *testing.T) {
	iv := NewInvoker(fakeAgent(t, "cat"), time.Minute, nil)
	out, err := iv.Invoke(context.Background(), InvokeOpts{Prompt: "the prompt\n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "the prompt\n" {
		t.Errorf("expected prompt on stdin, got %q", out)
	}
}

func TestInvoke_Timeout_ReturnsPartial(t *testing.T) {
	iv := NewInvoker(fakeAgent(t, "echo partial; sleep 5"), 100*time.Millisecond, nil)
	out, err := iv.Invoke(context.Background(), InvokeOpts{Prompt: "x"})

	var timedOut *shell.ErrTimedOut
	if !errors.As(err, &timedOut) {
		t.Fatalf("expected *ErrTimedOut, got %T: %v", err, err)
	}
	if out != "partial\n" {
		t.Errorf("expected partial output preserved, got %q", out)
	}
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs(InvokeOpts{})
	want := []string{"--dangerously-skip-permissions", "--print"}
	if len(args) != len(want) {
		t.Fatalf("unexpected args: %v", args)
	}

	args = buildArgs(InvokeOpts{MaxTurns: 3})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--max-turns 3") {
		t.Errorf("expected max-turns flag, got %v", args)
	}
}

func TestLastNonEmptyLine(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"TRIVIAL", "TRIVIAL"},
		{"reasoning...\n\nRELATED\n\n", "RELATED"},
		{"  UNRELATED  \n", "UNRELATED"},
		{"", ""},
	}
	for _, c := range cases {
		if got := lastNonEmptyLine(c.in); got != c.want {
			t.Errorf("lastNonEmptyLine(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func classifyRequest() divergence.Request {
	return divergence.Request{
		Issue:   divergence.IssueContext{Issue: "ISSUE-1", Title: "Add widget"},
		Commits: []gitops.Commit{{Subject: "tweak config", Author: "Alice"}},
	}
}

func TestClassify_ParsesVerdictFromLastLine(t *testing.T) {
	iv := NewInvoker(fakeAgent(t, "echo 'these look like sync commits'; echo trivial"), time.Minute, nil)
	c := NewClassifier(iv, t.TempDir())

	cls, err := c.Classify(context.Background(), classifyRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cls != divergence.Trivial {
		t.Errorf("expected trivial, got %s", cls)
	}
}

func TestClassify_UnparseableAnswer_Errors(t *testing.T) {
	iv := NewInvoker(fakeAgent(t, "echo 'it depends'"), time.Minute, nil)
	c := NewClassifier(iv, t.TempDir())

	if _, err := c.Classify(context.Background(), classifyRequest()); err == nil {
		t.Fatal("expected error for unparseable answer")
	}
}

func TestClassifyPrompt_IncludesCommitsAndVocabulary(t *testing.T) {
	req := divergence.Request{
		Issue: divergence.IssueContext{Issue: "ISSUE-1", Title: "Add widget", Body: "details"},
		Commits: []gitops.Commit{
			{Subject: "first change", Author: "Alice"},
			{Subject: "second change", Author: "Bob"},
		},
		DiffSummary: "2 files changed",
	}
	p := classifyPrompt(req)

	for _, frag := range []string{"ISSUE-1", "first change", "second change", "2 files changed",
		"TRIVIAL", "RELATED", "UNRELATED"} {
		if !strings.Contains(p, frag) {
			t.Errorf("expected prompt to contain %q", frag)
		}
	}
}
