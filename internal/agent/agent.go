// Package agent runs the coding-agent CLI as a child process and adapts it
// to the narrow capabilities the pipeline needs, such as divergence
// classification.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mergeflow/mergeflow/internal/divergence"
	"github.com/mergeflow/mergeflow/internal/shell"
)

// InvokeOpts configures one agent invocation.
type InvokeOpts struct {
	// Prompt is piped to the agent's stdin.
	Prompt string

	// Dir is the working directory for the agent process.
	Dir string

	// MaxTurns limits the number of agentic turns (--max-turns flag).
	MaxTurns int
}

// Invoker runs the agent command with a hard timeout and a heartbeat log
// while the child is alive.
type Invoker struct {
	command string
	timeout time.Duration
	logger  *slog.Logger
}

// NewInvoker creates an Invoker. Command defaults to "claude" and timeout
// to 30 minutes.
func NewInvoker(command string, timeout time.Duration, logger *slog.Logger) *Invoker {
	if command == "" {
		command = "claude"
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{command: command, timeout: timeout, logger: logger}
}

// heartbeatInterval is how often the invoker logs that the child is still
// running, so long unattended runs are visibly alive.
const heartbeatInterval = 2 * time.Minute

// Invoke runs the agent in non-interactive print mode and returns its
// output. On timeout the partial output is returned alongside the error.
func (iv *Invoker) Invoke(ctx context.Context, opts InvokeOpts) (string, error) {
	r := &shell.Runner{Dir: opts.Dir}
	args := buildArgs(opts)

	done := make(chan struct{})
	go iv.heartbeat(done)
	defer close(done)

	start := time.Now()
	out, err := r.RunWithTimeout(ctx, iv.timeout, opts.Prompt, iv.command, args...)
	elapsed := time.Since(start).Round(time.Second)

	var timedOut *shell.ErrTimedOut
	if errors.As(err, &timedOut) {
		iv.logger.Warn("agent killed on timeout",
			"command", iv.command, "after", timedOut.After, "partial_bytes", len(timedOut.Partial))
		return timedOut.Partial, err
	}
	if err != nil {
		return out, fmt.Errorf("invoking agent: %w", err)
	}

	iv.logger.Debug("agent finished", "command", iv.command, "elapsed", elapsed)
	return out, nil
}

func (iv *Invoker) heartbeat(done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			iv.logger.Info("agent still running",
				"command", iv.command, "elapsed", time.Since(started).Round(time.Second))
		}
	}
}

func buildArgs(opts InvokeOpts) []string {
	args := []string{"--dangerously-skip-permissions", "--print"}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	return args
}

// Classifier answers divergence classification questions with a single
// categorical word by delegating to the agent.
type Classifier struct {
	invoker *Invoker
	dir     string
}

// NewClassifier creates a Classifier running in the given directory.
func NewClassifier(invoker *Invoker, dir string) *Classifier {
	return &Classifier{invoker: invoker, dir: dir}
}

// Classify asks the agent whether foreign commits relate to the issue and
// parses the one-word verdict. Anything unparseable is returned as an error
// so the caller applies its mode-dependent default.
func (c *Classifier) Classify(ctx context.Context, req divergence.Request) (divergence.Classification, error) {
	out, err := c.invoker.Invoke(ctx, InvokeOpts{
		Prompt:   classifyPrompt(req),
		Dir:      c.dir,
		MaxTurns: 1,
	})
	if err != nil {
		return "", err
	}

	answer := lastNonEmptyLine(out)
	cls, err := divergence.ParseClassification(strings.ToUpper(answer))
	if err != nil {
		return "", fmt.Errorf("agent classification answer %q: %w", answer, err)
	}
	return cls, nil
}

func classifyPrompt(req divergence.Request) string {
	var b strings.Builder
	b.WriteString("You are classifying commits that appeared on a remote branch while local work was in progress.\n\n")
	fmt.Fprintf(&b, "Issue %s: %s\n", req.Issue.Issue, req.Issue.Title)
	if req.Issue.Body != "" {
		b.WriteString(req.Issue.Body)
		b.WriteString("\n")
	}
	b.WriteString("\nForeign commits (oldest first):\n")
	for _, c := range req.Commits {
		fmt.Fprintf(&b, "- %s by %s\n", c.Subject, c.Author)
	}
	if req.DiffSummary != "" {
		b.WriteString("\nDiff summary:\n")
		b.WriteString(req.DiffSummary)
		b.WriteString("\n")
	}
	b.WriteString("\nAnswer with exactly one word on the last line:\n")
	b.WriteString("TRIVIAL if the commits are pure branch synchronization,\n")
	b.WriteString("RELATED if they belong to this issue's own workflow,\n")
	b.WriteString("UNRELATED otherwise.\n")
	return b.String()
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
