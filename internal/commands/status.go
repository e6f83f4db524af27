package commands

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/mergeflow/mergeflow/internal/activity"
	"github.com/mergeflow/mergeflow/internal/session"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

// Status prints the current session record and recent activity.
func Status(args []string) error {
	return statusRun(args, os.Stdout)
}

func statusRun(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := AddProjectConfigFlag(fs)
	limit := fs.Int("limit", 10, "Number of activity entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := ResolveConfig(*configPath)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	store := sessionStore(cfg)
	st, err := store.Load()
	if err != nil {
		return err
	}

	if st.ID == "" {
		fmt.Fprintln(w, dimStyle.Render("no session record; run 'mergeflow run' to start one"))
	} else {
		fmt.Fprintf(w, "%s %s (%s)\n", labelStyle.Render("Session:"), valueStyle.Render(st.ID), st.Mode)
		fmt.Fprintf(w, "%s %d completed, %d failed\n", labelStyle.Render("Issues:"), st.Completed, st.Failed)
		if st.CurrentIssue != "" {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Current:"), valueStyle.Render(st.CurrentIssue))
		}
		if st.LimitReached != "" && st.LimitReached != session.Continue {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Limit:"), string(st.LimitReached))
		}
	}

	actLog, err := activity.Open(cfg.ActivityDBPath())
	if err != nil {
		return err
	}
	defer actLog.Close()

	entries, err := actLog.ListRecent(*limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\n%s\n", labelStyle.Render("Recent activity:"))
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-10s %-14s %s",
			e.CreatedAt.Format("2006-01-02 15:04"), e.Issue, e.EventType, e.Detail)
		if e.FromPhase != "" || e.ToPhase != "" {
			line += fmt.Sprintf(" (%s -> %s)", e.FromPhase, e.ToPhase)
		}
		fmt.Fprintln(w, valueStyle.Render(line))
	}
	return nil
}
