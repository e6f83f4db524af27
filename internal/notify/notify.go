// Package notify delivers urgency-tagged operator notifications to the
// console, with session-backed dedup so repeated checks of the same issue do
// not repeat the same message.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	normalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	highStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	urgentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// Console writes notifications to a terminal writer, styled by urgency.
type Console struct {
	W io.Writer
}

// NewConsole creates a Console writing to stderr.
func NewConsole() *Console {
	return &Console{W: os.Stderr}
}

// Notify prints the message with an urgency-styled prefix.
func (c *Console) Notify(ctx context.Context, message, urgency string) error {
	style := normalStyle
	switch urgency {
	case "high":
		style = highStyle
	case "urgent":
		style = urgentStyle
	}
	_, err := fmt.Fprintf(c.W, "%s %s\n", style.Render("["+urgency+"]"), message)
	return err
}

// Deduper records sent (issue, notification-type) pairs durably.
type Deduper interface {
	MarkNotified(issue, notificationType string) error
	WasNotified(issue, notificationType string) (bool, error)
}

// Deduped wraps a notifier with per-issue dedup: the same notification type
// for the same issue is delivered once per session-record lifetime.
type Deduped struct {
	Inner interface {
		Notify(ctx context.Context, message, urgency string) error
	}
	Dedup Deduper
	Issue string
	Type  string
}

// Notify delivers the message unless an identical (issue, type) notification
// was already sent.
func (d *Deduped) Notify(ctx context.Context, message, urgency string) error {
	sent, err := d.Dedup.WasNotified(d.Issue, d.Type)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}
	if err := d.Inner.Notify(ctx, message, urgency); err != nil {
		return err
	}
	return d.Dedup.MarkNotified(d.Issue, d.Type)
}
