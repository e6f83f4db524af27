// Package prompt implements the attended-mode question surface and its
// unattended stand-in.
package prompt

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
)

// Huh asks the operator to pick one of the offered options in the terminal.
type Huh struct{}

// Choose presents a select prompt and returns the chosen option.
func (Huh) Choose(ctx context.Context, title string, options []string) (string, error) {
	opts := make([]huh.Option[string], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o, o)
	}

	var selected string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(opts...).
			Value(&selected),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return "", fmt.Errorf("selection cancelled")
	}
	return selected, nil
}

// Fixed always answers with the same option. Unattended mode uses it so
// code paths that reach a prompt fail loudly instead of hanging.
type Fixed struct {
	Answer string
}

// Choose returns the fixed answer if it is among the options, or an error.
func (f Fixed) Choose(ctx context.Context, title string, options []string) (string, error) {
	for _, o := range options {
		if o == f.Answer {
			return o, nil
		}
	}
	return "", fmt.Errorf("no operator available to answer %q", title)
}
