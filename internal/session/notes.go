package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// The notes document is free-form markdown shared across all worktrees of a
// clone. Three sections are recognized and maintained by prepend-and-trim;
// anything else in the file is preserved untouched.
const (
	sectionCurrentWork      = "## Current work"
	sectionSecurityFindings = "## Security findings"
	sectionCompleted        = "## Completed"

	maxSecurityFindings = 5
	maxCompletedEntries = 20
)

const notesSeed = `# Pipeline notes

Shared ledger across sessions and worktrees. The sections below are
maintained automatically; add free-form notes anywhere else.

` + sectionCurrentWork + `

` + sectionSecurityFindings + `

` + sectionCompleted + `
`

// Notes maintains the cross-session notes document.
type Notes struct {
	path string
}

// NewNotes creates a Notes handle for the given document path.
func NewNotes(path string) *Notes {
	return &Notes{path: path}
}

// Seed writes the initial document if none exists. Safe to call repeatedly.
func (n *Notes) Seed() error {
	if _, err := os.Stat(n.path); err == nil {
		return nil // already exists
	}
	if err := os.MkdirAll(filepath.Dir(n.path), 0755); err != nil {
		return fmt.Errorf("creating notes directory: %w", err)
	}
	if err := os.WriteFile(n.path, []byte(notesSeed), 0644); err != nil {
		return fmt.Errorf("seeding notes document: %w", err)
	}
	return nil
}

// SetCurrentWork replaces the current-work section body.
func (n *Notes) SetCurrentWork(text string) error {
	return n.edit(func(sections map[string][]string) {
		sections[sectionCurrentWork] = []string{text}
	})
}

// AddSecurityFinding prepends a finding entry, keeping the newest 5.
func (n *Notes) AddSecurityFinding(entry string) error {
	return n.edit(func(sections map[string][]string) {
		sections[sectionSecurityFindings] = prependTrim(sections[sectionSecurityFindings], "- "+entry, maxSecurityFindings)
	})
}

// AddCompleted prepends a completed-work entry, keeping the newest 20.
func (n *Notes) AddCompleted(entry string) error {
	return n.edit(func(sections map[string][]string) {
		sections[sectionCompleted] = prependTrim(sections[sectionCompleted], "- "+entry, maxCompletedEntries)
	})
}

// Section returns the entries of a recognized section.
func (n *Notes) Section(header string) ([]string, error) {
	doc, err := n.read()
	if err != nil {
		return nil, err
	}
	sections, _ := parseSections(doc)
	return sections[header], nil
}

func prependTrim(entries []string, entry string, max int) []string {
	out := append([]string{entry}, entries...)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func (n *Notes) edit(fn func(map[string][]string)) error {
	doc, err := n.read()
	if err != nil {
		return err
	}
	if doc == "" {
		doc = notesSeed
	}
	sections, order := parseSections(doc)
	fn(sections)

	var b strings.Builder
	for _, part := range order {
		if body, ok := sections[part]; ok {
			b.WriteString(part + "\n\n")
			for _, line := range body {
				if line != "" {
					b.WriteString(line + "\n")
				}
			}
			b.WriteString("\n")
			continue
		}
		b.WriteString(part)
	}

	tmp := n.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(n.path), 0755); err != nil {
		return fmt.Errorf("creating notes directory: %w", err)
	}
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing notes document: %w", err)
	}
	if err := os.Rename(tmp, n.path); err != nil {
		return fmt.Errorf("replacing notes document: %w", err)
	}
	return nil
}

func (n *Notes) read() (string, error) {
	data, err := os.ReadFile(n.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading notes document: %w", err)
	}
	return string(data), nil
}

// parseSections splits the document into recognized sections (header →
// non-empty body lines) and an ordered list of parts. Recognized headers
// appear in the order list as their header string; free-form stretches are
// kept verbatim.
func parseSections(doc string) (map[string][]string, []string) {
	recognized := map[string]bool{
		sectionCurrentWork:      true,
		sectionSecurityFindings: true,
		sectionCompleted:        true,
	}

	sections := make(map[string][]string)
	var order []string
	var freeform strings.Builder
	var current string

	flushFreeform := func() {
		if freeform.Len() > 0 {
			order = append(order, freeform.String())
			freeform.Reset()
		}
	}

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if recognized[trimmed] {
			flushFreeform()
			current = trimmed
			sections[current] = nil
			order = append(order, current)
			continue
		}
		if strings.HasPrefix(trimmed, "## ") {
			// Unrecognized section ends any recognized one.
			current = ""
		}
		if current != "" {
			if trimmed != "" {
				sections[current] = append(sections[current], trimmed)
			}
			continue
		}
		freeform.WriteString(line + "\n")
	}
	flushFreeform()

	// Guarantee all recognized sections exist so edits always land.
	for _, h := range []string{sectionCurrentWork, sectionSecurityFindings, sectionCompleted} {
		if _, ok := sections[h]; !ok {
			sections[h] = nil
			order = append(order, h)
		}
	}

	return sections, order
}
