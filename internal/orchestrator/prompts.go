package orchestrator

import (
	"fmt"
	"strings"
)

func implementPrompt(issue Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement issue %s: %s\n\n", issue.ID, issue.Title)
	if issue.Body != "" {
		b.WriteString(issue.Body)
		b.WriteString("\n\n")
	}
	b.WriteString("Work in the current directory. Make the changes, keep them minimal, ")
	b.WriteString("and do not commit or push; the pipeline handles that.\n")
	return b.String()
}

func continuePrompt(issue Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Continue working on issue %s: %s\n\n", issue.ID, issue.Title)
	if issue.Body != "" {
		b.WriteString(issue.Body)
		b.WriteString("\n\n")
	}
	b.WriteString("The branch already has work in progress. Pick up where it left off. ")
	b.WriteString("Do not commit or push; the pipeline handles that.\n")
	return b.String()
}

// reviewPrompt instructs the agent to produce findings in the line format
// the pipeline parses: a severity tag in square brackets at the start of
// each finding line.
func reviewPrompt(issue Issue, hints string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the changes on this branch for issue %s: %s\n\n", issue.ID, issue.Title)
	if hints != "" {
		b.WriteString(hints)
		b.WriteString("\n")
	}
	b.WriteString("List each finding on its own line starting with its severity: ")
	b.WriteString("[CRITICAL], [HIGH], [MEDIUM], or [LOW]. ")
	b.WriteString("If there are no findings, say so in one line.\n")
	return b.String()
}

// assessmentPrompt instructs the agent to disposition each review finding
// into the tags the pipeline parses.
func assessmentPrompt(issue Issue, reviewBody string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assess the review findings for issue %s: %s\n\n", issue.ID, issue.Title)
	b.WriteString("Review:\n")
	b.WriteString(reviewBody)
	b.WriteString("\n\n")
	b.WriteString("For each finding, write a line starting with [actionable] if it must ")
	b.WriteString("be fixed before merging, or [deferred] if it can wait for a follow-up, ")
	b.WriteString("followed by a short rationale.\n")
	return b.String()
}

func fixesPrompt(issue Issue, actionable int, assessmentBody string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix the %d actionable finding(s) for issue %s: %s\n\n", actionable, issue.ID, issue.Title)
	b.WriteString("Assessment:\n")
	b.WriteString(assessmentBody)
	b.WriteString("\n\n")
	b.WriteString("Address only the findings marked [actionable]. ")
	b.WriteString("Do not commit or push; the pipeline handles that.\n")
	return b.String()
}
