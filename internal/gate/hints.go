package gate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Hint is a non-blocking sensitivity flag directing review attention to a
// risk area. Hints are rendered as guidance text attached to the next
// review pass, never enforced.
type Hint struct {
	Category string
	Detail   string
}

// Hint categories.
const (
	HintInfrastructure = "infrastructure"
	HintMigrations     = "migrations"
	HintAuth           = "auth"
	HintArchitecture   = "architecture"
	HintCloudCost      = "cloud-cost"
	HintProtected      = "protected-scripts"
)

var builtinPathHints = []struct {
	category string
	patterns []string
}{
	{HintInfrastructure, []string{
		"**/*.tf", "terraform/**", "**/Dockerfile*", "k8s/**", "helm/**",
		".github/workflows/**",
	}},
	{HintMigrations, []string{
		"**/migrations/**", "**/*.sql",
	}},
	{HintAuth, []string{
		"**/auth/**", "**/*auth*", "**/middleware/session*",
	}},
	{HintArchitecture, []string{
		"docs/architecture/**", "**/ARCHITECTURE.md", "docs/adr/**",
	}},
}

// authExclusions removes test and documentation paths from the auth
// category so routine test churn does not flag every review.
var authExclusions = []string{"**/*_test.*", "docs/**", "**/*.md"}

// expensiveServiceRe matches named cloud services whose misuse is costly.
var expensiveServiceRe = regexp.MustCompile(`(?i)\b(dynamodb|redshift|sagemaker|bigquery|dataflow|athena|emr|opensearch)\b`)

// Hints evaluates the sensitivity patterns against changed file paths and
// diff content, returning the matched categories with detail.
func (g *Gate) Hints(changedFiles []string, diffContent string) []Hint {
	var hints []Hint
	seen := map[string]bool{}

	add := func(category, detail string) {
		if seen[category] {
			return
		}
		seen[category] = true
		hints = append(hints, Hint{Category: category, Detail: detail})
	}

	for _, path := range changedFiles {
		for _, group := range builtinPathHints {
			if group.category == HintAuth && matchesAny(authExclusions, path) {
				continue
			}
			if matchesAny(group.patterns, path) {
				add(group.category, fmt.Sprintf("touches %s", path))
			}
		}
		if matchesAny(g.cfg.SensitivePaths, path) {
			add(HintInfrastructure, fmt.Sprintf("touches configured sensitive path %s", path))
		}
		if matchesAny(g.cfg.ProtectedScripts, path) {
			add(HintProtected, fmt.Sprintf("modifies protected automation script %s", path))
		}
	}

	if m := expensiveServiceRe.FindString(diffContent); m != "" {
		add(HintCloudCost, fmt.Sprintf("diff mentions %s", strings.ToLower(m)))
	}

	return hints
}

// RenderHints formats hints as guidance text for the next review pass.
// Returns empty string when there are no hints.
func RenderHints(hints []Hint) string {
	if len(hints) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Pay extra attention to the following risk areas:\n")
	for _, h := range hints {
		fmt.Fprintf(&b, "- %s: %s\n", h.Category, h.Detail)
	}
	return b.String()
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}
