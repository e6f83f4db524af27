package phase

import (
	"fmt"
	"regexp"

	"github.com/mergeflow/mergeflow/internal/github"
)

// Automation comments carry an HTML-comment marker token so later runs can
// tell them apart from human comments in mixed history. Assessment markers
// additionally pin the PR head commit the assessment was produced against.
const (
	ReviewMarker     = "<!-- mergeflow:review -->"
	assessmentPrefix = "<!-- mergeflow:assessment"
)

var (
	reviewMarkerRe     = regexp.MustCompile(`<!--\s*mergeflow:review\s*-->`)
	assessmentMarkerRe = regexp.MustCompile(`<!--\s*mergeflow:assessment(?:\s+head=([0-9a-f]{7,40}))?\s*-->`)

	severityRe   = regexp.MustCompile(`(?m)^\s*[-*]?\s*\[(CRITICAL|HIGH|MEDIUM|LOW)\]`)
	actionableRe = regexp.MustCompile(`(?mi)^\s*[-*]?\s*\[actionable\]`)
	deferredRe   = regexp.MustCompile(`(?mi)^\s*[-*]?\s*\[deferred\]`)
)

// ReviewRecord is a parsed automation review comment.
type ReviewRecord struct {
	Body  string
	Epoch int64

	// Severity counts parsed from finding lines.
	Critical int
	High     int
	Medium   int
	Low      int
}

// AssessmentRecord is a parsed automation assessment comment: a disposition
// of review findings into actionable-now vs. deferred, pinned to the PR
// head it was produced against.
type AssessmentRecord struct {
	Body          string
	Epoch         int64
	ActionableNow int
	Deferred      int
	HeadSHA       string
}

// IsAutomationComment reports whether the comment carries any mergeflow
// marker token.
func IsAutomationComment(body string) bool {
	return reviewMarkerRe.MatchString(body) || assessmentMarkerRe.MatchString(body)
}

// LatestReview returns the newest automation review comment, or nil.
func LatestReview(comments []github.Comment) *ReviewRecord {
	var latest *ReviewRecord
	for _, c := range comments {
		if !reviewMarkerRe.MatchString(c.Body) {
			continue
		}
		if latest == nil || c.CreatedEpoch > latest.Epoch {
			r := parseReview(c)
			latest = &r
		}
	}
	return latest
}

// LatestAssessment returns the newest automation assessment comment, or nil.
func LatestAssessment(comments []github.Comment) *AssessmentRecord {
	var latest *AssessmentRecord
	for _, c := range comments {
		m := assessmentMarkerRe.FindStringSubmatch(c.Body)
		if m == nil {
			continue
		}
		if latest == nil || c.CreatedEpoch > latest.Epoch {
			a := parseAssessment(c)
			a.HeadSHA = m[1]
			latest = &a
		}
	}
	return latest
}

func parseReview(c github.Comment) ReviewRecord {
	r := ReviewRecord{Body: c.Body, Epoch: c.CreatedEpoch}
	for _, m := range severityRe.FindAllStringSubmatch(c.Body, -1) {
		switch m[1] {
		case "CRITICAL":
			r.Critical++
		case "HIGH":
			r.High++
		case "MEDIUM":
			r.Medium++
		case "LOW":
			r.Low++
		}
	}
	return r
}

func parseAssessment(c github.Comment) AssessmentRecord {
	return AssessmentRecord{
		Body:          c.Body,
		Epoch:         c.CreatedEpoch,
		ActionableNow: len(actionableRe.FindAllString(c.Body, -1)),
		Deferred:      len(deferredRe.FindAllString(c.Body, -1)),
	}
}

// AssessmentMarker renders the marker token for an assessment comment
// pinned to the given head commit.
func AssessmentMarker(headSHA string) string {
	return fmt.Sprintf("%s head=%s -->", assessmentPrefix, headSHA)
}
