package phase

import (
	"testing"

	"github.com/mergeflow/mergeflow/internal/github"
	"github.com/mergeflow/mergeflow/internal/gitops"
)

func reviewComment(epoch int64, findings string) github.Comment {
	return github.Comment{
		Body:         findings + "\n\n" + ReviewMarker,
		CreatedEpoch: epoch,
	}
}

func assessmentComment(epoch int64, body, head string) github.Comment {
	return github.Comment{
		Body:         body + "\n\n" + AssessmentMarker(head),
		CreatedEpoch: epoch,
	}
}

func TestResolve_NoPR_NotStarted(t *testing.T) {
	res := Resolve(Input{Mainline: "main"})
	if res.Phase != NotStarted {
		t.Errorf("expected %s, got %s", NotStarted, res.Phase)
	}
}

func TestResolve_RemoteReadFailed_DegradesToNeedsReview(t *testing.T) {
	res := Resolve(Input{
		PR:               &github.PR{Number: 1},
		RemoteReadFailed: true,
		Mainline:         "main",
	})
	if res.Phase != NeedsReview {
		t.Errorf("expected %s, got %s", NeedsReview, res.Phase)
	}
}

func TestResolve_DraftWithoutReview_DevPR(t *testing.T) {
	res := Resolve(Input{
		PR:       &github.PR{Number: 1, Draft: true},
		Mainline: "main",
	})
	if res.Phase != DevPR {
		t.Errorf("expected %s, got %s", DevPR, res.Phase)
	}
}

func TestResolve_NonDraftWithoutReview_NeedsReview(t *testing.T) {
	res := Resolve(Input{
		PR:       &github.PR{Number: 1},
		Mainline: "main",
	})
	if res.Phase != NeedsReview {
		t.Errorf("expected %s, got %s", NeedsReview, res.Phase)
	}
}

func TestResolve_ReviewOlderThanCommit_ReviewStale(t *testing.T) {
	res := Resolve(Input{
		PR:           &github.PR{Number: 1},
		Comments:     []github.Comment{reviewComment(100, "[LOW] nit")},
		LocalHead:    "abc",
		TrackingHead: "abc",
		Commits:      []gitops.Commit{{SHA: "abc", Subject: "new work", AuthorEpoch: 200}},
		Mainline:     "main",
	})
	if res.Phase != ReviewStale {
		t.Errorf("expected %s, got %s", ReviewStale, res.Phase)
	}
}

func TestResolve_ReviewAtSameEpochAsCommit_ReviewStale(t *testing.T) {
	// Currency requires the review to strictly postdate the commit.
	res := Resolve(Input{
		PR:           &github.PR{Number: 1},
		Comments:     []github.Comment{reviewComment(200, "[LOW] nit")},
		LocalHead:    "abc",
		TrackingHead: "abc",
		Commits:      []gitops.Commit{{SHA: "abc", Subject: "work", AuthorEpoch: 200}},
		Mainline:     "main",
	})
	if res.Phase != ReviewStale {
		t.Errorf("expected %s, got %s", ReviewStale, res.Phase)
	}
}

func TestResolve_UnpushedLocalWork_ReviewStale(t *testing.T) {
	res := Resolve(Input{
		PR:           &github.PR{Number: 1},
		Comments:     []github.Comment{reviewComment(500, "[LOW] nit")},
		LocalHead:    "abc",
		TrackingHead: "def",
		Commits:      []gitops.Commit{{SHA: "abc", Subject: "work", AuthorEpoch: 100}},
		Mainline:     "main",
	})
	if res.Phase != ReviewStale {
		t.Errorf("expected %s, got %s", ReviewStale, res.Phase)
	}
}

func TestResolve_UnreadableTrackingRef_ReviewStale(t *testing.T) {
	res := Resolve(Input{
		PR:           &github.PR{Number: 1},
		Comments:     []github.Comment{reviewComment(500, "[LOW] nit")},
		LocalHead:    "abc",
		TrackingHead: "",
		Commits:      []gitops.Commit{{SHA: "abc", Subject: "work", AuthorEpoch: 100}},
		Mainline:     "main",
	})
	if res.Phase != ReviewStale {
		t.Errorf("expected %s, got %s", ReviewStale, res.Phase)
	}
}

func TestResolve_SyncMergeDoesNotStaleReview(t *testing.T) {
	res := Resolve(Input{
		PR:           &github.PR{Number: 1},
		Comments:     []github.Comment{reviewComment(300, "[LOW] nit")},
		LocalHead:    "abc",
		TrackingHead: "abc",
		Commits: []gitops.Commit{
			{SHA: "abc", Subject: "Merge branch 'main' into feature", AuthorEpoch: 400},
			{SHA: "def", Subject: "real work", AuthorEpoch: 200},
		},
		Mainline: "main",
	})
	if res.Phase != NeedsAssessment {
		t.Errorf("expected %s, got %s", NeedsAssessment, res.Phase)
	}
}

func TestResolve_CurrentReviewWithoutAssessment_NeedsAssessment(t *testing.T) {
	res := Resolve(Input{
		PR:           &github.PR{Number: 1},
		Comments:     []github.Comment{reviewComment(300, "[HIGH] bug")},
		LocalHead:    "abc",
		TrackingHead: "abc",
		Commits:      []gitops.Commit{{SHA: "abc", Subject: "work", AuthorEpoch: 100}},
		Mainline:     "main",
	})
	if res.Phase != NeedsAssessment {
		t.Errorf("expected %s, got %s", NeedsAssessment, res.Phase)
	}
}

func TestResolve_AssessmentPredatesReview_NeedsAssessment(t *testing.T) {
	res := Resolve(Input{
		PR: &github.PR{Number: 1},
		Comments: []github.Comment{
			reviewComment(300, "[HIGH] bug"),
			assessmentComment(250, "[actionable] fix the bug", "abc"),
		},
		LocalHead:    "abc",
		TrackingHead: "abc",
		Commits:      []gitops.Commit{{SHA: "abc", Subject: "work", AuthorEpoch: 100}},
		Mainline:     "main",
	})
	if res.Phase != NeedsAssessment {
		t.Errorf("expected %s, got %s", NeedsAssessment, res.Phase)
	}
}

func TestResolve_ActionableFindings_NeedsFixes(t *testing.T) {
	res := Resolve(Input{
		PR: &github.PR{Number: 1},
		Comments: []github.Comment{
			reviewComment(300, "[HIGH] bug\n[LOW] nit"),
			assessmentComment(400, "[actionable] fix the bug\n[deferred] nit later", "abc"),
		},
		LocalHead:    "abc",
		TrackingHead: "abc",
		Commits:      []gitops.Commit{{SHA: "abc", Subject: "work", AuthorEpoch: 100}},
		Mainline:     "main",
	})
	if res.Phase != NeedsFixes {
		t.Fatalf("expected %s, got %s", NeedsFixes, res.Phase)
	}
	if res.ActionableFindings != 1 {
		t.Errorf("expected 1 actionable finding, got %d", res.ActionableFindings)
	}
}

func TestResolve_AllDeferred_ReadyToMerge(t *testing.T) {
	res := Resolve(Input{
		PR: &github.PR{Number: 1},
		Comments: []github.Comment{
			reviewComment(300, "[LOW] nit"),
			assessmentComment(400, "[deferred] nit later", "abc"),
		},
		LocalHead:    "abc",
		TrackingHead: "abc",
		Commits:      []gitops.Commit{{SHA: "abc", Subject: "work", AuthorEpoch: 100}},
		Mainline:     "main",
	})
	if res.Phase != ReadyToMerge {
		t.Errorf("expected %s, got %s", ReadyToMerge, res.Phase)
	}
}

func TestIsSyncMerge_Variants(t *testing.T) {
	cases := []struct {
		subject string
		want    bool
	}{
		{"Merge branch 'main'", true},
		{"Merge branch 'main' into feature", true},
		{"Merge remote-tracking branch 'origin/main'", true},
		{"Merge branch 'origin/main'", true},
		{"Merge branch 'other'", false},
		{"fix: something", false},
	}
	for _, c := range cases {
		if got := IsSyncMerge(c.subject, "main"); got != c.want {
			t.Errorf("IsSyncMerge(%q) = %v, want %v", c.subject, got, c.want)
		}
	}
}

func TestLatestReview_PicksNewestAndCountsSeverities(t *testing.T) {
	comments := []github.Comment{
		reviewComment(100, "[CRITICAL] old"),
		reviewComment(200, "- [CRITICAL] sql injection\n- [HIGH] race\n- [LOW] nit"),
		{Body: "human comment", CreatedEpoch: 300},
	}
	rec := LatestReview(comments)
	if rec == nil {
		t.Fatal("expected a review record")
	}
	if rec.Epoch != 200 {
		t.Errorf("expected newest review (epoch 200), got %d", rec.Epoch)
	}
	if rec.Critical != 1 || rec.High != 1 || rec.Low != 1 {
		t.Errorf("unexpected severity counts: %+v", rec)
	}
}

func TestLatestAssessment_ParsesHeadPin(t *testing.T) {
	comments := []github.Comment{
		assessmentComment(100, "[actionable] x", "aaaaaaa"),
		assessmentComment(200, "[deferred] y", "deadbeefcafe"),
	}
	rec := LatestAssessment(comments)
	if rec == nil {
		t.Fatal("expected an assessment record")
	}
	if rec.HeadSHA != "deadbeefcafe" {
		t.Errorf("expected head pin deadbeefcafe, got %q", rec.HeadSHA)
	}
	if rec.ActionableNow != 0 || rec.Deferred != 1 {
		t.Errorf("unexpected counts: %+v", rec)
	}
}

func TestIsAutomationComment(t *testing.T) {
	if !IsAutomationComment("x\n" + ReviewMarker) {
		t.Error("expected review marker to be detected")
	}
	if !IsAutomationComment(AssessmentMarker("abc1234")) {
		t.Error("expected assessment marker to be detected")
	}
	if IsAutomationComment("just a human comment") {
		t.Error("expected human comment not to be detected")
	}
}
