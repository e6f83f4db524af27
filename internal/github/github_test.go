package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func mustNew(t *testing.T, token string, opts ...Option) *Client {
	t.Helper()
	c, err := New(token, opts...)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return c
}

func assertAuth(t *testing.T, r *http.Request, want string) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != want {
		t.Errorf("expected auth header %q, got %q", want, got)
	}
}

func TestFindOpenPR_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/repos/acme/widgets/pulls" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if head := r.URL.Query().Get("head"); head != "acme:feature" {
			t.Errorf("unexpected head filter: %s", head)
		}
		assertAuth(t, r, "Bearer ghp_test")

		json.NewEncoder(w).Encode([]map[string]any{{
			"number": 12,
			"title":  "Add widget",
			"draft":  true,
			"state":  "open",
			"head":   map[string]any{"sha": "abc123", "ref": "feature"},
		}})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	pr, err := c.FindOpenPR(context.Background(), "acme", "widgets", "feature", "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr == nil {
		t.Fatal("expected a PR")
	}
	if pr.Number != 12 || !pr.Draft || pr.HeadSHA != "abc123" || pr.Branch != "feature" {
		t.Errorf("unexpected PR: %+v", pr)
	}
}

func TestFindOpenPR_NoneIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	pr, err := c.FindOpenPR(context.Background(), "acme", "widgets", "feature", "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr != nil {
		t.Errorf("expected nil, got %+v", pr)
	}
}

func TestFetchPRComments_NormalizesEpochs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/repos/acme/widgets/issues/12/comments" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":         1,
				"body":       "first",
				"user":       map[string]any{"login": "alice"},
				"created_at": "2026-01-02T15:04:05Z",
			},
			{
				"id":         2,
				"body":       "second",
				"user":       map[string]any{"login": "bob"},
				"created_at": "2026-01-02T16:04:05+01:00",
			},
		})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	comments, err := c.FetchPRComments(context.Background(), "acme", "widgets", 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}

	want := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC).Unix()
	if comments[0].CreatedEpoch != want {
		t.Errorf("expected epoch %d, got %d", want, comments[0].CreatedEpoch)
	}
	// An offset timestamp normalizes to the same UTC instant.
	if comments[1].CreatedEpoch != want {
		t.Errorf("expected offset timestamp normalized to %d, got %d", want, comments[1].CreatedEpoch)
	}
}

func TestMergePR_SendsSHAPrecondition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["sha"] != "abc123" {
			t.Errorf("expected sha precondition, got %v", body["sha"])
		}
		if body["merge_method"] != "squash" {
			t.Errorf("expected squash merge, got %v", body["merge_method"])
		}
		json.NewEncoder(w).Encode(map[string]any{"merged": true})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	err := c.MergePR(context.Background(), "acme", "widgets", 12, "abc123", "ISSUE-1: add widget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMergePR_HeadMoved_FailsWithoutRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"message": "Head branch was modified"})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"),
		WithRetryBackoff(time.Millisecond, time.Millisecond))
	err := c.MergePR(context.Background(), "acme", "widgets", 12, "stale", "msg")
	if err == nil {
		t.Fatal("expected error when head moved")
	}
	if calls != 1 {
		t.Errorf("expected 409 to be permanent (1 call), got %d", calls)
	}
}

func TestClosePR_PostsCommentThenCloses(t *testing.T) {
	var gotComment, gotClose bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v3/repos/acme/widgets/issues/12/comments":
			gotComment = true
			json.NewEncoder(w).Encode(map[string]any{"id": 1, "body": "bye"})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/v3/repos/acme/widgets/pulls/12":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["state"] != "closed" {
				t.Errorf("expected state closed, got %v", body["state"])
			}
			gotClose = true
			json.NewEncoder(w).Encode(map[string]any{"number": 12, "state": "closed"})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"))
	if err := c.ClosePR(context.Background(), "acme", "widgets", 12, "bye"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotComment || !gotClose {
		t.Errorf("expected comment then close, got comment=%v close=%v", gotComment, gotClose)
	}
}

func TestValidateCredentials_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"name": "widgets"})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"),
		WithRetryBackoff(time.Millisecond, time.Millisecond))
	if err := c.ValidateCredentials(context.Background(), "acme", "widgets"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected retry on 502 (2 calls), got %d", calls)
	}
}

func TestValidateCredentials_UnauthorizedIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"message": "Bad credentials"})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test", WithBaseURL(srv.URL+"/"),
		WithRetryBackoff(time.Millisecond, time.Millisecond))
	if err := c.ValidateCredentials(context.Background(), "acme", "widgets"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 401 to be permanent (1 call), got %d", calls)
	}
}
