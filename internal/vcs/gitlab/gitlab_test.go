package gitlab

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
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_GetCommitRangeDiff_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != "glpat-test" {
			t.Errorf("expected PRIVATE-TOKEN header, got %q", r.Header.Get("PRIVATE-TOKEN"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"diffs": []map[string]any{
				{"old_path": "a.go", "new_path": "a.go", "diff": "@@ -1 +1 @@\n-old\n+new\n"},
			},
		})
	}))
	defer srv.Close()

	c := mustNew(t, "glpat-test", WithBaseURL(srv.URL))
	diff, err := c.GetCommitRangeDiff(context.Background(), "acme", "web", "base", "head")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff == "" {
		t.Error("expected non-empty diff")
	}
}

func TestClient_GetPullRequestDiff_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"old_path": "b.go", "new_path": "b.go", "diff": "@@ -1 +1 @@\n-x\n+y\n"},
		})
	}))
	defer srv.Close()

	c := mustNew(t, "glpat-test", WithBaseURL(srv.URL))
	diff, err := c.GetPullRequestDiff(context.Background(), "acme", "web", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff == "" {
		t.Error("expected non-empty diff")
	}
}

func TestClient_FindPullRequestForCommit_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	c := mustNew(t, "glpat-test", WithBaseURL(srv.URL))
	_, found, err := c.FindPullRequestForCommit(context.Background(), "acme", "web", "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected no merge request found")
	}
}

func TestClient_CheckFileExistsInBranch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"message": "404 File Not Found"})
	}))
	defer srv.Close()

	c := mustNew(t, "glpat-test", WithBaseURL(srv.URL))
	exists, err := c.CheckFileExistsInBranch(context.Background(), "acme", "web", "main", "missing.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected file not to exist")
	}
}

func TestClient_GetCommitDiff_ServerErrorIsRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"old_path": "c.go", "new_path": "c.go", "diff": "@@ -1 +1 @@\n-q\n+r\n"},
		})
	}))
	defer srv.Close()

	c := mustNew(t, "glpat-test", WithBaseURL(srv.URL), WithRetryBackoff(time.Millisecond))
	_, err := c.GetCommitDiff(context.Background(), "acme", "web", "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls < 2 {
		t.Errorf("expected a retry after the 500, got %d calls", calls)
	}
}
