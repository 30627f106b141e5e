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
		t.Fatalf("New: %v", err)
	}
	return c
}

func assertAuth(t *testing.T, r *http.Request, expected string) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != expected {
		t.Errorf("expected Authorization %q, got %q", expected, got)
	}
}

func TestClient_GetCommitRangeDiff_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/repos/acme/web/compare/base...head" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		assertAuth(t, r, "Bearer ghp_test123")
		w.Write([]byte("diff --git a/x.go b/x.go\n"))
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test123", WithBaseURL(srv.URL+"/"))
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
		if r.URL.Path != "/api/v3/repos/acme/web/pulls/7" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte("diff --git a/y.go b/y.go\n"))
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test123", WithBaseURL(srv.URL+"/"))
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

	c := mustNew(t, "ghp_test123", WithBaseURL(srv.URL+"/"))
	_, found, err := c.FindPullRequestForCommit(context.Background(), "acme", "web", "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected no pull request found")
	}
}

func TestClient_CheckFileExistsInBranch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"message": "Not Found"})
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test123", WithBaseURL(srv.URL+"/"))
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
		w.Write([]byte("diff --git a/z.go b/z.go\n"))
	}))
	defer srv.Close()

	c := mustNew(t, "ghp_test123", WithBaseURL(srv.URL+"/"), WithRetryBackoff(time.Millisecond))
	_, err := c.GetCommitDiff(context.Background(), "acme", "web", "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls < 2 {
		t.Errorf("expected a retry after the 500, got %d calls", calls)
	}
}
