package bitbucket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_GetCommitRangeDiff_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte("diff --git a/x.go b/x.go\n"))
	}))
	defer srv.Close()

	c := New("tok123")
	c.BaseURL = srv.URL
	diff, err := c.GetCommitRangeDiff(context.Background(), "acme", "web", "base", "head")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff == "" {
		t.Error("expected non-empty diff")
	}
}

func TestClient_FindPullRequestForCommit_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"values": []any{}})
	}))
	defer srv.Close()

	c := New("tok123")
	c.BaseURL = srv.URL
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
	}))
	defer srv.Close()

	c := New("tok123")
	c.BaseURL = srv.URL
	exists, err := c.CheckFileExistsInBranch(context.Background(), "acme", "web", "main", "missing.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected file not to exist")
	}
}

func TestClient_GetPullRequestDiff_ClientErrorIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("tok123")
	c.BaseURL = srv.URL
	_, err := c.GetPullRequestDiff(context.Background(), "acme", "web", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt for a 4xx response, got %d", calls)
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
		w.Write([]byte("diff --git a/y.go b/y.go\n"))
	}))
	defer srv.Close()

	c := New("tok123")
	c.BaseURL = srv.URL
	c.RetryBackoff = []time.Duration{time.Millisecond}
	_, err := c.GetCommitDiff(context.Background(), "acme", "web", "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls < 2 {
		t.Errorf("expected a retry after the 500, got %d calls", calls)
	}
}

func TestServerClient_GetPullRequestDiff_RendersUnifiedDiff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"diffs": []map[string]any{
				{
					"source":      map[string]any{"toString": "a.go"},
					"destination": map[string]any{"toString": "a.go"},
					"hunks": []map[string]any{
						{"segments": []map[string]any{
							{"type": "ADDED", "lines": []map[string]any{{"line": "new code"}}},
						}},
					},
				},
			},
		})
	}))
	defer srv.Close()

	s := NewServerClient(srv.URL, "tok123")
	diff, err := s.GetPullRequestDiff(context.Background(), "PROJ", "web", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff == "" {
		t.Error("expected non-empty diff")
	}
}

func TestServerClient_CheckFileExistsInBranch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewServerClient(srv.URL, "tok123")
	exists, err := s.CheckFileExistsInBranch(context.Background(), "PROJ", "web", "main", "missing.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected file not to exist")
	}
}
