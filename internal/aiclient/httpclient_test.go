package aiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codecrow/branchanalyzer/internal/progress"
)

func TestHTTPClient_PerformAnalysis_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body wireRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body.CommitHash != "abc123" {
			t.Errorf("expected commit hash forwarded, got %q", body.CommitHash)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"issues": []any{map[string]any{"issueId": "1", "isResolved": true}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "gpt-test", time.Second)
	resp, err := c.PerformAnalysis(t.Context(), AiAnalysisRequest{CommitHash: "abc123"}, progress.Noop{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp["issues"] == nil {
		t.Errorf("expected issues field in response, got %+v", resp)
	}
}

func TestHTTPClient_PerformAnalysis_4xxIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "gpt-test", time.Second)
	_, err := c.PerformAnalysis(t.Context(), AiAnalysisRequest{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt for a 4xx response, got %d", calls)
	}
}

func TestHTTPClient_PerformAnalysis_5xxRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"issues": []any{}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "gpt-test", time.Second)
	c.RetryBackoff = []time.Duration{time.Millisecond, time.Millisecond}
	_, err := c.PerformAnalysis(t.Context(), AiAnalysisRequest{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestHTTPClient_PerformAnalysis_ExceedsTokenCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"issues": []any{}, "tokensUsed": 5000})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "gpt-test", time.Second)
	_, err := c.PerformAnalysis(t.Context(), AiAnalysisRequest{TokenCeiling: 1000}, nil)
	if err == nil {
		t.Fatal("expected error for exceeding token ceiling")
	}
}
