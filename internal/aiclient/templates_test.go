package aiclient

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderCodeReviewPrompt_EmbeddedTemplate(t *testing.T) {
	out, err := RenderCodeReviewPrompt(CodeReviewPromptData{
		ProjectName:      "acme/web",
		TargetBranchName: "main",
		CommitHash:       "abc123",
		Candidates:       []CandidateIssue{{ID: "1", FilePath: "a.go", LineNumber: 10, Severity: "HIGH"}},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "abc123") || !strings.Contains(out, "a.go:10") {
		t.Errorf("expected rendered prompt to include commit and candidate, got:\n%s", out)
	}
}

func TestRenderCodeReviewPrompt_OverrideDirTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "code_review.md"), []byte("CUSTOM {{.CommitHash}}"), 0o644); err != nil {
		t.Fatalf("writing override: %v", err)
	}

	out, err := RenderCodeReviewPrompt(CodeReviewPromptData{CommitHash: "deadbeef"}, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "CUSTOM deadbeef" {
		t.Errorf("expected override template to be used, got %q", out)
	}
}
