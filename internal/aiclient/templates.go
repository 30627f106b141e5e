package aiclient

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/*.md
var templateFS embed.FS

// TemplateFS returns the embedded template filesystem for external access.
func TemplateFS() embed.FS {
	return templateFS
}

// CodeReviewPromptData holds the context for rendering the code-review
// analysis prompt (templates/code_review.md).
type CodeReviewPromptData struct {
	ProjectName             string
	TargetBranchName        string
	CommitHash              string
	SourcePullRequestNumber int64
	RawDiff                 string
	Candidates              []CandidateIssue
	PreviousAnalysisContext string
}

// RenderCodeReviewPrompt renders the analysis prompt. If overrideDir is
// non-empty and contains code_review.md, that file is used instead of the
// embedded template — the same on-disk override convention the teacher
// repo uses for its prompt templates.
func RenderCodeReviewPrompt(data CodeReviewPromptData, overrideDir string) (string, error) {
	return render("templates/code_review.md", data, overrideDir)
}

func render(name string, data any, overrideDir string) (string, error) {
	content, err := readTemplate(name, overrideDir)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}

	return buf.String(), nil
}

func readTemplate(name, overrideDir string) ([]byte, error) {
	filename := filepath.Base(name)

	if overrideDir != "" {
		overridePath := filepath.Join(overrideDir, filename)
		if content, err := os.ReadFile(overridePath); err == nil {
			return content, nil
		}
	}

	content, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", name, err)
	}
	return content, nil
}
