// Package aiclient defines the AiAnalysisClient contract (spec.md §6),
// the request/response shapes it exchanges, and a generic JSON-over-HTTP
// implementation. It also normalizes the AI response's dual-shape `issues`
// field (spec.md §4.3, §9) into a single uniform sequence.
package aiclient

import (
	"context"

	"github.com/codecrow/branchanalyzer/internal/progress"
)

// CandidateIssue is a still-open issue handed to the model for
// re-evaluation (spec.md §4.3 step B: "their id, file, line, severity,
// category").
type CandidateIssue struct {
	ID         string
	FilePath   string
	LineNumber int
	Severity   string
	Category   string
}

// AiAnalysisRequest is the provider-neutral request built by a
// vcs.AiRequestBuilder and passed to PerformAnalysis (spec.md §4.3 step B).
type AiAnalysisRequest struct {
	ProjectName             string
	ProjectNamespace        string
	TargetBranchName        string
	CommitHash              string
	SourcePullRequestNumber int64
	RawDiff                 string
	Candidates              []CandidateIssue
	PreviousAnalysisContext string
	TokenCeiling            int
	Model                   string
	Credential              string // resolved API token/credential, opaque to the caller
	PromptOverrideDir       string // on-disk template override directory, if any
}

// Verdict is the normalized shape of one AI-returned resolution signal
// (spec.md §4.3 step C, GLOSSARY "Verdict").
type Verdict struct {
	IssueID    string
	IsResolved bool
	Reason     string
}

// AiAnalysisResponse is the generic key-value response PerformAnalysis
// returns (spec.md §6: "returns a generic key-value response").
type AiAnalysisResponse map[string]any

// AiAnalysisClient is the sole collaborator the reconciler calls into for
// model invocation (spec.md §6).
type AiAnalysisClient interface {
	PerformAnalysis(ctx context.Context, req AiAnalysisRequest, sink progress.Sink) (AiAnalysisResponse, error)
}
