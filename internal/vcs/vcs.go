// Package vcs declares the collaborator contracts the orchestrator consumes
// from a version-control provider (spec.md §6): diff retrieval, file
// existence, AI request shaping, and — as a supplemental, runnable-repo
// necessity spec.md itself treats as out of scope for the core — comment
// and annotation reporting.
package vcs

import (
	"context"
	"time"

	"github.com/codecrow/branchanalyzer/internal/aiclient"
	"github.com/codecrow/branchanalyzer/internal/db"
)

// ProviderTag identifies which concrete VcsOperations/VcsAiClient/Reporter
// triple a project is bound to (spec.md §4.5).
type ProviderTag string

const (
	ProviderBitbucketCloud  ProviderTag = "bitbucket_cloud"
	ProviderGitHub          ProviderTag = "github"
	ProviderGitLab          ProviderTag = "gitlab"
	ProviderBitbucketServer ProviderTag = "bitbucket_server"
)

// Operations is the VcsOperations contract (spec.md §6). All methods are
// synchronous HTTP round-trips; implementations wrap transient failures with
// internal/retry and classify 4xx responses as retry.Permanent.
type Operations interface {
	GetCommitRangeDiff(ctx context.Context, workspace, repoSlug, baseSHA, headSHA string) (string, error)
	GetPullRequestDiff(ctx context.Context, workspace, repoSlug string, prNumber int64) (string, error)
	GetCommitDiff(ctx context.Context, workspace, repoSlug, sha string) (string, error)
	// FindPullRequestForCommit returns (0, false, nil) when no PR wraps the commit.
	FindPullRequestForCommit(ctx context.Context, workspace, repoSlug, sha string) (prNumber int64, found bool, err error)
	CheckFileExistsInBranch(ctx context.Context, workspace, repoSlug, branch, path string) (bool, error)
}

// AnalysisContext carries everything a VcsAiClient needs to shape a
// provider-specific AiAnalysisRequest, without depending on the
// orchestrator package (which depends on this one).
type AnalysisContext struct {
	TargetBranchName        string
	CommitHash              string
	SourcePullRequestNumber int64 // 0 means absent
	RawDiff                 string
	Candidates              []aiclient.CandidateIssue
	PreviousAnalysisContext string // rendered summary of the prior run, if any
	TokenCeiling            int
}

// AiRequestBuilder is the VcsAiClient contract (spec.md §6): shapes a
// provider-neutral AiAnalysisRequest out of provider-specific framing
// (e.g. PR metadata rendered differently per provider).
type AiRequestBuilder interface {
	BuildAiAnalysisRequest(ctx context.Context, project db.Project, ac AnalysisContext) (aiclient.AiAnalysisRequest, error)
}

// ReportSummary is the subset of an orchestrator.Result a Reporter needs to
// render a human-facing comment — deliberately not orchestrator.Result
// itself, since orchestrator imports this package and a dependency back
// would cycle.
type ReportSummary struct {
	Status          string
	Cached          bool
	BranchID        string
	TotalIssueCount int
	HighCount       int
	MediumCount     int
	LowCount        int
	InfoCount       int
	AnalyzedAt      time.Time
}

// Reporter posts human-facing output back to the VCS after a successful
// Process call (spec.md §1: "report rendering ... a Reporter collaborator").
// The orchestrator never calls this directly — see SPEC_FULL.md §5.
type Reporter interface {
	PostSummaryComment(ctx context.Context, project db.Project, branchName string, pullRequestNumber int64, summary ReportSummary) error
	PostInlineAnnotations(ctx context.Context, project db.Project, branchName string, pullRequestNumber int64, issues []db.CodeAnalysisIssue) error
}

// Binding is the (Operations, AiRequestBuilder, Reporter) triple registered
// per ProviderTag in the Provider Registry (spec.md §4.5).
type Binding struct {
	Operations Operations
	AiClient   AiRequestBuilder
	Reporter   Reporter
}
