package bitbucket

import (
	"context"

	"github.com/codecrow/branchanalyzer/internal/aiclient"
	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// AiRequestBuilder shapes a provider-neutral AiAnalysisRequest out of a
// Bitbucket pull request's analysis context. Cloud and Server share this
// builder — neither changes the prompt shape, only how diffs are fetched.
type AiRequestBuilder struct {
	TemplateOverrideDir string
	Model               string
}

var _ vcs.AiRequestBuilder = (*AiRequestBuilder)(nil)

func (b *AiRequestBuilder) BuildAiAnalysisRequest(ctx context.Context, project db.Project, ac vcs.AnalysisContext) (aiclient.AiAnalysisRequest, error) {
	return aiclient.AiAnalysisRequest{
		ProjectName:             project.Name,
		ProjectNamespace:        project.Namespace,
		TargetBranchName:        ac.TargetBranchName,
		CommitHash:              ac.CommitHash,
		SourcePullRequestNumber: ac.SourcePullRequestNumber,
		RawDiff:                 ac.RawDiff,
		Candidates:              ac.Candidates,
		PreviousAnalysisContext: ac.PreviousAnalysisContext,
		TokenCeiling:            ac.TokenCeiling,
		Model:                   b.Model,
		PromptOverrideDir:       b.TemplateOverrideDir,
	}, nil
}
