package bitbucket

import (
	"context"
	"fmt"
	"strings"

	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// Reporter posts the orchestrator's results back to Bitbucket Cloud as a
// pull request comment, plus one inline comment per individual finding.
type Reporter struct {
	client *Client
}

var _ vcs.Reporter = (*Reporter)(nil)

func NewReporter(client *Client) *Reporter {
	return &Reporter{client: client}
}

type commentBody struct {
	Content commentContent `json:"content"`
	Inline  *inlineTarget  `json:"inline,omitempty"`
}

type commentContent struct {
	Raw string `json:"raw"`
}

type inlineTarget struct {
	Path string `json:"path"`
	To   int    `json:"to"`
}

func (r *Reporter) PostSummaryComment(ctx context.Context, project db.Project, branchName string, pullRequestNumber int64, summary vcs.ReportSummary) error {
	if pullRequestNumber == 0 {
		return nil
	}
	path := fmt.Sprintf("/repositories/%s/%s/pullrequests/%d/comments", project.VcsWorkspaceSlug, project.VcsRepoSlug, pullRequestNumber)
	return r.client.postJSON(ctx, path, commentBody{Content: commentContent{Raw: renderSummaryBody(branchName, summary)}}, nil)
}

func (r *Reporter) PostInlineAnnotations(ctx context.Context, project db.Project, branchName string, pullRequestNumber int64, issues []db.CodeAnalysisIssue) error {
	if pullRequestNumber == 0 || len(issues) == 0 {
		return nil
	}
	path := fmt.Sprintf("/repositories/%s/%s/pullrequests/%d/comments", project.VcsWorkspaceSlug, project.VcsRepoSlug, pullRequestNumber)
	for _, issue := range issues {
		body := commentBody{
			Content: commentContent{Raw: fmt.Sprintf("**%s** (%s): %s", issue.Severity, issue.Category, issue.Description)},
			Inline:  &inlineTarget{Path: issue.FilePath, To: issue.LineNumber},
		}
		if err := r.client.postJSON(ctx, path, body, nil); err != nil {
			return fmt.Errorf("posting inline annotation for %s:%d: %w", issue.FilePath, issue.LineNumber, err)
		}
	}
	return nil
}

func renderSummaryBody(branchName string, s vcs.ReportSummary) string {
	var b strings.Builder
	if s.Cached {
		fmt.Fprintf(&b, "Analysis for `%s` is already up to date at this commit.\n\n", branchName)
	} else {
		fmt.Fprintf(&b, "Analysis complete for `%s`.\n\n", branchName)
	}
	fmt.Fprintf(&b, "| Severity | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| High | %d |\n", s.HighCount)
	fmt.Fprintf(&b, "| Medium | %d |\n", s.MediumCount)
	fmt.Fprintf(&b, "| Low | %d |\n", s.LowCount)
	fmt.Fprintf(&b, "| Info | %d |\n", s.InfoCount)
	fmt.Fprintf(&b, "\n**Total open issues:** %d\n", s.TotalIssueCount)
	return b.String()
}
