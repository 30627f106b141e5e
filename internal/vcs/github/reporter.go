package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/retry"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// Reporter posts the orchestrator's results back to GitHub as an issue
// comment on the associated pull request, plus inline review comments for
// individual findings.
type Reporter struct {
	client *Client
}

var _ vcs.Reporter = (*Reporter)(nil)

func NewReporter(client *Client) *Reporter {
	return &Reporter{client: client}
}

func (r *Reporter) PostSummaryComment(ctx context.Context, project db.Project, branchName string, pullRequestNumber int64, summary vcs.ReportSummary) error {
	if pullRequestNumber == 0 {
		return nil
	}
	_, err := retry.DoVal(ctx, func() (struct{}, error) {
		_, _, err := r.client.gh.Issues.CreateComment(ctx, project.VcsWorkspaceSlug, project.VcsRepoSlug, int(pullRequestNumber), &gh.IssueComment{
			Body: gh.Ptr(renderSummaryBody(branchName, summary)),
		})
		if err != nil {
			return struct{}{}, classifyErr(fmt.Errorf("posting summary comment: %w", err))
		}
		return struct{}{}, nil
	}, r.client.retryOpts()...)
	return err
}

func (r *Reporter) PostInlineAnnotations(ctx context.Context, project db.Project, branchName string, pullRequestNumber int64, issues []db.CodeAnalysisIssue) error {
	if pullRequestNumber == 0 || len(issues) == 0 {
		return nil
	}
	for _, issue := range issues {
		issue := issue
		_, err := retry.DoVal(ctx, func() (struct{}, error) {
			_, _, err := r.client.gh.PullRequests.CreateComment(ctx, project.VcsWorkspaceSlug, project.VcsRepoSlug, int(pullRequestNumber), &gh.PullRequestComment{
				Body:     gh.Ptr(fmt.Sprintf("**%s** (%s): %s", issue.Severity, issue.Category, issue.Description)),
				Path:     gh.Ptr(issue.FilePath),
				Line:     gh.Ptr(issue.LineNumber),
				CommitID: gh.Ptr(issue.CommitHash),
			})
			if err != nil {
				return struct{}{}, classifyErr(fmt.Errorf("posting inline annotation for %s:%d: %w", issue.FilePath, issue.LineNumber, err))
			}
			return struct{}{}, nil
		}, r.client.retryOpts()...)
		if err != nil {
			return err
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
