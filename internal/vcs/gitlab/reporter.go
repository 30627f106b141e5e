package gitlab

import (
	"context"
	"fmt"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/retry"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// Reporter posts the orchestrator's results back to GitLab as a merge
// request note, plus one discussion thread per individual finding.
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
		_, resp, err := r.client.cli.Notes.CreateMergeRequestNote(projectPath(project.VcsWorkspaceSlug, project.VcsRepoSlug), int(pullRequestNumber), &gl.CreateMergeRequestNoteOptions{
			Body: gl.Ptr(renderSummaryBody(branchName, summary)),
		}, gl.WithContext(ctx))
		if err != nil {
			return struct{}{}, classifyErr(resp, fmt.Errorf("posting summary note: %w", err))
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
			body := fmt.Sprintf("**%s** (%s) at `%s:%d`\n\n%s", issue.Severity, issue.Category, issue.FilePath, issue.LineNumber, issue.Description)
			_, resp, err := r.client.cli.Discussions.CreateMergeRequestDiscussion(projectPath(project.VcsWorkspaceSlug, project.VcsRepoSlug), int(pullRequestNumber), &gl.CreateMergeRequestDiscussionOptions{
				Body: gl.Ptr(body),
			}, gl.WithContext(ctx))
			if err != nil {
				return struct{}{}, classifyErr(resp, fmt.Errorf("posting inline discussion for %s:%d: %w", issue.FilePath, issue.LineNumber, err))
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
