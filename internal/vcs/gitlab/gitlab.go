// Package gitlab is the GitLab VcsOperations/VcsAiClient/Reporter triple
// (spec.md §6), built on gitlab.com/gitlab-org/api/client-go the way the
// pack's codry gitlab.go client is: a thin wrapper with retry-wrapped calls
// and project-path-or-ID addressing.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/codecrow/branchanalyzer/internal/retry"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// Client is a typed GitLab API client implementing vcs.Operations.
type Client struct {
	cli          *gl.Client
	retryBackoff []time.Duration
}

var _ vcs.Operations = (*Client)(nil)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL      string
	retryBackoff []time.Duration
}

// WithBaseURL overrides the GitLab API base URL (self-managed instances, or tests).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithRetryBackoff overrides the default retry backoff delays.
func WithRetryBackoff(delays ...time.Duration) Option {
	return func(c *clientConfig) { c.retryBackoff = delays }
}

// New creates a GitLab API client authenticated with a personal/project
// access token (the credential resolved from the project's VcsConnectionID).
func New(token string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}

	var glOpts []gl.ClientOptionFunc
	if cfg.baseURL != "" {
		glOpts = append(glOpts, gl.WithBaseURL(cfg.baseURL))
	}
	cli, err := gl.NewClient(token, glOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &Client{cli: cli, retryBackoff: cfg.retryBackoff}, nil
}

// projectPath builds the "workspace/repoSlug" GitLab project path used as pid.
func projectPath(workspace, repoSlug string) string {
	return workspace + "/" + repoSlug
}

// GetCommitRangeDiff fetches the unified diff between two refs (spec.md
// §4.2 tier A) via the compare endpoint.
func (c *Client) GetCommitRangeDiff(ctx context.Context, workspace, repoSlug, baseSHA, headSHA string) (string, error) {
	return retry.DoVal(ctx, func() (string, error) {
		cmp, resp, err := c.cli.Repositories.Compare(projectPath(workspace, repoSlug), &gl.CompareOptions{
			From: gl.Ptr(baseSHA),
			To:   gl.Ptr(headSHA),
		}, gl.WithContext(ctx))
		if err != nil {
			return "", classifyErr(resp, fmt.Errorf("comparing commits: %w", err))
		}
		return renderUnifiedDiff(cmp.Diffs), nil
	}, c.retryOpts()...)
}

// GetPullRequestDiff fetches the unified diff for a merge request (spec.md
// §4.2 tier B).
func (c *Client) GetPullRequestDiff(ctx context.Context, workspace, repoSlug string, prNumber int64) (string, error) {
	return retry.DoVal(ctx, func() (string, error) {
		diffs, resp, err := c.cli.MergeRequests.ListMergeRequestDiffs(projectPath(workspace, repoSlug), int(prNumber), &gl.ListMergeRequestDiffsOptions{}, gl.WithContext(ctx))
		if err != nil {
			return "", classifyErr(resp, fmt.Errorf("listing merge request diffs: %w", err))
		}
		return renderUnifiedDiff(diffs), nil
	}, c.retryOpts()...)
}

// GetCommitDiff fetches the unified diff introduced by a single commit
// (spec.md §4.2 tier C).
func (c *Client) GetCommitDiff(ctx context.Context, workspace, repoSlug, sha string) (string, error) {
	return retry.DoVal(ctx, func() (string, error) {
		diffs, resp, err := c.cli.Commits.GetCommitDiff(projectPath(workspace, repoSlug), sha, &gl.GetCommitDiffOptions{}, gl.WithContext(ctx))
		if err != nil {
			return "", classifyErr(resp, fmt.Errorf("fetching commit diff: %w", err))
		}
		return renderUnifiedDiff(diffs), nil
	}, c.retryOpts()...)
}

type mrLookup struct {
	number int64
	found  bool
}

// FindPullRequestForCommit returns the first merge request that carries sha.
func (c *Client) FindPullRequestForCommit(ctx context.Context, workspace, repoSlug, sha string) (int64, bool, error) {
	result, err := retry.DoVal(ctx, func() (mrLookup, error) {
		mrs, resp, err := c.cli.Commits.ListMergeRequestsByCommit(projectPath(workspace, repoSlug), sha, gl.WithContext(ctx))
		if err != nil {
			return mrLookup{}, classifyErr(resp, fmt.Errorf("finding merge request for commit: %w", err))
		}
		if len(mrs) == 0 {
			return mrLookup{}, nil
		}
		return mrLookup{number: int64(mrs[0].IID), found: true}, nil
	}, c.retryOpts()...)
	return result.number, result.found, err
}

// CheckFileExistsInBranch reports whether path exists at the tip of branch.
func (c *Client) CheckFileExistsInBranch(ctx context.Context, workspace, repoSlug, branch, path string) (bool, error) {
	return retry.DoVal(ctx, func() (bool, error) {
		_, resp, err := c.cli.RepositoryFiles.GetFileMetaData(projectPath(workspace, repoSlug), path, &gl.GetFileMetaDataOptions{Ref: gl.Ptr(branch)}, gl.WithContext(ctx))
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return false, nil
			}
			return false, classifyErr(resp, fmt.Errorf("checking file existence: %w", err))
		}
		return true, nil
	}, c.retryOpts()...)
}

func (c *Client) retryOpts() []retry.Option {
	if len(c.retryBackoff) > 0 {
		return []retry.Option{retry.WithBackoff(c.retryBackoff...)}
	}
	return nil
}

// classifyErr wraps a GitLab API error as permanent for 4xx responses.
func classifyErr(resp *gl.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(err)
	}
	return err
}

// renderUnifiedDiff concatenates GitLab's per-file structured diffs into the
// same "diff --git a/X b/Y" unified format the orchestrator's diff-parsing
// helpers expect, regardless of which provider produced it.
func renderUnifiedDiff(diffs []*gl.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", d.OldPath, d.NewPath)
		b.WriteString(d.Diff)
		if !strings.HasSuffix(d.Diff, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
