// Package bitbucket is the Bitbucket Cloud and Bitbucket Server
// VcsOperations/VcsAiClient/Reporter triple (spec.md §6). Neither the
// teacher nor the rest of the retrieval pack ships a Bitbucket REST client
// library (the one pack file that touches Bitbucket, a CLI, talks to the
// API over plain net/http too — see DESIGN.md) so this package is the
// documented standard-library exception: a small retry-wrapped JSON client
// in the same shape as the GitHub/GitLab siblings.
package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codecrow/branchanalyzer/internal/retry"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

const defaultCloudBaseURL = "https://api.bitbucket.org/2.0"

// Client is a Bitbucket Cloud REST API client implementing vcs.Operations.
type Client struct {
	BaseURL      string
	Token        string
	RetryBackoff []time.Duration

	httpClient *http.Client
}

var _ vcs.Operations = (*Client)(nil)

// New creates a Bitbucket Cloud client authenticated with an OAuth/App
// Password bearer token.
func New(token string) *Client {
	return &Client{
		BaseURL:    defaultCloudBaseURL,
		Token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) GetCommitRangeDiff(ctx context.Context, workspace, repoSlug, baseSHA, headSHA string) (string, error) {
	path := fmt.Sprintf("/repositories/%s/%s/diff/%s..%s", workspace, repoSlug, headSHA, baseSHA)
	return c.getRawDiff(ctx, path)
}

func (c *Client) GetPullRequestDiff(ctx context.Context, workspace, repoSlug string, prNumber int64) (string, error) {
	path := fmt.Sprintf("/repositories/%s/%s/pullrequests/%d/diff", workspace, repoSlug, prNumber)
	return c.getRawDiff(ctx, path)
}

func (c *Client) GetCommitDiff(ctx context.Context, workspace, repoSlug, sha string) (string, error) {
	path := fmt.Sprintf("/repositories/%s/%s/diff/%s", workspace, repoSlug, sha)
	return c.getRawDiff(ctx, path)
}

type prPage struct {
	Values []struct {
		ID int64 `json:"id"`
	} `json:"values"`
}

func (c *Client) FindPullRequestForCommit(ctx context.Context, workspace, repoSlug, sha string) (int64, bool, error) {
	path := fmt.Sprintf("/repositories/%s/%s/commit/%s/pullrequests", workspace, repoSlug, sha)
	var page prPage
	if err := c.getJSON(ctx, path, &page); err != nil {
		return 0, false, err
	}
	if len(page.Values) == 0 {
		return 0, false, nil
	}
	return page.Values[0].ID, true, nil
}

func (c *Client) CheckFileExistsInBranch(ctx context.Context, workspace, repoSlug, branch, path string) (bool, error) {
	urlPath := fmt.Sprintf("/repositories/%s/%s/src/%s/%s", workspace, repoSlug, branch, path)
	found, _, err := c.headOrGet(ctx, urlPath)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (c *Client) headOrGet(ctx context.Context, urlPath string) (bool, int, error) {
	type result struct {
		ok     bool
		status int
	}
	r, err := retry.DoVal(ctx, func() (result, error) {
		req, err := c.newRequest(ctx, http.MethodGet, urlPath, nil)
		if err != nil {
			return result{}, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return result{}, fmt.Errorf("checking file existence: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			return result{ok: false, status: resp.StatusCode}, nil
		}
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("bitbucket request failed with status %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				return result{}, retry.Permanent(err)
			}
			return result{}, err
		}
		return result{ok: true, status: resp.StatusCode}, nil
	}, c.retryOpts()...)
	return r.ok, r.status, err
}

func (c *Client) getRawDiff(ctx context.Context, urlPath string) (string, error) {
	return retry.DoVal(ctx, func() (string, error) {
		req, err := c.newRequest(ctx, http.MethodGet, urlPath, nil)
		if err != nil {
			return "", err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetching diff: %w", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("reading diff response: %w", err)
		}
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("bitbucket diff request failed with status %d: %s", resp.StatusCode, data)
			if resp.StatusCode < 500 {
				return "", retry.Permanent(err)
			}
			return "", err
		}
		return string(data), nil
	}, c.retryOpts()...)
}

func (c *Client) getJSON(ctx context.Context, urlPath string, out any) error {
	_, err := retry.DoVal(ctx, func() (struct{}, error) {
		req, err := c.newRequest(ctx, http.MethodGet, urlPath, nil)
		if err != nil {
			return struct{}{}, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("performing request: %w", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, fmt.Errorf("reading response body: %w", err)
		}
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("bitbucket request failed with status %d: %s", resp.StatusCode, data)
			if resp.StatusCode < 500 {
				return struct{}{}, retry.Permanent(err)
			}
			return struct{}{}, err
		}
		if err := json.Unmarshal(data, out); err != nil {
			return struct{}{}, fmt.Errorf("decoding response: %w", err)
		}
		return struct{}{}, nil
	}, c.retryOpts()...)
	return err
}

func (c *Client) postJSON(ctx context.Context, urlPath string, body any, out any) error {
	_, err := retry.DoVal(ctx, func() (struct{}, error) {
		encoded, err := json.Marshal(body)
		if err != nil {
			return struct{}{}, fmt.Errorf("encoding request body: %w", err)
		}
		req, err := c.newRequest(ctx, http.MethodPost, urlPath, bytes.NewReader(encoded))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("performing request: %w", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, fmt.Errorf("reading response body: %w", err)
		}
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("bitbucket request failed with status %d: %s", resp.StatusCode, data)
			if resp.StatusCode < 500 {
				return struct{}{}, retry.Permanent(err)
			}
			return struct{}{}, err
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return struct{}{}, fmt.Errorf("decoding response: %w", err)
			}
		}
		return struct{}{}, nil
	}, c.retryOpts()...)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, urlPath string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+urlPath, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultCloudBaseURL
}

func (c *Client) retryOpts() []retry.Option {
	if len(c.RetryBackoff) > 0 {
		return []retry.Option{retry.WithBackoff(c.RetryBackoff...)}
	}
	return nil
}
