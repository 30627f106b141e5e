package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/codecrow/branchanalyzer/internal/retry"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// ServerClient talks to a self-hosted Bitbucket Server/Data Center instance
// (REST API 1.0), which uses a different path scheme and diff representation
// than Bitbucket Cloud's 2.0 API — close enough in shape to share the
// retry/JSON plumbing in bitbucket.go but distinct enough to need its own
// path builders and diff-text assembly.
type ServerClient struct {
	BaseURL      string // e.g. https://bitbucket.example.com/rest
	Token        string
	RetryBackoff []time.Duration

	httpClient *http.Client
}

var _ vcs.Operations = (*ServerClient)(nil)

func NewServerClient(baseURL, token string) *ServerClient {
	return &ServerClient{
		BaseURL:    baseURL,
		Token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type serverDiffResponse struct {
	Diffs []struct {
		Source      *struct{ ToString string `json:"toString"` } `json:"source"`
		Destination *struct{ ToString string `json:"toString"` } `json:"destination"`
		Hunks       []struct {
			Segments []struct {
				Type  string `json:"type"`
				Lines []struct {
					Line string `json:"line"`
				} `json:"lines"`
			} `json:"segments"`
		} `json:"hunks"`
	} `json:"diffs"`
}

func (s *ServerClient) GetCommitRangeDiff(ctx context.Context, workspace, repoSlug, baseSHA, headSHA string) (string, error) {
	path := fmt.Sprintf("/api/1.0/projects/%s/repos/%s/compare/diff?from=%s&to=%s", workspace, repoSlug, baseSHA, headSHA)
	return s.getServerDiff(ctx, path)
}

func (s *ServerClient) GetPullRequestDiff(ctx context.Context, workspace, repoSlug string, prNumber int64) (string, error) {
	path := fmt.Sprintf("/api/1.0/projects/%s/repos/%s/pull-requests/%d/diff", workspace, repoSlug, prNumber)
	return s.getServerDiff(ctx, path)
}

func (s *ServerClient) GetCommitDiff(ctx context.Context, workspace, repoSlug, sha string) (string, error) {
	path := fmt.Sprintf("/api/1.0/projects/%s/repos/%s/commits/%s/diff", workspace, repoSlug, sha)
	return s.getServerDiff(ctx, path)
}

func (s *ServerClient) FindPullRequestForCommit(ctx context.Context, workspace, repoSlug, sha string) (int64, bool, error) {
	path := fmt.Sprintf("/api/1.0/projects/%s/repos/%s/commits/%s/pull-requests", workspace, repoSlug, sha)
	var page struct {
		Values []struct {
			ID int64 `json:"id"`
		} `json:"values"`
	}
	if err := s.getJSON(ctx, path, &page); err != nil {
		return 0, false, err
	}
	if len(page.Values) == 0 {
		return 0, false, nil
	}
	return page.Values[0].ID, true, nil
}

func (s *ServerClient) CheckFileExistsInBranch(ctx context.Context, workspace, repoSlug, branch, path string) (bool, error) {
	urlPath := fmt.Sprintf("/api/1.0/projects/%s/repos/%s/browse/%s?at=%s", workspace, repoSlug, path, branch)
	_, err := retry.DoVal(ctx, func() (struct{}, error) {
		req, err := s.newRequest(ctx, http.MethodGet, urlPath)
		if err != nil {
			return struct{}{}, err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("checking file existence: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return struct{}{}, retry.Permanent(errNotFound)
		}
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("bitbucket server request failed with status %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				return struct{}{}, retry.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, s.retryOpts()...)
	if err == errNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// errNotFound is a sentinel distinguishing "file absent" from a transport
// failure inside CheckFileExistsInBranch's retry.Permanent wrapping.
var errNotFound = fmt.Errorf("not found")

func (s *ServerClient) getServerDiff(ctx context.Context, urlPath string) (string, error) {
	var parsed serverDiffResponse
	if err := s.getJSON(ctx, urlPath, &parsed); err != nil {
		return "", err
	}
	return renderServerDiff(parsed), nil
}

func renderServerDiff(resp serverDiffResponse) string {
	out := ""
	for _, d := range resp.Diffs {
		src, dst := "", ""
		if d.Source != nil {
			src = d.Source.ToString
		}
		if d.Destination != nil {
			dst = d.Destination.ToString
		}
		out += fmt.Sprintf("diff --git a/%s b/%s\n", src, dst)
		for _, hunk := range d.Hunks {
			for _, seg := range hunk.Segments {
				prefix := " "
				switch seg.Type {
				case "ADDED":
					prefix = "+"
				case "REMOVED":
					prefix = "-"
				}
				for _, line := range seg.Lines {
					out += prefix + line.Line + "\n"
				}
			}
		}
	}
	return out
}

func (s *ServerClient) getJSON(ctx context.Context, urlPath string, out any) error {
	_, err := retry.DoVal(ctx, func() (struct{}, error) {
		req, err := s.newRequest(ctx, http.MethodGet, urlPath)
		if err != nil {
			return struct{}{}, err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("performing request: %w", err)
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			err := fmt.Errorf("bitbucket server request failed with status %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				return struct{}{}, retry.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, decodeJSON(resp, out)
	}, s.retryOpts()...)
	return err
}

func (s *ServerClient) newRequest(ctx context.Context, method, urlPath string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+urlPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	return req, nil
}

func (s *ServerClient) retryOpts() []retry.Option {
	if len(s.RetryBackoff) > 0 {
		return []retry.Option{retry.WithBackoff(s.RetryBackoff...)}
	}
	return nil
}
