// Package github is the GitHub VcsOperations/VcsAiClient/Reporter triple
// (spec.md §6), wrapping google/go-github the way the teacher's own GitHub
// client does: App-auth JWT signing via a Client-ID issuer, retry-wrapped
// calls, and 4xx/5xx classification.
package github

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/codecrow/branchanalyzer/internal/retry"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// Client is a typed GitHub API client implementing vcs.Operations.
type Client struct {
	gh           *gh.Client
	retryBackoff []time.Duration
}

var _ vcs.Operations = (*Client)(nil)

// Option configures a Client.
type Option func(*clientConfig)

// AppCredentials holds GitHub App authentication parameters.
type AppCredentials struct {
	ClientID       string
	InstallationID int64
	PrivateKeyPEM  string // PEM-encoded RSA private key contents
}

type clientConfig struct {
	baseURL      string
	retryBackoff []time.Duration
	app          *AppCredentials
}

// WithBaseURL overrides the GitHub API base URL (GitHub Enterprise, or tests).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithRetryBackoff overrides the default retry backoff delays.
func WithRetryBackoff(delays ...time.Duration) Option {
	return func(c *clientConfig) { c.retryBackoff = delays }
}

// WithAppAuth configures GitHub App installation authentication. When set,
// token is ignored.
func WithAppAuth(app AppCredentials) Option {
	return func(c *clientConfig) { c.app = &app }
}

// New creates a GitHub API client. With WithAppAuth it authenticates as a
// GitHub App installation; otherwise it uses the given personal access /
// OAuth token (the credential resolved from the project's VcsConnectionID).
func New(token string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}

	var client *gh.Client
	if cfg.app != nil {
		httpClient, err := newAppHTTPClient(cfg.app, cfg.baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub App auth: %w", err)
		}
		client = gh.NewClient(httpClient)
	} else {
		client = gh.NewClient(nil).WithAuthToken(token)
	}
	if cfg.baseURL != "" {
		if withEnterprise, err := client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL); err == nil {
			client = withEnterprise
		}
	}

	return &Client{gh: client, retryBackoff: cfg.retryBackoff}, nil
}

func newAppHTTPClient(app *AppCredentials, baseURL string) (*http.Client, error) {
	block, _ := pem.Decode([]byte(app.PrivateKeyPEM))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	keyAny, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer := &clientIDSigner{
		clientID: app.ClientID,
		method:   jwt.SigningMethodRS256,
		key:      keyAny,
	}

	atr, err := ghinstallation.NewAppsTransportWithOptions(
		http.DefaultTransport, 0, // appID unused — signer overrides the issuer
		ghinstallation.WithSigner(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("creating apps transport: %w", err)
	}
	if baseURL != "" {
		atr.BaseURL = baseURL
	}

	itr := ghinstallation.NewFromAppsTransport(atr, app.InstallationID)
	if baseURL != "" {
		itr.BaseURL = baseURL
	}

	return &http.Client{Transport: itr}, nil
}

// clientIDSigner implements ghinstallation.Signer using a string Client ID
// as the JWT issuer instead of a numeric App ID.
type clientIDSigner struct {
	clientID string
	method   jwt.SigningMethod
	key      any
}

func (s *clientIDSigner) Sign(claims jwt.Claims) (string, error) {
	if rc, ok := claims.(*jwt.RegisteredClaims); ok {
		rc.Issuer = s.clientID
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

// GetCommitRangeDiff fetches the unified diff between two commits (spec.md
// §4.2 tier A).
func (c *Client) GetCommitRangeDiff(ctx context.Context, workspace, repoSlug, baseSHA, headSHA string) (string, error) {
	return retry.DoVal(ctx, func() (string, error) {
		diff, _, err := c.gh.Repositories.CompareCommitsRaw(ctx, workspace, repoSlug, baseSHA, headSHA, gh.RawOptions{Type: gh.Diff})
		if err != nil {
			return "", classifyErr(fmt.Errorf("fetching commit range diff: %w", err))
		}
		return diff, nil
	}, c.retryOpts()...)
}

// GetPullRequestDiff fetches the unified diff for a pull request (spec.md
// §4.2 tier B).
func (c *Client) GetPullRequestDiff(ctx context.Context, workspace, repoSlug string, prNumber int64) (string, error) {
	return retry.DoVal(ctx, func() (string, error) {
		diff, _, err := c.gh.PullRequests.GetRaw(ctx, workspace, repoSlug, int(prNumber), gh.RawOptions{Type: gh.Diff})
		if err != nil {
			return "", classifyErr(fmt.Errorf("fetching pull request diff: %w", err))
		}
		return diff, nil
	}, c.retryOpts()...)
}

// GetCommitDiff fetches the unified diff introduced by a single commit
// (spec.md §4.2 tier C).
func (c *Client) GetCommitDiff(ctx context.Context, workspace, repoSlug, sha string) (string, error) {
	return retry.DoVal(ctx, func() (string, error) {
		diff, _, err := c.gh.Repositories.GetCommitRaw(ctx, workspace, repoSlug, sha, gh.RawOptions{Type: gh.Diff})
		if err != nil {
			return "", classifyErr(fmt.Errorf("fetching commit diff: %w", err))
		}
		return diff, nil
	}, c.retryOpts()...)
}

type prLookup struct {
	number int64
	found  bool
}

// FindPullRequestForCommit returns the first open PR whose head SHA matches
// sha, if any.
func (c *Client) FindPullRequestForCommit(ctx context.Context, workspace, repoSlug, sha string) (int64, bool, error) {
	result, err := retry.DoVal(ctx, func() (prLookup, error) {
		prs, _, err := c.gh.PullRequests.ListPullRequestsWithCommit(ctx, workspace, repoSlug, sha, &gh.ListOptions{PerPage: 10})
		if err != nil {
			return prLookup{}, classifyErr(fmt.Errorf("finding pull request for commit: %w", err))
		}
		if len(prs) == 0 {
			return prLookup{}, nil
		}
		return prLookup{number: int64(prs[0].GetNumber()), found: true}, nil
	}, c.retryOpts()...)
	return result.number, result.found, err
}

// CheckFileExistsInBranch reports whether path exists at the tip of branch.
func (c *Client) CheckFileExistsInBranch(ctx context.Context, workspace, repoSlug, branch, path string) (bool, error) {
	return retry.DoVal(ctx, func() (bool, error) {
		_, _, resp, err := c.gh.Repositories.GetContents(ctx, workspace, repoSlug, path, &gh.RepositoryContentGetOptions{Ref: branch})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return false, nil
			}
			return false, classifyErr(fmt.Errorf("checking file existence: %w", err))
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

// classifyErr wraps a go-github error as permanent if it's a client error
// (4xx); 5xx and network errors stay retryable.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		if ghErr.Response.StatusCode >= 400 && ghErr.Response.StatusCode < 500 {
			return retry.Permanent(err)
		}
	}
	return err
}
