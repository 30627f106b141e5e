package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codecrow/branchanalyzer/internal/progress"
	"github.com/codecrow/branchanalyzer/internal/retry"
)

// HTTPClient is a generic JSON-over-HTTP AiAnalysisClient implementation.
// All three providers' VcsAiClient implementations build an AiAnalysisRequest
// and hand it to a shared HTTPClient instance (SPEC_FULL.md §7) — the
// provider-specific part is framing the request, not talking to the model.
type HTTPClient struct {
	Endpoint     string
	Model        string
	Timeout      time.Duration
	RetryBackoff []time.Duration

	httpClient *http.Client
}

// NewHTTPClient returns an HTTPClient with sane defaults.
func NewHTTPClient(endpoint, model string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &HTTPClient{
		Endpoint:   endpoint,
		Model:      model,
		Timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ AiAnalysisClient = (*HTTPClient)(nil)

type wireRequest struct {
	Model            string           `json:"model"`
	ProjectName      string           `json:"projectName"`
	ProjectNamespace string           `json:"projectNamespace"`
	TargetBranchName string           `json:"targetBranchName"`
	CommitHash       string           `json:"commitHash"`
	PullRequest      int64            `json:"pullRequestNumber,omitempty"`
	RawDiff          string           `json:"rawDiff"`
	Candidates       []CandidateIssue `json:"candidates"`
	PreviousContext  string           `json:"previousAnalysisContext,omitempty"`
	MaxTokens        int              `json:"maxTokens,omitempty"`
	Prompt           string           `json:"prompt"`
}

// PerformAnalysis sends req to the configured endpoint and returns the raw
// decoded JSON response. A non-2xx status in the 4xx range is treated as
// permanent (retry.Permanent); 5xx and network errors are retried.
// Exceeding req.TokenCeiling is a reportable failure, never silent
// truncation (spec.md §5).
func (c *HTTPClient) PerformAnalysis(ctx context.Context, req AiAnalysisRequest, sink progress.Sink) (AiAnalysisResponse, error) {
	if sink == nil {
		sink = progress.Noop{}
	}

	model := req.Model
	if model == "" {
		model = c.Model
	}

	prompt, err := RenderCodeReviewPrompt(CodeReviewPromptData{
		ProjectName:             req.ProjectName,
		TargetBranchName:        req.TargetBranchName,
		CommitHash:              req.CommitHash,
		SourcePullRequestNumber: req.SourcePullRequestNumber,
		RawDiff:                 req.RawDiff,
		Candidates:              req.Candidates,
		PreviousAnalysisContext: req.PreviousAnalysisContext,
	}, req.PromptOverrideDir)
	if err != nil {
		return nil, fmt.Errorf("rendering ai analysis prompt: %w", err)
	}

	body, err := json.Marshal(wireRequest{
		Model:            model,
		ProjectName:      req.ProjectName,
		ProjectNamespace: req.ProjectNamespace,
		TargetBranchName: req.TargetBranchName,
		CommitHash:       req.CommitHash,
		PullRequest:      req.SourcePullRequestNumber,
		RawDiff:          req.RawDiff,
		Candidates:       req.Candidates,
		PreviousContext:  req.PreviousAnalysisContext,
		MaxTokens:        req.TokenCeiling,
		Prompt:           prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding ai analysis request: %w", err)
	}

	sink.Emit(progress.Event{"stage": progress.StageAI, "message": "invoking analysis model", "candidateCount": len(req.Candidates)})

	resp, err := retry.DoVal(ctx, func() (AiAnalysisResponse, error) {
		return c.doRequest(ctx, req.Credential, body)
	}, retry.WithBackoff(c.retryBackoff()...))
	if err != nil {
		return nil, fmt.Errorf("performing ai analysis: %w", err)
	}

	if usage, ok := resp["tokensUsed"].(float64); ok && req.TokenCeiling > 0 && int(usage) > req.TokenCeiling {
		return nil, fmt.Errorf("ai analysis exceeded token ceiling: used %d, ceiling %d", int(usage), req.TokenCeiling)
	}

	sink.Emit(progress.Event{"stage": progress.StageAI, "message": "analysis complete"})
	return resp, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, credential string, body []byte) (AiAnalysisResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building ai analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending ai analysis request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ai analysis response: %w", err)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("ai analysis request failed with status %d: %s", resp.StatusCode, data)
		if resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var parsed AiAnalysisResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding ai analysis response: %w", err)
	}
	return parsed, nil
}

func (c *HTTPClient) retryBackoff() []time.Duration {
	if len(c.RetryBackoff) > 0 {
		return c.RetryBackoff
	}
	return retry.DefaultBackoff
}
