package main

import (
	"context"

	"github.com/codecrow/branchanalyzer/internal/aiclient"
	"github.com/codecrow/branchanalyzer/internal/progress"
)

// credentialInjectingAI attaches the resolved AI API key to every outbound
// request before delegating to a concrete AiAnalysisClient, keeping
// internal/aiclient itself credential-agnostic (it only knows about the
// per-request Credential field, never how it was resolved).
type credentialInjectingAI struct {
	inner aiclient.AiAnalysisClient
	key   string
}

var _ aiclient.AiAnalysisClient = (*credentialInjectingAI)(nil)

func (c *credentialInjectingAI) PerformAnalysis(ctx context.Context, req aiclient.AiAnalysisRequest, sink progress.Sink) (aiclient.AiAnalysisResponse, error) {
	req.Credential = c.key
	return c.inner.PerformAnalysis(ctx, req, sink)
}
