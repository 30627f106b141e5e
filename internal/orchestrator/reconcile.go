package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codecrow/branchanalyzer/internal/aiclient"
	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/progress"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// gatherCandidates implements spec.md §4.3 step A: union the still-open
// BranchIssues touching any changed file, then apply the branch-specific
// filter (§8 P6) — only issues originally recorded on this branch name are
// eligible for re-evaluation.
func gatherCandidates(database *db.DB, branchID, branchName string, changedFiles []string) ([]db.OpenBranchIssue, error) {
	var candidates []db.OpenBranchIssue
	seen := make(map[string]bool)

	for _, path := range changedFiles {
		open, err := database.OpenBranchIssuesForFile(branchID, path)
		if err != nil {
			return nil, fmt.Errorf("gathering open branch issues for %s: %w", path, err)
		}
		for _, oi := range open {
			if oi.Issue.BranchName != branchName {
				continue
			}
			if seen[oi.BranchIssue.ID] {
				continue
			}
			seen[oi.BranchIssue.ID] = true
			candidates = append(candidates, oi)
		}
	}
	return candidates, nil
}

// reconcileIssues implements spec.md §4.3 steps B and C: build and send one
// AI request for the union of candidates, then apply each returned verdict.
// The invariant "never creates new issues and never un-resolves an
// already-resolved BranchIssue" holds by construction — this function only
// ever flips BranchIssue.resolved from false to true.
func reconcileIssues(ctx context.Context, database *db.DB, ai aiclient.AiAnalysisClient, builder vcs.AiRequestBuilder, project db.Project, req Request, rawDiff string, candidates []db.OpenBranchIssue, previousContext string, tokenCeiling int, sink progress.Sink, logger *slog.Logger) error {
	if len(candidates) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	ac := vcs.AnalysisContext{
		TargetBranchName:        req.TargetBranchName,
		CommitHash:              req.CommitHash,
		SourcePullRequestNumber: req.SourcePullRequestNumber,
		RawDiff:                 rawDiff,
		Candidates:              toCandidateIssues(candidates),
		PreviousAnalysisContext: previousContext,
		TokenCeiling:            tokenCeiling,
	}

	request, err := builder.BuildAiAnalysisRequest(ctx, project, ac)
	if err != nil {
		return fmt.Errorf("building ai analysis request: %w", err)
	}

	sink.Emit(progress.Event{"stage": progress.StageAI, "candidate_count": len(candidates)})
	response, err := ai.PerformAnalysis(ctx, request, sink)
	if err != nil {
		return fmt.Errorf("performing ai analysis: %w", err)
	}

	verdicts := aiclient.NormalizeVerdicts(response, logger)
	byIssueID := make(map[string]db.OpenBranchIssue, len(candidates))
	for _, c := range candidates {
		byIssueID[c.BranchIssue.CodeAnalysisIssueID] = c
	}

	for _, v := range verdicts {
		candidate, ok := byIssueID[v.IssueID]
		if !ok {
			logger.Warn("ai verdict referenced an unknown issue id", "issue_id", v.IssueID)
			continue
		}
		if candidate.BranchIssue.Resolved {
			continue
		}
		if !v.IsResolved {
			continue
		}
		if err := database.ResolveBranchIssue(candidate.BranchIssue.ID, req.CommitHash, req.SourcePullRequestNumber, v.Reason); err != nil {
			return fmt.Errorf("resolving branch issue %s: %w", candidate.BranchIssue.ID, err)
		}
	}

	return nil
}

func toCandidateIssues(candidates []db.OpenBranchIssue) []aiclient.CandidateIssue {
	out := make([]aiclient.CandidateIssue, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, aiclient.CandidateIssue{
			ID:         c.Issue.ID,
			FilePath:   c.Issue.FilePath,
			LineNumber: c.Issue.LineNumber,
			Severity:   string(c.Issue.Severity),
			Category:   c.Issue.Category,
		})
	}
	return out
}
