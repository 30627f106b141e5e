package orchestrator

import (
	"context"
	"fmt"
	"regexp"

	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/progress"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// selectDiff implements the three-tier diff selection decision function
// (spec.md §4.2, P7): delta diff, then PR diff, then commit diff. Tiers 1
// and 2 are tolerant of I/O failure and fall through; tier 3 surfaces.
func selectDiff(ctx context.Context, ops vcs.Operations, project db.Project, existingBranch db.Branch, hasExistingBranch bool, req Request, sink progress.Sink) (string, error) {
	if hasExistingBranch && existingBranch.LastSuccessfulCommitHash != "" {
		diff, err := ops.GetCommitRangeDiff(ctx, project.VcsWorkspaceSlug, project.VcsRepoSlug, existingBranch.LastSuccessfulCommitHash, req.CommitHash)
		if err == nil {
			sink.Emit(progress.Event{"stage": progress.StageDiff, "tier": "delta"})
			return diff, nil
		}
	}

	prNumber := req.SourcePullRequestNumber
	if prNumber == 0 {
		if found, ok, err := ops.FindPullRequestForCommit(ctx, project.VcsWorkspaceSlug, project.VcsRepoSlug, req.CommitHash); err == nil && ok {
			prNumber = found
		}
	}
	if prNumber != 0 {
		diff, err := ops.GetPullRequestDiff(ctx, project.VcsWorkspaceSlug, project.VcsRepoSlug, prNumber)
		if err == nil {
			sink.Emit(progress.Event{"stage": progress.StageDiff, "tier": "pull_request", "pr_number": prNumber})
			return diff, nil
		}
	}

	diff, err := ops.GetCommitDiff(ctx, project.VcsWorkspaceSlug, project.VcsRepoSlug, req.CommitHash)
	if err != nil {
		return "", fmt.Errorf("fetching commit diff: %w", err)
	}
	sink.Emit(progress.Event{"stage": progress.StageDiff, "tier": "commit"})
	return diff, nil
}

var diffGitHeaderRE = regexp.MustCompile(`(?m)^diff --git a/(.+) b/(.+)$`)

// extractChangedFiles parses `diff --git a/<X> b/<Y>` headers and collects
// the destination paths Y (spec.md §4.1 step 7: "handles renames"). A null
// or blank diff yields the empty set.
func extractChangedFiles(rawDiff string) []string {
	if rawDiff == "" {
		return nil
	}
	matches := diffGitHeaderRE.FindAllStringSubmatch(rawDiff, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		dest := m[2]
		if !seen[dest] {
			seen[dest] = true
			out = append(out, dest)
		}
	}
	return out
}
