// Package rag implements the RagOperations contract (spec.md §4.6, §6):
// deciding between a full-branch reindex and an incremental diff-driven
// update of a project's retrieval index, and a default file-backed index
// concrete enough to exercise that split end to end.
package rag

import (
	"context"

	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/progress"
)

// Operations is the RagOperations contract (spec.md §6). The orchestrator
// consults it only when IsRagEnabled and IsRagIndexReady both hold
// (spec.md §4.6); failures from the update calls are logged and swallowed
// by the caller, never surfaced as analysis failures.
type Operations interface {
	IsRagEnabled(project db.Project) bool
	IsRagIndexReady(ctx context.Context, project db.Project) (bool, error)
	GetBaseBranch(project db.Project) string
	TriggerIncrementalUpdate(ctx context.Context, project db.Project, branchName, commitHash, rawDiff string, sink progress.Sink) error
	UpdateBranchIndex(ctx context.Context, project db.Project, branchName string, sink progress.Sink) error
}

// DefaultIgnoreGlobs are the doublestar patterns FileBacked skips when
// re-walking a branch's working tree (SPEC_FULL.md §6).
var DefaultIgnoreGlobs = []string{
	"vendor/**",
	"node_modules/**",
	"**/*.lock",
	"**/*.min.js",
}
