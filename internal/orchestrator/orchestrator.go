package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codecrow/branchanalyzer/internal/analysislock"
	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/progress"
	"github.com/codecrow/branchanalyzer/internal/vcs"
	"github.com/google/uuid"
)

// Orchestrator is the Branch Analysis Orchestrator (spec.md §4.1): the
// single process() entry point wiring together diff selection, file-state
// synchronization, issue reconciliation, and retrieval-index updates.
type Orchestrator struct {
	deps   Dependencies
	logger *slog.Logger
}

// New builds an Orchestrator from its collaborators.
func New(deps Dependencies, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// Process implements spec.md §4.1's flow in full, including the failure
// cleanup contract (spec.md §5): on any error after the lock is acquired,
// branch health is set to stale, the lock is released, and the error is
// returned unchanged (lastSuccessfulCommitHash is never advanced on a
// failure path).
func (o *Orchestrator) Process(ctx context.Context, req Request, sink progress.Sink) (Result, error) {
	sink = progressOrNoop(sink)

	// Step 1: load the project and resolve its provider binding.
	project, err := o.deps.DB.GetProject(req.ProjectID)
	if err != nil {
		return Result{}, fmt.Errorf("loading project %s: %w", req.ProjectID, err)
	}
	if project.VcsProvider == "" {
		return Result{}, fmt.Errorf("project %s: %w", project.ID, ErrNoVcsConfigured)
	}
	binding, err := o.deps.Registry.Lookup(vcs.ProviderTag(project.VcsProvider))
	if err != nil {
		return Result{}, err
	}

	// Step 2: acquire the BRANCH_ANALYSIS lock with a bounded wait. Denial
	// emits no progress events and makes no writes (spec.md §4.1 step 2,
	// scenario 6).
	holderID := uuid.New().String()
	maxWait, pollInterval := lockTiming(o.deps)
	handle, err := o.deps.Lock.AcquireLockWithWait(ctx, project.ID, req.TargetBranchName, analysislock.LockTypeBranchAnalysis, holderID, maxWait, pollInterval)
	if err != nil {
		return Result{}, fmt.Errorf("acquiring analysis lock: %w", err)
	}
	if handle == nil {
		return Result{}, &LockedError{Project: project.ID, Branch: req.TargetBranchName, WaitedFor: maxWait}
	}
	defer func() {
		if relErr := o.deps.Lock.ReleaseLock(ctx, handle); relErr != nil {
			o.logger.Error("releasing analysis lock", "project", project.ID, "branch", req.TargetBranchName, "error", relErr)
		}
	}()

	sink.Emit(progress.Event{"stage": progress.StageInit, "project": project.Name, "branch": req.TargetBranchName})

	// Step 3: cache check, performed under the lock (spec.md §4.1 step 3, P1).
	existingBranch, err := o.deps.DB.GetBranch(project.ID, req.TargetBranchName)
	hasExistingBranch := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Result{}, fmt.Errorf("loading branch: %w", err)
		}
		hasExistingBranch = false
	} else if existingBranch.LastSuccessfulCommitHash == req.CommitHash {
		return Result{
			Status: StatusSkipped,
			Reason: ReasonCommitAlreadyAnalyzed,
			Cached: true,
		}, nil
	}

	// Step 4: mark indexing (create if absent). Any failure from here on
	// must set health to stale before returning.
	branch := existingBranch
	if !hasExistingBranch {
		branch = db.Branch{ProjectID: project.ID, BranchName: req.TargetBranchName}
	}
	branch.Health = db.HealthIndexing
	branch, err = o.deps.DB.UpsertBranch(branch)
	if err != nil {
		return Result{}, fmt.Errorf("marking branch indexing: %w", err)
	}

	result, procErr := o.runLocked(ctx, binding, project, branch, existingBranch, hasExistingBranch, req, sink)
	if procErr != nil {
		if setErr := o.deps.DB.SetBranchHealth(branch.ID, db.HealthStale); setErr != nil {
			o.logger.Error("marking branch stale after failure", "branch_id", branch.ID, "error", setErr)
		}
		return Result{}, procErr
	}
	return result, nil
}

// runLocked is everything in spec.md §4.1 steps 5–13 that happens once the
// branch is known and marked indexing.
func (o *Orchestrator) runLocked(ctx context.Context, binding vcs.Binding, project db.Project, branch db.Branch, existingBranch db.Branch, hasExistingBranch bool, req Request, sink progress.Sink) (Result, error) {
	// Step 6-7: diff selection + changed-file extraction.
	rawDiff, err := selectDiff(ctx, binding.Operations, project, existingBranch, hasExistingBranch, req, sink)
	if err != nil {
		return Result{}, fmt.Errorf("selecting diff: %w", err)
	}
	changedFiles := extractChangedFiles(rawDiff)

	// Step 8: file-state synchronization.
	sink.Emit(progress.Event{"stage": progress.StageSync, "changed_file_count": len(changedFiles)})
	syncRes, err := synchronizeFileState(ctx, o.deps.DB, binding.Operations, project, branch, req.TargetBranchName, changedFiles)
	if err != nil {
		return Result{}, fmt.Errorf("synchronizing file state: %w", err)
	}

	// Step 10: issue reconciliation, over the files confirmed to still exist.
	if binding.AiClient != nil && o.deps.AI != nil {
		candidates, err := gatherCandidates(o.deps.DB, branch.ID, req.TargetBranchName, syncRes.existingFiles)
		if err != nil {
			return Result{}, fmt.Errorf("gathering reconciliation candidates: %w", err)
		}
		tokenCeiling := 0
		if err := reconcileIssues(ctx, o.deps.DB, o.deps.AI, binding.AiClient, project, req, rawDiff, candidates, "", tokenCeiling, sink, o.logger); err != nil {
			return Result{}, fmt.Errorf("reconciling issues: %w", err)
		}
	}

	// Step 11: recompute counters.
	if err := o.deps.DB.RecomputeBranchCounters(branch.ID); err != nil {
		return Result{}, fmt.Errorf("recomputing branch counters: %w", err)
	}

	// Step 12: retrieval-index update — logged and swallowed on failure
	// (spec.md §4.6: "do not fail the analysis").
	o.updateRetrievalIndex(ctx, project, req.TargetBranchName, req.CommitHash, rawDiff, sink)

	// Step 13: mark healthy, advance lastSuccessfulCommitHash.
	branch.Health = db.HealthHealthy
	branch.LastSuccessfulCommitHash = req.CommitHash
	branch, err = o.deps.DB.UpsertBranch(branch)
	if err != nil {
		return Result{}, fmt.Errorf("marking branch healthy: %w", err)
	}

	sink.Emit(progress.Event{"stage": progress.StageComplete, "branch_id": branch.ID})

	return Result{
		Status:          StatusAccepted,
		Cached:          false,
		BranchID:        branch.ID,
		TotalIssueCount: branch.TotalIssueCount,
		HighCount:       branch.HighCount,
		MediumCount:     branch.MediumCount,
		LowCount:        branch.LowCount,
		InfoCount:       branch.InfoCount,
		AnalyzedAt:      time.Now().UTC(),
	}, nil
}

// updateRetrievalIndex implements spec.md §4.6: only one of
// TriggerIncrementalUpdate/UpdateBranchIndex is called per run, and only if
// the project has RAG enabled and its index is ready.
func (o *Orchestrator) updateRetrievalIndex(ctx context.Context, project db.Project, branchName, commitHash, rawDiff string, sink progress.Sink) {
	if o.deps.Rag == nil || !o.deps.Rag.IsRagEnabled(project) {
		return
	}
	ready, err := o.deps.Rag.IsRagIndexReady(ctx, project)
	if err != nil {
		o.logger.Warn("checking rag index readiness", "project", project.ID, "error", err)
		return
	}
	if !ready {
		return
	}

	sink.Emit(progress.Event{"stage": progress.StageRag, "branch": branchName})

	if branchName == o.deps.Rag.GetBaseBranch(project) {
		if err := o.deps.Rag.TriggerIncrementalUpdate(ctx, project, branchName, commitHash, rawDiff, sink); err != nil {
			o.logger.Warn("incremental rag update failed", "project", project.ID, "branch", branchName, "error", err)
		}
		return
	}
	if err := o.deps.Rag.UpdateBranchIndex(ctx, project, branchName, sink); err != nil {
		o.logger.Warn("branch rag reindex failed", "project", project.ID, "branch", branchName, "error", err)
	}
}

func lockTiming(deps Dependencies) (time.Duration, time.Duration) {
	maxWait := deps.LockMaxWait
	if maxWait == 0 {
		maxWait = 2 * time.Minute
	}
	pollInterval := deps.LockPollWait
	if pollInterval == 0 {
		pollInterval = 500 * time.Millisecond
	}
	return maxWait, pollInterval
}
