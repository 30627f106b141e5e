package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/codecrow/branchanalyzer/internal/analysislock"
	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

func ctxBG() context.Context { return context.Background() }

func testDB(t *testing.T) *db.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := db.Open(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testProject(t *testing.T, database *db.DB) db.Project {
	t.Helper()
	p, err := database.CreateProject(db.Project{
		Name:             "web",
		VcsProvider:      string(vcs.ProviderGitHub),
		VcsWorkspaceSlug: "acme",
		VcsRepoSlug:      "web",
		BaseBranch:       "main",
	})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	return p
}

func testOrchestrator(database *db.DB, ops *fakeOps, lock analysislock.Service, ai *fakeAiClient, rag *fakeRag) *Orchestrator {
	registry := NewRegistry(map[vcs.ProviderTag]vcs.Binding{
		vcs.ProviderGitHub: {Operations: ops, AiClient: fakeAiBuilder{}},
	})
	if lock == nil {
		lock = analysislock.NewInProcess()
	}
	deps := Dependencies{
		DB:       database,
		Registry: registry,
		Lock:     lock,
	}
	// A nil *fakeAiClient or *fakeRag stored in an interface field would not
	// compare equal to nil, so the fields are only set for non-nil fakes.
	if ai != nil {
		deps.AI = ai
	}
	if rag != nil {
		deps.Rag = rag
	}
	return New(deps, nil)
}

// Scenario 1: cache hit.
func TestProcess_CacheHit_SkipsWithoutFetchingDiff(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)
	if _, err := database.UpsertBranch(db.Branch{ProjectID: project.ID, BranchName: "main", LastSuccessfulCommitHash: "abc", Health: db.HealthHealthy}); err != nil {
		t.Fatalf("seeding branch: %v", err)
	}

	ops := &fakeOps{}
	o := testOrchestrator(database, ops, nil, nil, nil)

	result, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "abc"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSkipped || result.Reason != ReasonCommitAlreadyAnalyzed {
		t.Errorf("result = %+v, want skipped/commit_already_analyzed", result)
	}
	if ops.rangeDiffCall != 0 || ops.prDiffCall != 0 || ops.commitDiffCall != 0 {
		t.Error("expected no diff fetch calls on a cache hit")
	}
}

// Scenario 2: first analysis, no issues.
func TestProcess_FirstAnalysis_NoIssues(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)

	ops := &fakeOps{commitDiff: "diff --git a/src/App.x b/src/App.x\n+x\n", existing: map[string]bool{"src/App.x": true}}
	o := testOrchestrator(database, ops, nil, nil, nil)

	result, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusAccepted || result.Cached {
		t.Errorf("result = %+v, want accepted/not-cached", result)
	}
	if result.TotalIssueCount != 0 {
		t.Errorf("TotalIssueCount = %d, want 0", result.TotalIssueCount)
	}

	branch, err := database.GetBranch(project.ID, "main")
	if err != nil {
		t.Fatalf("loading branch: %v", err)
	}
	if branch.LastSuccessfulCommitHash != "new" {
		t.Errorf("LastSuccessfulCommitHash = %q, want %q", branch.LastSuccessfulCommitHash, "new")
	}
	if branch.Health != db.HealthHealthy {
		t.Errorf("Health = %q, want healthy", branch.Health)
	}

	if _, err := database.GetBranchFile(project.ID, "main", "src/App.x"); err == nil {
		t.Error("expected no BranchFile for a file with no mapped issues")
	}
}

// Scenario 3: delta diff used when a prior successful commit exists.
func TestProcess_DeltaDiffUsed_WhenPriorCommitExists(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)
	if _, err := database.UpsertBranch(db.Branch{ProjectID: project.ID, BranchName: "main", LastSuccessfulCommitHash: "old", Health: db.HealthHealthy}); err != nil {
		t.Fatalf("seeding branch: %v", err)
	}

	ops := &fakeOps{rangeDiff: "diff --git a/x b/x\n"}
	o := testOrchestrator(database, ops, nil, nil, nil)

	if _, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ops.rangeDiffCall != 1 {
		t.Errorf("rangeDiffCall = %d, want 1", ops.rangeDiffCall)
	}
	if ops.prDiffCall != 0 || ops.commitDiffCall != 0 {
		t.Error("expected neither PR diff nor commit diff to be called when delta diff succeeds")
	}
}

// Scenario 4 / P7: delta-diff failure falls through to PR diff.
func TestProcess_DeltaDiffFailure_FallsBackToPullRequestDiff(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)
	if _, err := database.UpsertBranch(db.Branch{ProjectID: project.ID, BranchName: "main", LastSuccessfulCommitHash: "old", Health: db.HealthHealthy}); err != nil {
		t.Fatalf("seeding branch: %v", err)
	}

	ops := &fakeOps{rangeDiffErr: errors.New("network error"), prDiff: "diff --git a/x b/x\n"}
	o := testOrchestrator(database, ops, nil, nil, nil)

	result, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new", SourcePullRequestNumber: 42}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ops.prDiffCall != 1 {
		t.Errorf("prDiffCall = %d, want 1", ops.prDiffCall)
	}
	if ops.commitDiffCall != 0 {
		t.Error("expected commit diff not to be called once PR diff succeeds")
	}

	branch, err := database.GetBranch(project.ID, "main")
	if err != nil {
		t.Fatalf("loading branch: %v", err)
	}
	if branch.LastSuccessfulCommitHash != "new" {
		t.Error("expected lastSuccessfulCommitHash to advance")
	}
	if result.Status != StatusAccepted {
		t.Errorf("Status = %q, want accepted", result.Status)
	}
}

// Scenario 5: reconciliation resolves an issue via an AI verdict.
func TestProcess_ReconciliationResolvesIssue(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)
	branch, err := database.UpsertBranch(db.Branch{ProjectID: project.ID, BranchName: "main", Health: db.HealthIndexing})
	if err != nil {
		t.Fatalf("seeding branch: %v", err)
	}

	issue, err := database.CreateIssue(db.CodeAnalysisIssue{
		ProjectID:  project.ID,
		FilePath:   "src/App.x",
		Severity:   db.SeverityHigh,
		Category:   "bug",
		BranchName: "main",
	})
	if err != nil {
		t.Fatalf("creating issue: %v", err)
	}
	if _, err := database.EnsureBranchIssue(branch.ID, issue.ID); err != nil {
		t.Fatalf("ensuring branch issue: %v", err)
	}

	ops := &fakeOps{prDiff: "diff --git a/src/App.x b/src/App.x\n+x\n", existing: map[string]bool{"src/App.x": true}}
	ai := &fakeAiClient{response: map[string]any{
		"issues": []any{
			map[string]any{"issueId": issue.ID, "isResolved": true, "reason": "Fixed"},
		},
	}}
	o := testOrchestrator(database, ops, nil, ai, nil)

	result, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new", SourcePullRequestNumber: 42}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Errorf("Status = %q, want accepted", result.Status)
	}
	if ai.calls != 1 {
		t.Errorf("ai calls = %d, want 1", ai.calls)
	}

	bi, err := database.GetBranchIssue(branch.ID, issue.ID)
	if err != nil {
		t.Fatalf("loading branch issue: %v", err)
	}
	if !bi.Resolved {
		t.Error("expected branch issue to be resolved")
	}
	if bi.ResolvedInCommitHash != "new" || bi.ResolvedInPrNumber != 42 || bi.ResolvedDescription != "Fixed" {
		t.Errorf("unexpected resolution fields: %+v", bi)
	}

	reloaded, err := database.GetIssue(issue.ID)
	if err != nil {
		t.Fatalf("reloading issue: %v", err)
	}
	if reloaded.Resolved {
		t.Error("expected underlying CodeAnalysisIssue.resolved to stay untouched by reconciliation")
	}
}

// Scenario 6: lock contention.
func TestProcess_LockContention_FailsWithoutWrites(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)

	ops := &fakeOps{}
	lock := &fakeLock{denyNext: true}
	o := testOrchestrator(database, ops, lock, nil, nil)

	_, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil)
	var lockedErr *LockedError
	if !errors.As(err, &lockedErr) {
		t.Fatalf("expected a LockedError, got %v", err)
	}
	if ops.rangeDiffCall != 0 || ops.prDiffCall != 0 || ops.commitDiffCall != 0 {
		t.Error("expected no diff fetch calls when the lock is denied")
	}
	if _, getErr := database.GetBranch(project.ID, "main"); getErr == nil {
		t.Error("expected no Branch record to be created on lock denial")
	}
}

// P3: on-failure atomicity of commit-hash advance.
func TestProcess_P3_FailureLeavesCommitHashUnchanged(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)
	if _, err := database.UpsertBranch(db.Branch{ProjectID: project.ID, BranchName: "main", LastSuccessfulCommitHash: "old", Health: db.HealthHealthy}); err != nil {
		t.Fatalf("seeding branch: %v", err)
	}

	ops := &fakeOps{rangeDiffErr: errors.New("down"), commitDiffErr: errors.New("also down")}
	o := testOrchestrator(database, ops, nil, nil, nil)

	_, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil)
	if err == nil {
		t.Fatal("expected an error when all diff tiers fail")
	}

	branch, getErr := database.GetBranch(project.ID, "main")
	if getErr != nil {
		t.Fatalf("loading branch: %v", getErr)
	}
	if branch.LastSuccessfulCommitHash != "old" {
		t.Errorf("LastSuccessfulCommitHash = %q, want unchanged %q", branch.LastSuccessfulCommitHash, "old")
	}
	if branch.Health != db.HealthStale {
		t.Errorf("Health = %q, want stale after failure", branch.Health)
	}
}

// P5: deleted-file skip — no BranchFile created, no persisted-issue lookup
// for files the VCS reports as absent.
func TestProcess_P5_DeletedFileSkipsMapping(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)

	ops := &fakeOps{
		commitDiff: "diff --git a/gone.x b/gone.x\n-x\n",
		existing:   map[string]bool{"gone.x": false},
	}
	o := testOrchestrator(database, ops, nil, nil, nil)

	if _, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := database.GetBranchFile(project.ID, "main", "gone.x"); err == nil {
		t.Error("expected no BranchFile for a file reported deleted")
	}
}

// P6: branch-scope of reconciliation — an issue recorded on a different
// branch is not a reconciliation candidate here.
func TestProcess_P6_BranchScopedReconciliation(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)
	branch, err := database.UpsertBranch(db.Branch{ProjectID: project.ID, BranchName: "main", Health: db.HealthIndexing})
	if err != nil {
		t.Fatalf("seeding branch: %v", err)
	}

	// Issue recorded on a different branch ("feature-x"), touching the
	// same file path analyzed here on "main".
	issue, err := database.CreateIssue(db.CodeAnalysisIssue{
		ProjectID:  project.ID,
		FilePath:   "src/App.x",
		Severity:   db.SeverityHigh,
		BranchName: "feature-x",
	})
	if err != nil {
		t.Fatalf("creating issue: %v", err)
	}

	ops := &fakeOps{commitDiff: "diff --git a/src/App.x b/src/App.x\n+x\n", existing: map[string]bool{"src/App.x": true}}
	ai := &fakeAiClient{response: map[string]any{"issues": []any{}}}
	o := testOrchestrator(database, ops, nil, ai, nil)

	if _, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ai.calls != 0 {
		t.Error("expected no AI call since the only persisted issue is out of branch scope")
	}
	if _, err := database.GetBranchIssue(branch.ID, issue.ID); err == nil {
		t.Error("expected no BranchIssue to be created for a cross-branch issue")
	}
}

// spec.md §4.6: RAG base-branch vs non-base-branch split.
func TestProcess_RagBaseBranch_TriggersIncrementalUpdate(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)

	ops := &fakeOps{commitDiff: "diff --git a/x b/x\n"}
	rag := &fakeRag{enabled: true, ready: true, baseBranch: "main"}
	o := testOrchestrator(database, ops, nil, nil, rag)

	if _, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rag.incrementalCalls != 1 || rag.fullCalls != 0 {
		t.Errorf("incrementalCalls=%d fullCalls=%d, want 1/0", rag.incrementalCalls, rag.fullCalls)
	}
}

func TestProcess_RagNonBaseBranch_TriggersFullReindex(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)

	ops := &fakeOps{commitDiff: "diff --git a/x b/x\n"}
	rag := &fakeRag{enabled: true, ready: true, baseBranch: "main"}
	o := testOrchestrator(database, ops, nil, nil, rag)

	if _, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "feature-x", CommitHash: "new"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rag.fullCalls != 1 || rag.incrementalCalls != 0 {
		t.Errorf("incrementalCalls=%d fullCalls=%d, want 0/1", rag.incrementalCalls, rag.fullCalls)
	}
}

// spec.md §4.6: a RAG failure is logged and swallowed, never fails the analysis.
func TestProcess_RagFailureDoesNotFailAnalysis(t *testing.T) {
	database := testDB(t)
	project := testProject(t, database)

	ops := &fakeOps{commitDiff: "diff --git a/x b/x\n"}
	rag := &fakeRag{enabled: true, ready: true, baseBranch: "main", incrementalErr: errors.New("index down")}
	o := testOrchestrator(database, ops, nil, nil, rag)

	result, err := o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil)
	if err != nil {
		t.Fatalf("expected rag failure to be swallowed, got error: %v", err)
	}
	if result.Status != StatusAccepted {
		t.Errorf("Status = %q, want accepted", result.Status)
	}
}

func TestProcess_UnsupportedProvider(t *testing.T) {
	database := testDB(t)
	project, err := database.CreateProject(db.Project{Name: "orphan", VcsProvider: "unknown_provider"})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}

	o := New(Dependencies{DB: database, Registry: NewRegistry(nil), Lock: analysislock.NewInProcess()}, nil)

	_, err = o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil)
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestProcess_NoVcsConfigured(t *testing.T) {
	database := testDB(t)
	project, err := database.CreateProject(db.Project{Name: "orphan"})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}

	o := New(Dependencies{DB: database, Registry: NewRegistry(nil), Lock: analysislock.NewInProcess()}, nil)

	_, err = o.Process(ctxBG(), Request{ProjectID: project.ID, TargetBranchName: "main", CommitHash: "new"}, nil)
	if !errors.Is(err, ErrNoVcsConfigured) {
		t.Errorf("expected ErrNoVcsConfigured, got %v", err)
	}
}
