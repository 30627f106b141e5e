package orchestrator

import (
	"context"
	"time"

	"github.com/codecrow/branchanalyzer/internal/aiclient"
	"github.com/codecrow/branchanalyzer/internal/analysislock"
	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/progress"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// fakeOps is a hand-written vcs.Operations fake recording call counts so
// tests can assert diff-fallback ordering (P7) without a real HTTP server.
type fakeOps struct {
	rangeDiffErr  error
	rangeDiff     string
	rangeDiffCall int

	prDiffErr  error
	prDiff     string
	prDiffCall int

	commitDiffErr  error
	commitDiff     string
	commitDiffCall int

	findPRNumber int64
	findPRFound  bool
	findPRErr    error

	existing map[string]bool
}

var _ vcs.Operations = (*fakeOps)(nil)

func (f *fakeOps) GetCommitRangeDiff(ctx context.Context, workspace, repoSlug, baseSHA, headSHA string) (string, error) {
	f.rangeDiffCall++
	if f.rangeDiffErr != nil {
		return "", f.rangeDiffErr
	}
	return f.rangeDiff, nil
}

func (f *fakeOps) GetPullRequestDiff(ctx context.Context, workspace, repoSlug string, prNumber int64) (string, error) {
	f.prDiffCall++
	if f.prDiffErr != nil {
		return "", f.prDiffErr
	}
	return f.prDiff, nil
}

func (f *fakeOps) GetCommitDiff(ctx context.Context, workspace, repoSlug, sha string) (string, error) {
	f.commitDiffCall++
	if f.commitDiffErr != nil {
		return "", f.commitDiffErr
	}
	return f.commitDiff, nil
}

func (f *fakeOps) FindPullRequestForCommit(ctx context.Context, workspace, repoSlug, sha string) (int64, bool, error) {
	return f.findPRNumber, f.findPRFound, f.findPRErr
}

func (f *fakeOps) CheckFileExistsInBranch(ctx context.Context, workspace, repoSlug, branch, path string) (bool, error) {
	if f.existing == nil {
		return true, nil
	}
	return f.existing[path], nil
}

// fakeAiClient records whether PerformAnalysis was invoked and returns a
// canned response.
type fakeAiClient struct {
	response aiclient.AiAnalysisResponse
	err      error
	calls    int
}

var _ aiclient.AiAnalysisClient = (*fakeAiClient)(nil)

func (f *fakeAiClient) PerformAnalysis(ctx context.Context, req aiclient.AiAnalysisRequest, sink progress.Sink) (aiclient.AiAnalysisResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

// fakeAiBuilder shapes a bare-bones AiAnalysisRequest without touching
// templates or the provider builders in internal/vcs.
type fakeAiBuilder struct{}

var _ vcs.AiRequestBuilder = (*fakeAiBuilder)(nil)

func (fakeAiBuilder) BuildAiAnalysisRequest(ctx context.Context, project db.Project, ac vcs.AnalysisContext) (aiclient.AiAnalysisRequest, error) {
	return aiclient.AiAnalysisRequest{
		RawDiff:    ac.RawDiff,
		Candidates: ac.Candidates,
	}, nil
}

// fakeRag records which of TriggerIncrementalUpdate/UpdateBranchIndex was
// called, if any, so tests can assert the base-branch/non-base-branch split
// (spec.md §4.6).
type fakeRag struct {
	enabled          bool
	ready            bool
	baseBranch       string
	incrementalCalls int
	fullCalls        int
	incrementalErr   error
	fullErr          error
}

func (f *fakeRag) IsRagEnabled(project db.Project) bool { return f.enabled }
func (f *fakeRag) IsRagIndexReady(ctx context.Context, project db.Project) (bool, error) {
	return f.ready, nil
}
func (f *fakeRag) GetBaseBranch(project db.Project) string { return f.baseBranch }
func (f *fakeRag) TriggerIncrementalUpdate(ctx context.Context, project db.Project, branchName, commitHash, rawDiff string, sink progress.Sink) error {
	f.incrementalCalls++
	return f.incrementalErr
}
func (f *fakeRag) UpdateBranchIndex(ctx context.Context, project db.Project, branchName string, sink progress.Sink) error {
	f.fullCalls++
	return f.fullErr
}

// fakeLock is a lock that can be forced to deny the next acquisition, used
// to test the AnalysisLocked path (spec.md scenario 6) without racing a
// real timeout.
type fakeLock struct {
	denyNext bool
	acquired int
	released int
}

var _ analysislock.Service = (*fakeLock)(nil)

func (f *fakeLock) AcquireLockWithWait(ctx context.Context, projectID, branchName, lockType, holderID string, maxWait, pollInterval time.Duration) (*analysislock.Handle, error) {
	if f.denyNext {
		f.denyNext = false
		return nil, nil
	}
	f.acquired++
	return &analysislock.Handle{ProjectID: projectID, BranchName: branchName, LockType: lockType, HolderID: holderID}, nil
}

func (f *fakeLock) ReleaseLock(ctx context.Context, handle *analysislock.Handle) error {
	f.released++
	return nil
}
