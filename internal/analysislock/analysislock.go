// Package analysislock implements the AnalysisLockService contract: a
// per-(projectId, branchName, lockType) exclusive advisory lock with a
// bounded wait, consumed by the orchestrator and nothing else.
package analysislock

import (
	"context"
	"time"
)

// LockTypeBranchAnalysis is the one lock type this repository needs
// (spec.md §3: "lockType = BRANCH_ANALYSIS").
const LockTypeBranchAnalysis = "BRANCH_ANALYSIS"

// Handle identifies a held lock. Callers never construct one directly; they
// get it back from AcquireLockWithWait and pass it to ReleaseLock.
type Handle struct {
	ProjectID  string
	BranchName string
	LockType   string
	HolderID   string
}

// Service is the lock manager contract the orchestrator consumes (spec.md
// §6 AnalysisLockService). AcquireLockWithWait returns a nil handle and a
// nil error when the wait is exhausted without acquiring — denial is not an
// error condition, matching the teacher's preference for returning a zero
// value over a sentinel when "not found" is an expected outcome the caller
// must check anyway.
type Service interface {
	AcquireLockWithWait(ctx context.Context, projectID, branchName, lockType, holderID string, maxWait, pollInterval time.Duration) (*Handle, error)
	ReleaseLock(ctx context.Context, handle *Handle) error
}

func key(projectID, branchName, lockType string) string {
	return projectID + "\x00" + branchName + "\x00" + lockType
}
