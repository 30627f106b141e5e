package analysislock

import (
	"context"
	"sync"
	"time"
)

// InProcess is a single-process AnalysisLockService: a held-set guarded by a
// mutex, polled at pollInterval until maxWait elapses. Sufficient when one
// orchestrator process owns the SQLite file exclusively — the common case
// for `branchanalyzer analyze` and `serve` run as a single binary.
type InProcess struct {
	mu   sync.Mutex
	held map[string]string // key -> holderID
}

// NewInProcess returns a ready-to-use InProcess lock service.
func NewInProcess() *InProcess {
	return &InProcess{held: make(map[string]string)}
}

var _ Service = (*InProcess)(nil)

func (l *InProcess) tryAcquire(k, holderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[k]; taken {
		return false
	}
	l.held[k] = holderID
	return true
}

// AcquireLockWithWait polls tryAcquire at pollInterval until it succeeds,
// maxWait elapses, or ctx is cancelled. A spurious denial (someone else held
// it briefly) is expected and simply retried within the wait budget.
func (l *InProcess) AcquireLockWithWait(ctx context.Context, projectID, branchName, lockType, holderID string, maxWait, pollInterval time.Duration) (*Handle, error) {
	k := key(projectID, branchName, lockType)
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}

	deadline := time.Now().Add(maxWait)
	for {
		if l.tryAcquire(k, holderID) {
			return &Handle{ProjectID: projectID, BranchName: branchName, LockType: lockType, HolderID: holderID}, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReleaseLock clears the held entry, but only if handle.HolderID still owns
// it — a stale release must never evict a different holder that has since
// acquired the same key.
func (l *InProcess) ReleaseLock(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(handle.ProjectID, handle.BranchName, handle.LockType)
	if l.held[k] == handle.HolderID {
		delete(l.held, k)
	}
	return nil
}
