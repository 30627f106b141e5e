package analysislock

import (
	"context"
	"fmt"
	"time"
)

// lockStore is the db.DB surface this package needs, kept narrow so tests
// can fake it without pulling in the full persistence package.
type lockStore interface {
	TryAcquireLock(projectID, branchName, lockType, holderID string) (bool, error)
	ReleaseLock(projectID, branchName, lockType, holderID string) error
}

// SQLite is the multi-process AnalysisLockService: the analysis_locks table
// is the single source of truth, so any number of orchestrator processes
// sharing one SQLite file serialize correctly. Polling plays the same role
// InProcess's mutex polling does, just against a row instead of a map entry.
type SQLite struct {
	store lockStore
}

// NewSQLite wraps a *db.DB (or anything satisfying lockStore) as a Service.
func NewSQLite(store lockStore) *SQLite {
	return &SQLite{store: store}
}

var _ Service = (*SQLite)(nil)

func (l *SQLite) AcquireLockWithWait(ctx context.Context, projectID, branchName, lockType, holderID string, maxWait, pollInterval time.Duration) (*Handle, error) {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}

	deadline := time.Now().Add(maxWait)
	for {
		ok, err := l.store.TryAcquireLock(projectID, branchName, lockType, holderID)
		if err != nil {
			return nil, fmt.Errorf("acquiring analysis lock: %w", err)
		}
		if ok {
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

func (l *SQLite) ReleaseLock(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}
	if err := l.store.ReleaseLock(handle.ProjectID, handle.BranchName, handle.LockType, handle.HolderID); err != nil {
		return fmt.Errorf("releasing analysis lock: %w", err)
	}
	return nil
}
