package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TryAcquireLock attempts to insert a row into analysis_locks for
// (projectID, branchName, lockType). Returns true if this call won the race;
// false if a row already exists (someone else holds the lock). Backs
// analysislock.SQLite — the multi-process variant of AnalysisLockService.
func (db *DB) TryAcquireLock(projectID, branchName, lockType, holderID string) (bool, error) {
	_, err := db.conn.Exec(`
		INSERT INTO analysis_locks (project_id, branch_name, lock_type, holder_id, acquired_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, branch_name, lock_type) DO NOTHING`,
		projectID, branchName, lockType, holderID, fmtTime(time.Now().UTC()))
	if err != nil {
		return false, fmt.Errorf("inserting analysis lock: %w", err)
	}

	var gotHolder string
	err = db.conn.QueryRow(`
		SELECT holder_id FROM analysis_locks WHERE project_id = ? AND branch_name = ? AND lock_type = ?`,
		projectID, branchName, lockType).Scan(&gotHolder)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("checking analysis lock holder: %w", err)
	}
	return gotHolder == holderID, nil
}

// ReleaseLock deletes the lock row, but only if it is still held by holderID
// — a stale release (e.g. after a wait timeout elsewhere already reassigned
// the row) must not evict a different holder.
func (db *DB) ReleaseLock(projectID, branchName, lockType, holderID string) error {
	_, err := db.conn.Exec(`
		DELETE FROM analysis_locks WHERE project_id = ? AND branch_name = ? AND lock_type = ? AND holder_id = ?`,
		projectID, branchName, lockType, holderID)
	if err != nil {
		return fmt.Errorf("releasing analysis lock: %w", err)
	}
	return nil
}
