package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetBranch looks up the branch record for (projectID, branchName). Returns
// sql.ErrNoRows (wrapped) if the branch has never been analyzed — "never
// analyzed" is a valid, expected state, not an error condition for callers.
func (db *DB) GetBranch(projectID, branchName string) (Branch, error) {
	return getBranch(db.conn, projectID, branchName)
}

func (tx *Tx) GetBranch(projectID, branchName string) (Branch, error) {
	return getBranch(tx.tx, projectID, branchName)
}

func getBranch(ex execer, projectID, branchName string) (Branch, error) {
	row := ex.QueryRow(`
		SELECT id, project_id, branch_name, last_successful_commit_hash, health,
			total_issue_count, high_count, medium_count, low_count, info_count,
			created_at, updated_at
		FROM branches WHERE project_id = ? AND branch_name = ?`, projectID, branchName)
	b, err := scanBranchRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Branch{}, fmt.Errorf("branch not found for (%s, %s): %w", projectID, branchName, sql.ErrNoRows)
		}
		return Branch{}, fmt.Errorf("getting branch: %w", err)
	}
	return b, nil
}

// UpsertBranch creates the branch record if it doesn't exist yet, otherwise
// overwrites every mutable field. The orchestrator is the sole writer of
// this record (spec.md §3); callers decide id reuse by round-tripping the
// Branch they got from GetBranch/CreateBranch.
func (db *DB) UpsertBranch(b Branch) (Branch, error) {
	return upsertBranch(db.conn, b)
}

func (tx *Tx) UpsertBranch(b Branch) (Branch, error) {
	return upsertBranch(tx.tx, b)
}

func upsertBranch(ex execer, b Branch) (Branch, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := ex.Exec(`
		INSERT INTO branches (id, project_id, branch_name, last_successful_commit_hash, health,
			total_issue_count, high_count, medium_count, low_count, info_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, branch_name) DO UPDATE SET
			last_successful_commit_hash = excluded.last_successful_commit_hash,
			health = excluded.health,
			total_issue_count = excluded.total_issue_count,
			high_count = excluded.high_count,
			medium_count = excluded.medium_count,
			low_count = excluded.low_count,
			info_count = excluded.info_count,
			updated_at = excluded.updated_at`,
		b.ID, b.ProjectID, b.BranchName, b.LastSuccessfulCommitHash, string(b.Health),
		b.TotalIssueCount, b.HighCount, b.MediumCount, b.LowCount, b.InfoCount,
		fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt),
	)
	if err != nil {
		return Branch{}, fmt.Errorf("upserting branch: %w", err)
	}

	return getBranch(ex, b.ProjectID, b.BranchName)
}

// SetBranchHealth updates only the health column — used by the orchestrator's
// failure-cleanup path (spec.md §5, §7) where nothing else about the branch
// is known to have changed.
func (db *DB) SetBranchHealth(branchID string, health BranchHealth) error {
	return setBranchHealth(db.conn, branchID, health)
}

func (tx *Tx) SetBranchHealth(branchID string, health BranchHealth) error {
	return setBranchHealth(tx.tx, branchID, health)
}

func setBranchHealth(ex execer, branchID string, health BranchHealth) error {
	_, err := ex.Exec(`UPDATE branches SET health = ?, updated_at = ? WHERE id = ?`,
		string(health), fmtTime(time.Now().UTC()), branchID)
	if err != nil {
		return fmt.Errorf("setting branch health: %w", err)
	}
	return nil
}

// RecomputeBranchCounters recounts unresolved branch_issues joined against
// their code_analysis_issues severity and overwrites the branch's cached
// totals. Called after reconciliation applies verdicts (spec.md §4.1 step 11).
func (db *DB) RecomputeBranchCounters(branchID string) error {
	return recomputeBranchCounters(db.conn, branchID)
}

func (tx *Tx) RecomputeBranchCounters(branchID string) error {
	return recomputeBranchCounters(tx.tx, branchID)
}

func recomputeBranchCounters(ex execer, branchID string) error {
	rows, err := ex.Query(`
		SELECT cai.severity, COUNT(*)
		FROM branch_issues bi
		JOIN code_analysis_issues cai ON cai.id = bi.code_analysis_issue_id
		WHERE bi.branch_id = ? AND bi.resolved = 0
		GROUP BY cai.severity`, branchID)
	if err != nil {
		return fmt.Errorf("counting branch issues: %w", err)
	}
	defer rows.Close()

	var high, medium, low, info int
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return fmt.Errorf("scanning severity count: %w", err)
		}
		switch Severity(severity) {
		case SeverityHigh:
			high = count
		case SeverityMedium:
			medium = count
		case SeverityLow:
			low = count
		case SeverityInfo:
			info = count
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	total := high + medium + low + info
	_, err = ex.Exec(`
		UPDATE branches SET total_issue_count = ?, high_count = ?, medium_count = ?,
			low_count = ?, info_count = ?, updated_at = ?
		WHERE id = ?`,
		total, high, medium, low, info, fmtTime(time.Now().UTC()), branchID)
	if err != nil {
		return fmt.Errorf("writing branch counters: %w", err)
	}
	return nil
}

func scanBranchRow(row *sql.Row) (Branch, error) {
	var b Branch
	var health, createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.ProjectID, &b.BranchName, &b.LastSuccessfulCommitHash, &health,
		&b.TotalIssueCount, &b.HighCount, &b.MediumCount, &b.LowCount, &b.InfoCount,
		&createdAt, &updatedAt)
	if err != nil {
		return Branch{}, err
	}
	b.Health = BranchHealth(health)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}
