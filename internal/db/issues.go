package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateIssue persists a CodeAnalysisIssue. Spec.md §3 attributes issue
// creation to PR analyses outside this core; this method exists so that
// ingestion path and test fixtures have one place to write the row.
func (db *DB) CreateIssue(i CodeAnalysisIssue) (CodeAnalysisIssue, error) {
	return createIssue(db.conn, i)
}

func (tx *Tx) CreateIssue(i CodeAnalysisIssue) (CodeAnalysisIssue, error) {
	return createIssue(tx.tx, i)
}

func createIssue(ex execer, i CodeAnalysisIssue) (CodeAnalysisIssue, error) {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	i.CreatedAt = now
	i.UpdatedAt = now

	_, err := ex.Exec(`
		INSERT INTO code_analysis_issues (id, project_id, file_path, line_number, line_end,
			severity, category, description, resolved, branch_name, commit_hash,
			resolved_in_commit_hash, resolved_in_pr_number, resolved_description,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.ProjectID, i.FilePath, i.LineNumber, i.LineEnd, string(i.Severity),
		i.Category, i.Description, boolToInt(i.Resolved), i.BranchName, i.CommitHash,
		i.ResolvedInCommitHash, i.ResolvedInPrNumber, i.ResolvedDescription,
		fmtTime(i.CreatedAt), fmtTime(i.UpdatedAt),
	)
	if err != nil {
		return CodeAnalysisIssue{}, fmt.Errorf("creating code analysis issue: %w", err)
	}
	return i, nil
}

// GetIssue fetches a single CodeAnalysisIssue by id.
func (db *DB) GetIssue(id string) (CodeAnalysisIssue, error) {
	return getIssue(db.conn, id)
}

func (tx *Tx) GetIssue(id string) (CodeAnalysisIssue, error) {
	return getIssue(tx.tx, id)
}

func getIssue(ex execer, id string) (CodeAnalysisIssue, error) {
	row := ex.QueryRow(issueSelectCols+` FROM code_analysis_issues WHERE id = ?`, id)
	issue, err := scanIssueRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return CodeAnalysisIssue{}, fmt.Errorf("issue not found: %s: %w", id, sql.ErrNoRows)
		}
		return CodeAnalysisIssue{}, fmt.Errorf("getting issue: %w", err)
	}
	return issue, nil
}

// FindByProjectAndFilePath loads every persisted issue recorded against a
// file, regardless of branch — the branch-specific filter (spec.md §4.3 step
// A, §8 P6) is applied by the caller, not here, so that this method stays a
// plain lookup and the restriction stays visible at the call site.
func (db *DB) FindByProjectAndFilePath(projectID, filePath string) ([]CodeAnalysisIssue, error) {
	return findByProjectAndFilePath(db.conn, projectID, filePath)
}

func (tx *Tx) FindByProjectAndFilePath(projectID, filePath string) ([]CodeAnalysisIssue, error) {
	return findByProjectAndFilePath(tx.tx, projectID, filePath)
}

func findByProjectAndFilePath(ex execer, projectID, filePath string) ([]CodeAnalysisIssue, error) {
	rows, err := ex.Query(issueSelectCols+` FROM code_analysis_issues WHERE project_id = ? AND file_path = ?`,
		projectID, filePath)
	if err != nil {
		return nil, fmt.Errorf("finding issues by project and file path: %w", err)
	}
	defer rows.Close()

	var issues []CodeAnalysisIssue
	for rows.Next() {
		issue, err := scanIssueRows(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// ListUnresolvedIssuesForBranch loads every still-open issue recorded on a
// branch, for the CLI's post-analysis inline-annotation reporting step
// (SPEC_FULL.md §5) — a convenience read the orchestrator itself never
// calls, since annotations are posted by the caller, not the core.
func (db *DB) ListUnresolvedIssuesForBranch(projectID, branchName string) ([]CodeAnalysisIssue, error) {
	return listUnresolvedIssuesForBranch(db.conn, projectID, branchName)
}

func (tx *Tx) ListUnresolvedIssuesForBranch(projectID, branchName string) ([]CodeAnalysisIssue, error) {
	return listUnresolvedIssuesForBranch(tx.tx, projectID, branchName)
}

func listUnresolvedIssuesForBranch(ex execer, projectID, branchName string) ([]CodeAnalysisIssue, error) {
	rows, err := ex.Query(issueSelectCols+` FROM code_analysis_issues WHERE project_id = ? AND branch_name = ? AND resolved = 0`,
		projectID, branchName)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved issues for branch: %w", err)
	}
	defer rows.Close()

	var issues []CodeAnalysisIssue
	for rows.Next() {
		issue, err := scanIssueRows(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// ResolveIssue flips resolved=true on the underlying CodeAnalysisIssue row,
// mirroring the optional resolution the orchestrator may apply alongside its
// BranchIssue counterpart (spec.md §3, end-to-end scenario 5). It is a no-op
// if the issue is already resolved, preserving the "never un-resolve"
// invariant (§8 P4) by construction — there is no code path that clears it.
func (db *DB) ResolveIssue(id, resolvedInCommitHash string, resolvedInPrNumber int64, resolvedDescription string) error {
	return resolveIssue(db.conn, id, resolvedInCommitHash, resolvedInPrNumber, resolvedDescription)
}

func (tx *Tx) ResolveIssue(id, resolvedInCommitHash string, resolvedInPrNumber int64, resolvedDescription string) error {
	return resolveIssue(tx.tx, id, resolvedInCommitHash, resolvedInPrNumber, resolvedDescription)
}

func resolveIssue(ex execer, id, resolvedInCommitHash string, resolvedInPrNumber int64, resolvedDescription string) error {
	_, err := ex.Exec(`
		UPDATE code_analysis_issues SET resolved = 1, resolved_in_commit_hash = ?,
			resolved_in_pr_number = ?, resolved_description = ?, updated_at = ?
		WHERE id = ? AND resolved = 0`,
		resolvedInCommitHash, resolvedInPrNumber, resolvedDescription, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("resolving code analysis issue: %w", err)
	}
	return nil
}

const issueSelectCols = `
	SELECT id, project_id, file_path, line_number, line_end, severity, category,
		description, resolved, branch_name, commit_hash, resolved_in_commit_hash,
		resolved_in_pr_number, resolved_description, created_at, updated_at`

func scanIssueRow(row *sql.Row) (CodeAnalysisIssue, error) {
	var i CodeAnalysisIssue
	var severity string
	var resolved int
	var createdAt, updatedAt string
	err := row.Scan(&i.ID, &i.ProjectID, &i.FilePath, &i.LineNumber, &i.LineEnd, &severity,
		&i.Category, &i.Description, &resolved, &i.BranchName, &i.CommitHash,
		&i.ResolvedInCommitHash, &i.ResolvedInPrNumber, &i.ResolvedDescription,
		&createdAt, &updatedAt)
	if err != nil {
		return CodeAnalysisIssue{}, err
	}
	i.Severity = Severity(severity)
	i.Resolved = resolved != 0
	i.CreatedAt = parseTime(createdAt)
	i.UpdatedAt = parseTime(updatedAt)
	return i, nil
}

func scanIssueRows(rows *sql.Rows) (CodeAnalysisIssue, error) {
	var i CodeAnalysisIssue
	var severity string
	var resolved int
	var createdAt, updatedAt string
	err := rows.Scan(&i.ID, &i.ProjectID, &i.FilePath, &i.LineNumber, &i.LineEnd, &severity,
		&i.Category, &i.Description, &resolved, &i.BranchName, &i.CommitHash,
		&i.ResolvedInCommitHash, &i.ResolvedInPrNumber, &i.ResolvedDescription,
		&createdAt, &updatedAt)
	if err != nil {
		return CodeAnalysisIssue{}, fmt.Errorf("scanning code analysis issue: %w", err)
	}
	i.Severity = Severity(severity)
	i.Resolved = resolved != 0
	i.CreatedAt = parseTime(createdAt)
	i.UpdatedAt = parseTime(updatedAt)
	return i, nil
}
