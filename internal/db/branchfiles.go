package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetBranchFile returns the cached per-file record for (projectID,
// branchName, filePath), or a wrapped sql.ErrNoRows if none exists yet.
func (db *DB) GetBranchFile(projectID, branchName, filePath string) (BranchFile, error) {
	return getBranchFile(db.conn, projectID, branchName, filePath)
}

func (tx *Tx) GetBranchFile(projectID, branchName, filePath string) (BranchFile, error) {
	return getBranchFile(tx.tx, projectID, branchName, filePath)
}

func getBranchFile(ex execer, projectID, branchName, filePath string) (BranchFile, error) {
	row := ex.QueryRow(`
		SELECT id, project_id, branch_name, file_path, issue_count, created_at, updated_at
		FROM branch_files WHERE project_id = ? AND branch_name = ? AND file_path = ?`,
		projectID, branchName, filePath)
	bf, err := scanBranchFileRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return BranchFile{}, fmt.Errorf("branch file not found for %s@%s: %w", filePath, branchName, sql.ErrNoRows)
		}
		return BranchFile{}, fmt.Errorf("getting branch file: %w", err)
	}
	return bf, nil
}

// CreateBranchFile records that a file is present on the branch with the
// given issue count (spec.md §3, §4.4 step 3: created only when the file has
// at least one mapped issue).
func (db *DB) CreateBranchFile(bf BranchFile) (BranchFile, error) {
	return createBranchFile(db.conn, bf)
}

func (tx *Tx) CreateBranchFile(bf BranchFile) (BranchFile, error) {
	return createBranchFile(tx.tx, bf)
}

func createBranchFile(ex execer, bf BranchFile) (BranchFile, error) {
	if bf.ID == "" {
		bf.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	bf.CreatedAt = now
	bf.UpdatedAt = now

	_, err := ex.Exec(`
		INSERT INTO branch_files (id, project_id, branch_name, file_path, issue_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, branch_name, file_path) DO NOTHING`,
		bf.ID, bf.ProjectID, bf.BranchName, bf.FilePath, bf.IssueCount,
		fmtTime(bf.CreatedAt), fmtTime(bf.UpdatedAt))
	if err != nil {
		return BranchFile{}, fmt.Errorf("creating branch file: %w", err)
	}
	return getBranchFile(ex, bf.ProjectID, bf.BranchName, bf.FilePath)
}

// UpdateBranchFileIssueCount overwrites issue_count only when it differs
// (spec.md §4.4 step 3: "persist only if the value changed").
func (db *DB) UpdateBranchFileIssueCount(id string, issueCount int) error {
	return updateBranchFileIssueCount(db.conn, id, issueCount)
}

func (tx *Tx) UpdateBranchFileIssueCount(id string, issueCount int) error {
	return updateBranchFileIssueCount(tx.tx, id, issueCount)
}

func updateBranchFileIssueCount(ex execer, id string, issueCount int) error {
	_, err := ex.Exec(`
		UPDATE branch_files SET issue_count = ?, updated_at = ?
		WHERE id = ? AND issue_count != ?`,
		issueCount, fmtTime(time.Now().UTC()), id, issueCount)
	if err != nil {
		return fmt.Errorf("updating branch file issue count: %w", err)
	}
	return nil
}

// DeleteBranchFile removes the record for a file that no longer exists on
// the branch (spec.md §4.1 step 8: "for files in deleted, remove the
// corresponding BranchFile if present"). Deleting a non-existent row is a no-op.
func (db *DB) DeleteBranchFile(projectID, branchName, filePath string) error {
	return deleteBranchFile(db.conn, projectID, branchName, filePath)
}

func (tx *Tx) DeleteBranchFile(projectID, branchName, filePath string) error {
	return deleteBranchFile(tx.tx, projectID, branchName, filePath)
}

func deleteBranchFile(ex execer, projectID, branchName, filePath string) error {
	_, err := ex.Exec(`
		DELETE FROM branch_files WHERE project_id = ? AND branch_name = ? AND file_path = ?`,
		projectID, branchName, filePath)
	if err != nil {
		return fmt.Errorf("deleting branch file: %w", err)
	}
	return nil
}

func scanBranchFileRow(row *sql.Row) (BranchFile, error) {
	var bf BranchFile
	var createdAt, updatedAt string
	err := row.Scan(&bf.ID, &bf.ProjectID, &bf.BranchName, &bf.FilePath, &bf.IssueCount,
		&createdAt, &updatedAt)
	if err != nil {
		return BranchFile{}, err
	}
	bf.CreatedAt = parseTime(createdAt)
	bf.UpdatedAt = parseTime(updatedAt)
	return bf, nil
}
