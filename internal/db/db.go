// Package db is the persistence layer for the branch analysis orchestrator:
// projects, branches, branch-local file/issue state, and the immutable
// analysis issues they reference. It mirrors the data model in spec.md §3.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
}

// Project is read-only to the orchestrator (spec.md §3): it owns the
// effective VCS repository reference and the retrieval-indexing config the
// orchestrator consults but never writes.
type Project struct {
	ID               string
	Name             string
	Namespace        string
	Workspace        string
	VcsProvider      string // bitbucket_cloud | github | gitlab | bitbucket_server
	VcsWorkspaceSlug string
	VcsRepoSlug      string
	VcsConnectionID  string // opaque reference into the credentials profile
	BaseBranch       string
	RagEnabled       bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BranchHealth is the set of values spec.md §3 defines for Branch.health.
type BranchHealth string

const (
	HealthHealthy  BranchHealth = "healthy"
	HealthStale    BranchHealth = "stale"
	HealthIndexing BranchHealth = "indexing"
)

// Branch is the orchestrator's sole mutable record of a branch's analysis
// state. lastSuccessfulCommitHash is written only after a full analysis
// succeeds (spec.md §3 invariant).
type Branch struct {
	ID                       string
	ProjectID                string
	BranchName               string
	LastSuccessfulCommitHash string // empty means "never analyzed"
	Health                   BranchHealth
	TotalIssueCount          int
	HighCount                int
	MediumCount              int
	LowCount                 int
	InfoCount                int
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// BranchFile records that a file currently exists on the branch and caches
// its issue count (spec.md §3).
type BranchFile struct {
	ID         string
	ProjectID  string
	BranchName string
	FilePath   string
	IssueCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Severity is the set of values spec.md §3 defines for CodeAnalysisIssue.severity.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
	SeverityInfo   Severity = "INFO"
)

// CodeAnalysisIssue is immutable once created except for the orchestrator's
// resolved-transition fields (spec.md §3). It is created by PR analyses
// outside this core; the orchestrator only reads it and may flip Resolved.
type CodeAnalysisIssue struct {
	ID                  string
	ProjectID           string
	FilePath            string
	LineNumber          int
	LineEnd             int // 0 means "not set" — supplemental, see SPEC_FULL.md §3
	Severity            Severity
	Category            string
	Description         string
	Resolved            bool
	BranchName          string // the branch this issue was first reported on
	CommitHash          string
	ResolvedInCommitHash string
	ResolvedInPrNumber  int64
	ResolvedDescription string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BranchIssue is the association recording that an issue is still
// considered open on a branch (spec.md §3).
type BranchIssue struct {
	ID                   string
	BranchID             string
	CodeAnalysisIssueID  string
	Resolved             bool
	ResolvedInCommitHash string
	ResolvedInPrNumber   int64
	ResolvedDescription  string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	namespace TEXT NOT NULL DEFAULT '',
	workspace TEXT NOT NULL DEFAULT '',
	vcs_provider TEXT NOT NULL DEFAULT '',
	vcs_workspace_slug TEXT NOT NULL DEFAULT '',
	vcs_repo_slug TEXT NOT NULL DEFAULT '',
	vcs_connection_id TEXT NOT NULL DEFAULT '',
	base_branch TEXT NOT NULL DEFAULT 'main',
	rag_enabled INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS branches (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	branch_name TEXT NOT NULL,
	last_successful_commit_hash TEXT NOT NULL DEFAULT '',
	health TEXT NOT NULL DEFAULT 'indexing',
	total_issue_count INTEGER NOT NULL DEFAULT 0,
	high_count INTEGER NOT NULL DEFAULT 0,
	medium_count INTEGER NOT NULL DEFAULT 0,
	low_count INTEGER NOT NULL DEFAULT 0,
	info_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	UNIQUE(project_id, branch_name)
);

CREATE TABLE IF NOT EXISTS branch_files (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	branch_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	issue_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	UNIQUE(project_id, branch_name, file_path)
);

CREATE TABLE IF NOT EXISTS code_analysis_issues (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	file_path TEXT NOT NULL,
	line_number INTEGER NOT NULL DEFAULT 0,
	line_end INTEGER NOT NULL DEFAULT 0,
	severity TEXT NOT NULL DEFAULT 'INFO',
	category TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	resolved INTEGER NOT NULL DEFAULT 0,
	branch_name TEXT NOT NULL DEFAULT '',
	commit_hash TEXT NOT NULL DEFAULT '',
	resolved_in_commit_hash TEXT NOT NULL DEFAULT '',
	resolved_in_pr_number INTEGER NOT NULL DEFAULT 0,
	resolved_description TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS branch_issues (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES branches(id),
	code_analysis_issue_id TEXT NOT NULL REFERENCES code_analysis_issues(id),
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_in_commit_hash TEXT NOT NULL DEFAULT '',
	resolved_in_pr_number INTEGER NOT NULL DEFAULT 0,
	resolved_description TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	UNIQUE(branch_id, code_analysis_issue_id)
);

CREATE TABLE IF NOT EXISTS analysis_locks (
	project_id TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	lock_type TEXT NOT NULL,
	holder_id TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	PRIMARY KEY (project_id, branch_name, lock_type)
);

CREATE INDEX IF NOT EXISTS idx_code_analysis_issues_project_file
	ON code_analysis_issues(project_id, file_path);
CREATE INDEX IF NOT EXISTS idx_branch_issues_branch
	ON branch_issues(branch_id);
`

// DefaultPath returns the default database location (~/.branchanalyzer/branchanalyzer.db).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	dir := filepath.Join(home, ".branchanalyzer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "branchanalyzer.db"), nil
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. Safe to call repeatedly — every table and index in the schema
// is created with IF NOT EXISTS.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Tx runs fn within a database transaction. If fn returns an error, the
// transaction is rolled back; otherwise it is committed.
func (db *DB) Tx(fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// Tx wraps a sql.Tx for transactional multi-statement writes.
type Tx struct {
	tx *sql.Tx
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every repository
// method below be written once against whichever one the caller holds.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
