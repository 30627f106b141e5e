package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (db *DB) CreateProject(p Project) (Project, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := db.conn.Exec(`
		INSERT INTO projects (id, name, namespace, workspace, vcs_provider, vcs_workspace_slug,
			vcs_repo_slug, vcs_connection_id, base_branch, rag_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Namespace, p.Workspace, p.VcsProvider, p.VcsWorkspaceSlug,
		p.VcsRepoSlug, p.VcsConnectionID, p.BaseBranch, boolToInt(p.RagEnabled),
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return Project{}, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

func (db *DB) UpdateProject(p Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := db.conn.Exec(`
		UPDATE projects SET name = ?, namespace = ?, workspace = ?, vcs_provider = ?,
			vcs_workspace_slug = ?, vcs_repo_slug = ?, vcs_connection_id = ?, base_branch = ?,
			rag_enabled = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Namespace, p.Workspace, p.VcsProvider, p.VcsWorkspaceSlug,
		p.VcsRepoSlug, p.VcsConnectionID, p.BaseBranch, boolToInt(p.RagEnabled),
		fmtTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", p.ID)
	}
	return nil
}

func (db *DB) ListProjects() ([]Project, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, namespace, workspace, vcs_provider, vcs_workspace_slug,
			vcs_repo_slug, vcs_connection_id, base_branch, rag_enabled, created_at, updated_at
		FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (db *DB) GetProject(id string) (Project, error) {
	row := db.conn.QueryRow(`
		SELECT id, name, namespace, workspace, vcs_provider, vcs_workspace_slug,
			vcs_repo_slug, vcs_connection_id, base_branch, rag_enabled, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	p, err := scanProjectRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Project{}, fmt.Errorf("project not found: %s: %w", id, sql.ErrNoRows)
		}
		return Project{}, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

func (db *DB) GetProjectByName(name string) (Project, error) {
	row := db.conn.QueryRow(`
		SELECT id, name, namespace, workspace, vcs_provider, vcs_workspace_slug,
			vcs_repo_slug, vcs_connection_id, base_branch, rag_enabled, created_at, updated_at
		FROM projects WHERE name = ?`, name)
	p, err := scanProjectRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Project{}, fmt.Errorf("project not found for name %q: %w", name, sql.ErrNoRows)
		}
		return Project{}, fmt.Errorf("getting project by name: %w", err)
	}
	return p, nil
}

func scanProject(rows *sql.Rows) (Project, error) {
	var p Project
	var ragEnabled int
	var createdAt, updatedAt string
	err := rows.Scan(&p.ID, &p.Name, &p.Namespace, &p.Workspace, &p.VcsProvider,
		&p.VcsWorkspaceSlug, &p.VcsRepoSlug, &p.VcsConnectionID, &p.BaseBranch,
		&ragEnabled, &createdAt, &updatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("scanning project: %w", err)
	}
	p.RagEnabled = ragEnabled != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func scanProjectRow(row *sql.Row) (Project, error) {
	var p Project
	var ragEnabled int
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.Namespace, &p.Workspace, &p.VcsProvider,
		&p.VcsWorkspaceSlug, &p.VcsRepoSlug, &p.VcsConnectionID, &p.BaseBranch,
		&ragEnabled, &createdAt, &updatedAt)
	if err != nil {
		return Project{}, err
	}
	p.RagEnabled = ragEnabled != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
