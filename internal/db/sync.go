package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ProjectConfig is the subset of a project's configuration file entry that
// SyncProjects reconciles into the projects table. internal/config builds
// these from the YAML config file; db stays ignorant of YAML.
type ProjectConfig struct {
	Name             string
	Namespace        string
	Workspace        string
	VcsProvider      string
	VcsWorkspaceSlug string
	VcsRepoSlug      string
	VcsConnectionID  string
	BaseBranch       string
	RagEnabled       bool
}

// SyncProjects reconciles a list of validated project configs into SQLite:
// existing projects (matched by name) are updated in place, new ones are
// created. Modeled on the teacher's projects.Sync.
func (db *DB) SyncProjects(configs []ProjectConfig) error {
	for _, cfg := range configs {
		existing, err := db.GetProjectByName(cfg.Name)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("looking up project %q: %w", cfg.Name, err)
			}
			if _, err := db.CreateProject(Project{
				Name:             cfg.Name,
				Namespace:        cfg.Namespace,
				Workspace:        cfg.Workspace,
				VcsProvider:      cfg.VcsProvider,
				VcsWorkspaceSlug: cfg.VcsWorkspaceSlug,
				VcsRepoSlug:      cfg.VcsRepoSlug,
				VcsConnectionID:  cfg.VcsConnectionID,
				BaseBranch:       cfg.BaseBranch,
				RagEnabled:       cfg.RagEnabled,
			}); err != nil {
				return fmt.Errorf("creating project %q: %w", cfg.Name, err)
			}
			continue
		}

		existing.Namespace = cfg.Namespace
		existing.Workspace = cfg.Workspace
		existing.VcsProvider = cfg.VcsProvider
		existing.VcsWorkspaceSlug = cfg.VcsWorkspaceSlug
		existing.VcsRepoSlug = cfg.VcsRepoSlug
		existing.VcsConnectionID = cfg.VcsConnectionID
		existing.BaseBranch = cfg.BaseBranch
		existing.RagEnabled = cfg.RagEnabled

		if err := db.UpdateProject(existing); err != nil {
			return fmt.Errorf("updating project %q: %w", cfg.Name, err)
		}
	}
	return nil
}
