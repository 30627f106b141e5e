package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// syncResult is the outcome of synchronizeFileState: the files confirmed to
// still exist on the branch, used as the reconciler's change set (spec.md
// §4.4's ordering guarantee: "synchronizer always runs before the
// reconciler").
type syncResult struct {
	existingFiles []string
}

// synchronizeFileState implements the File-state Synchronizer (spec.md
// §4.4). For each changed file it checks existence on the branch (P5:
// deleted files are skipped entirely, with no FindByProjectAndFilePath call
// and no BranchFile created), ensures a BranchIssue per matching persisted
// issue, and keeps BranchFile.issueCount in sync.
func synchronizeFileState(ctx context.Context, database *db.DB, ops vcs.Operations, project db.Project, branch db.Branch, branchName string, changedFiles []string) (syncResult, error) {
	var result syncResult

	for _, path := range changedFiles {
		exists, err := ops.CheckFileExistsInBranch(ctx, project.VcsWorkspaceSlug, project.VcsRepoSlug, branchName, path)
		if err != nil {
			return syncResult{}, fmt.Errorf("checking existence of %s: %w", path, err)
		}

		if !exists {
			if err := database.DeleteBranchFile(project.ID, branchName, path); err != nil {
				return syncResult{}, fmt.Errorf("removing branch file for deleted path %s: %w", path, err)
			}
			continue
		}

		result.existingFiles = append(result.existingFiles, path)

		mapped, err := mappedIssuesForFile(database, project.ID, branchName, path)
		if err != nil {
			return syncResult{}, err
		}

		for _, issue := range mapped {
			if _, err := database.EnsureBranchIssue(branch.ID, issue.ID); err != nil {
				return syncResult{}, fmt.Errorf("ensuring branch issue for %s: %w", issue.ID, err)
			}
		}

		if err := syncBranchFileCount(database, project.ID, branchName, path, len(mapped)); err != nil {
			return syncResult{}, err
		}
	}

	return result, nil
}

// mappedIssuesForFile loads persisted issues for a file and applies the
// branch-specific filter (spec.md §4.3 step A, §4.4 step 2, §8 P6): only
// issues originally recorded on this branch name are eligible.
func mappedIssuesForFile(database *db.DB, projectID, branchName, filePath string) ([]db.CodeAnalysisIssue, error) {
	persisted, err := database.FindByProjectAndFilePath(projectID, filePath)
	if err != nil {
		return nil, fmt.Errorf("finding persisted issues for %s: %w", filePath, err)
	}
	var mapped []db.CodeAnalysisIssue
	for _, issue := range persisted {
		if issue.BranchName == branchName {
			mapped = append(mapped, issue)
		}
	}
	return mapped, nil
}

// syncBranchFileCount implements spec.md §4.4 step 3: create a BranchFile
// only if the file has at least one mapped issue; if one already exists,
// persist the new count only when it changed.
func syncBranchFileCount(database *db.DB, projectID, branchName, filePath string, issueCount int) error {
	existing, err := database.GetBranchFile(projectID, branchName, filePath)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("loading branch file for %s: %w", filePath, err)
		}
		if issueCount == 0 {
			return nil
		}
		_, createErr := database.CreateBranchFile(db.BranchFile{
			ProjectID:  projectID,
			BranchName: branchName,
			FilePath:   filePath,
			IssueCount: issueCount,
		})
		if createErr != nil {
			return fmt.Errorf("creating branch file for %s: %w", filePath, createErr)
		}
		return nil
	}

	if existing.IssueCount != issueCount {
		if err := database.UpdateBranchFileIssueCount(existing.ID, issueCount); err != nil {
			return fmt.Errorf("updating branch file issue count for %s: %w", filePath, err)
		}
	}
	return nil
}
