package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/progress"
)

// manifest is the on-disk shape of a branch's index: the content hash of
// every file it last saw. It doubles as the retrieval index itself for
// FileBacked — good enough to exercise the incremental/full split without
// pulling in a vector store the pack never shows.
type manifest struct {
	CommitHash string            `json:"commitHash"`
	Files      map[string]string `json:"files"`
}

// RootResolver locates the local working tree FileBacked should walk when
// indexing a project's branch. Production wiring (cmd/branchanalyzer)
// returns the relative path <project name>/<branch name>; the
// VcsOperations implementations are HTTP API clients and keep no checkout
// of their own, so that directory holds whatever the caller placed there.
type RootResolver func(project db.Project, branchName string) (string, error)

// FileBacked is a JSON-sidecar-manifest RagOperations implementation.
// Indexing means: walk the branch's working tree, skip IgnoreGlobs,
// content-hash what's left, and persist it under ManifestDir. Readiness
// is "has the base branch ever been indexed".
type FileBacked struct {
	ManifestDir string
	Root        RootResolver
	IgnoreGlobs []string
	Logger      *slog.Logger

	mu sync.Mutex
}

var _ Operations = (*FileBacked)(nil)

// NewFileBacked returns a FileBacked index rooted at manifestDir, using
// root to locate each branch's working tree.
func NewFileBacked(manifestDir string, root RootResolver, logger *slog.Logger) *FileBacked {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBacked{
		ManifestDir: manifestDir,
		Root:        root,
		IgnoreGlobs: DefaultIgnoreGlobs,
		Logger:      logger,
	}
}

func (f *FileBacked) IsRagEnabled(project db.Project) bool {
	return project.RagEnabled
}

func (f *FileBacked) GetBaseBranch(project db.Project) string {
	return project.BaseBranch
}

func (f *FileBacked) IsRagIndexReady(ctx context.Context, project db.Project) (bool, error) {
	base := project.BaseBranch
	if base == "" {
		return false, nil
	}
	_, err := os.Stat(f.manifestPath(project.ID, base))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking rag index readiness: %w", err)
	}
	return true, nil
}

// TriggerIncrementalUpdate updates only the files rawDiff touched, without
// re-walking the tree (spec.md §4.6's base-branch path). It is a
// best-effort operation: the caller logs and discards failures rather than
// failing the surrounding analysis.
func (f *FileBacked) TriggerIncrementalUpdate(ctx context.Context, project db.Project, branchName, commitHash, rawDiff string, sink progress.Sink) error {
	if sink == nil {
		sink = progress.Noop{}
	}
	root, err := f.resolveRoot(project, branchName)
	if err != nil {
		return fmt.Errorf("resolving working tree for incremental rag update: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.loadManifest(project.ID, branchName)
	if err != nil {
		return fmt.Errorf("loading rag manifest: %w", err)
	}

	changed := parseChangedFiles(rawDiff)
	sink.Emit(progress.Event{"stage": progress.StageRag, "message": "incremental rag update", "branch": branchName, "fileCount": len(changed)})

	for _, path := range changed {
		if f.ignored(path) {
			delete(m.Files, path)
			continue
		}
		hash, err := hashFile(filepath.Join(root, path))
		if os.IsNotExist(err) {
			delete(m.Files, path)
			continue
		}
		if err != nil {
			f.Logger.Warn("rag: hashing changed file failed", "path", path, "error", err)
			continue
		}
		m.Files[path] = hash
	}
	m.CommitHash = commitHash

	if err := f.saveManifest(project.ID, branchName, m); err != nil {
		return fmt.Errorf("saving rag manifest: %w", err)
	}
	return nil
}

// UpdateBranchIndex re-walks the branch's entire working tree (spec.md
// §4.6's non-base-branch path), rebuilding the manifest from scratch.
func (f *FileBacked) UpdateBranchIndex(ctx context.Context, project db.Project, branchName string, sink progress.Sink) error {
	if sink == nil {
		sink = progress.Noop{}
	}
	root, err := f.resolveRoot(project, branchName)
	if err != nil {
		return fmt.Errorf("resolving working tree for full rag reindex: %w", err)
	}

	sink.Emit(progress.Event{"stage": progress.StageRag, "message": "full rag reindex starting", "branch": branchName})

	files := map[string]string{}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && f.ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if f.ignored(rel) {
			return nil
		}
		hash, hashErr := hashFile(path)
		if hashErr != nil {
			f.Logger.Warn("rag: hashing file failed during reindex", "path", rel, "error", hashErr)
			return nil
		}
		files[rel] = hash
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walking working tree for rag reindex: %w", walkErr)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.saveManifest(project.ID, branchName, manifest{Files: files}); err != nil {
		return fmt.Errorf("saving rag manifest: %w", err)
	}
	sink.Emit(progress.Event{"stage": progress.StageRag, "message": "full rag reindex complete", "branch": branchName, "fileCount": len(files)})
	return nil
}

func (f *FileBacked) resolveRoot(project db.Project, branchName string) (string, error) {
	if f.Root == nil {
		return "", fmt.Errorf("rag: no working tree resolver configured")
	}
	return f.Root(project, branchName)
}

func (f *FileBacked) ignored(path string) bool {
	for _, pattern := range f.IgnoreGlobs {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func (f *FileBacked) manifestPath(projectID, branchName string) string {
	return filepath.Join(f.ManifestDir, projectID, sanitizeBranchName(branchName)+".json")
}

func (f *FileBacked) loadManifest(projectID, branchName string) (manifest, error) {
	data, err := os.ReadFile(f.manifestPath(projectID, branchName))
	if os.IsNotExist(err) {
		return manifest{Files: map[string]string{}}, nil
	}
	if err != nil {
		return manifest{}, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, err
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return m, nil
}

func (f *FileBacked) saveManifest(projectID, branchName string, m manifest) error {
	path := f.manifestPath(projectID, branchName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func sanitizeBranchName(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// parseChangedFiles extracts the set of paths touched by a unified diff,
// mirroring the "diff --git a/X b/Y" header scan the orchestrator's
// file-state synchronizer performs over the same raw diff.
func parseChangedFiles(rawDiff string) []string {
	var files []string
	seen := map[string]bool{}
	for _, line := range strings.Split(rawDiff, "\n") {
		if !strings.HasPrefix(line, "diff --git ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		path := strings.TrimPrefix(fields[3], "b/")
		if path != "" && !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	return files
}
