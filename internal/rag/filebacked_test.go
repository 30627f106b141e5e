package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/progress"
)

func newTestIndex(t *testing.T, root string) *FileBacked {
	t.Helper()
	return NewFileBacked(t.TempDir(), func(db.Project, string) (string, error) {
		return root, nil
	}, nil)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
}

func TestFileBacked_IsRagIndexReady_FalseUntilBaseBranchIndexed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	idx := newTestIndex(t, root)

	project := db.Project{ID: "p1", BaseBranch: "main", RagEnabled: true}
	ready, err := idx.IsRagIndexReady(context.Background(), project)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready {
		t.Fatal("expected index not ready before first reindex")
	}

	if err := idx.UpdateBranchIndex(context.Background(), project, "main", progress.Noop{}); err != nil {
		t.Fatalf("UpdateBranchIndex: %v", err)
	}

	ready, err = idx.IsRagIndexReady(context.Background(), project)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ready {
		t.Fatal("expected index ready after reindex")
	}
}

func TestFileBacked_UpdateBranchIndex_SkipsIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "vendor/dep/dep.go", "package dep")
	writeFile(t, root, "yarn.lock", "lockfile")
	idx := newTestIndex(t, root)

	project := db.Project{ID: "p1", BaseBranch: "main"}
	if err := idx.UpdateBranchIndex(context.Background(), project, "main", nil); err != nil {
		t.Fatalf("UpdateBranchIndex: %v", err)
	}

	m, err := idx.loadManifest("p1", "main")
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if _, ok := m.Files["main.go"]; !ok {
		t.Error("expected main.go to be indexed")
	}
	if _, ok := m.Files["vendor/dep/dep.go"]; ok {
		t.Error("expected vendor/** to be skipped")
	}
	if _, ok := m.Files["yarn.lock"]; ok {
		t.Error("expected *.lock to be skipped")
	}
}

func TestFileBacked_TriggerIncrementalUpdate_OnlyTouchesChangedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.go", "package b")
	idx := newTestIndex(t, root)

	project := db.Project{ID: "p1", BaseBranch: "main"}
	if err := idx.UpdateBranchIndex(context.Background(), project, "feature", nil); err != nil {
		t.Fatalf("UpdateBranchIndex: %v", err)
	}

	before, _ := idx.loadManifest("p1", "feature")

	writeFile(t, root, "a.go", "package a // changed")
	diff := "diff --git a/a.go b/a.go\n@@ -1 +1 @@\n-package a\n+package a // changed\n"
	if err := idx.TriggerIncrementalUpdate(context.Background(), project, "feature", "c1", diff, nil); err != nil {
		t.Fatalf("TriggerIncrementalUpdate: %v", err)
	}

	after, _ := idx.loadManifest("p1", "feature")

	if after.Files["a.go"] == "" || after.Files["b.go"] == "" {
		t.Fatalf("expected both files tracked, got %+v", after.Files)
	}
	if after.Files["a.go"] == before.Files["a.go"] {
		t.Errorf("expected a.go's hash to change")
	}
	if after.Files["b.go"] != before.Files["b.go"] {
		t.Errorf("expected b.go's hash to stay unchanged")
	}
	if after.CommitHash != "c1" {
		t.Errorf("expected commit hash recorded, got %q", after.CommitHash)
	}
}

func TestParseChangedFiles(t *testing.T) {
	diff := "diff --git a/foo/bar.go b/foo/bar.go\n" +
		"index abc..def 100644\n" +
		"--- a/foo/bar.go\n" +
		"+++ b/foo/bar.go\n" +
		"diff --git a/baz.go b/baz.go\n"

	files := parseChangedFiles(diff)
	if len(files) != 2 || files[0] != "foo/bar.go" || files[1] != "baz.go" {
		t.Errorf("unexpected parsed files: %+v", files)
	}
}
