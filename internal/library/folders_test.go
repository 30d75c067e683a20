package library

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLibrary(t *testing.T) Library {
	t.Helper()
	return Library{ID: "lib-1", Name: "Movies", Path: t.TempDir(), Type: "movies"}
}

func TestListFoldersOneLevel(t *testing.T) {
	lib := testLibrary(t)
	for _, dir := range []string{"Action", "Drama", filepath.Join("Action", "Nested")} {
		if err := os.MkdirAll(filepath.Join(lib.Path, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(lib.Path, "stray.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	b := NewBrowser(0, testLogger())
	folders := b.ListFolders(lib, "")
	if len(folders) != 2 {
		t.Fatalf("folders = %d, want 2 (files and nested dirs excluded)", len(folders))
	}
	names := map[string]string{}
	for _, f := range folders {
		names[f.Name] = f.Path
	}
	if names["Action"] != "Action" || names["Drama"] != "Drama" {
		t.Fatalf("unexpected listing: %v", names)
	}

	nested := b.ListFolders(lib, "Action")
	if len(nested) != 1 || nested[0].Path != "Action/Nested" {
		t.Fatalf("nested listing = %+v", nested)
	}
}

func TestListFoldersMissingPathIsSilentlyEmpty(t *testing.T) {
	b := NewBrowser(0, testLogger())
	if folders := b.ListFolders(testLibrary(t), "does/not/exist"); len(folders) != 0 {
		t.Fatalf("folders = %+v, want empty", folders)
	}
}

func TestListFoldersRejectsTraversal(t *testing.T) {
	b := NewBrowser(0, testLogger())
	if folders := b.ListFolders(testLibrary(t), "../outside"); len(folders) != 0 {
		t.Fatalf("traversal listing = %+v, want empty", folders)
	}
}

func TestTargetDirCreatesWhenAllowed(t *testing.T) {
	lib := testLibrary(t)
	b := NewBrowser(0, testLogger())

	dir, err := b.TargetDir(lib, "incoming", true)
	if err != nil {
		t.Fatalf("TargetDir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("target not created: %v", err)
	}
}

func TestTargetDirMissingWithoutAutoCreate(t *testing.T) {
	lib := testLibrary(t)
	b := NewBrowser(0, testLogger())

	if _, err := b.TargetDir(lib, "incoming", false); !errors.Is(err, ErrFolderMissing) {
		t.Fatalf("err = %v, want ErrFolderMissing", err)
	}
	if _, err := os.Stat(filepath.Join(lib.Path, "incoming")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("folder must not be created when auto-creation is disabled")
	}
}

func TestTargetDirEmptyFolderIsLibraryRoot(t *testing.T) {
	lib := testLibrary(t)
	b := NewBrowser(0, testLogger())

	dir, err := b.TargetDir(lib, "", false)
	if err != nil {
		t.Fatalf("TargetDir: %v", err)
	}
	if dir != filepath.Clean(lib.Path) {
		t.Fatalf("dir = %q, want library root %q", dir, lib.Path)
	}
}

func TestDepthLimitEnforced(t *testing.T) {
	lib := testLibrary(t)
	b := NewBrowser(2, testLogger())

	if _, err := b.TargetDir(lib, "a/b", true); err != nil {
		t.Fatalf("depth 2 should pass: %v", err)
	}
	if _, err := b.TargetDir(lib, "a/b/c", true); !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("err = %v, want ErrDepthExceeded", err)
	}
	if _, err := b.CreateFolder(lib, "a/b", "c"); !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("create err = %v, want ErrDepthExceeded", err)
	}
}

func TestCreateFolder(t *testing.T) {
	lib := testLibrary(t)
	b := NewBrowser(0, testLogger())

	rel, err := b.CreateFolder(lib, "", "Concerts")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if rel != "Concerts" {
		t.Fatalf("rel = %q, want Concerts", rel)
	}
	if _, err := b.CreateFolder(lib, "", "Concerts"); !errors.Is(err, ErrFolderExists) {
		t.Fatalf("err = %v, want ErrFolderExists", err)
	}

	nested, err := b.CreateFolder(lib, "Concerts", "2024")
	if err != nil {
		t.Fatalf("nested CreateFolder: %v", err)
	}
	if nested != "Concerts/2024" {
		t.Fatalf("nested rel = %q", nested)
	}
}

func TestCreateFolderRejectsBadNames(t *testing.T) {
	lib := testLibrary(t)
	b := NewBrowser(0, testLogger())

	for _, name := range []string{"", "..", "a/b", "   "} {
		if _, err := b.CreateFolder(lib, "", name); err == nil {
			t.Fatalf("name %q should be rejected", name)
		}
	}
	if _, err := b.CreateFolder(lib, "../outside", "x"); !errors.Is(err, ErrPathOutsideLibrary) {
		t.Fatalf("err = %v, want ErrPathOutsideLibrary", err)
	}
}
