package library

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrFolderExists is returned when creating a folder that already exists.
	ErrFolderExists = errors.New("folder already exists")
	// ErrFolderMissing is returned when an upload targets a folder that does
	// not exist and auto-creation is disabled.
	ErrFolderMissing = errors.New("target folder does not exist")
	// ErrPathOutsideLibrary is returned when a relative path escapes the
	// library root.
	ErrPathOutsideLibrary = errors.New("path escapes the library root")
	// ErrDepthExceeded is returned when a path nests deeper than the
	// configured folder depth limit.
	ErrDepthExceeded = errors.New("folder depth limit exceeded")
	// ErrInvalidName is returned when a new folder name carries path
	// separators or is otherwise malformed.
	ErrInvalidName = errors.New("invalid folder name")
)

// Browser performs the filesystem half of the directory contract: one-level
// folder listing, target resolution, and bounded folder creation beneath a
// library root.
type Browser struct {
	maxDepth int
	logger   *slog.Logger
}

// NewBrowser constructs a browser. maxDepth bounds folder nesting relative
// to the library root; zero disables the bound.
func NewBrowser(maxDepth int, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Browser{maxDepth: maxDepth, logger: logger}
}

// ListFolders returns the directories one level beneath subPath in the
// library. Unreadable or absent paths yield an empty listing rather than an
// error so a stale client selection never breaks browsing.
func (b *Browser) ListFolders(lib Library, subPath string) []Folder {
	base, err := b.resolve(lib, subPath)
	if err != nil {
		b.logger.Warn("rejected folder listing path", "library_id", lib.ID, "path", subPath, "error", err)
		return nil
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("failed to read library folder", "path", base, "error", err)
		}
		return nil
	}
	folders := make([]Folder, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rel, err := filepath.Rel(lib.Path, filepath.Join(base, entry.Name()))
		if err != nil {
			continue
		}
		folders = append(folders, Folder{
			Name:        entry.Name(),
			Path:        filepath.ToSlash(rel),
			IsDirectory: true,
		})
	}
	return folders
}

// TargetDir resolves the upload target directory for an optional folder
// identifier. When the directory is absent it is created if autoCreate is
// set, otherwise ErrFolderMissing is returned.
func (b *Browser) TargetDir(lib Library, folderID string, autoCreate bool) (string, error) {
	target, err := b.resolve(lib, folderID)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(target)
	switch {
	case err == nil:
		if !info.IsDir() {
			return "", fmt.Errorf("%w: %s is a file", ErrFolderMissing, folderID)
		}
		return target, nil
	case errors.Is(err, os.ErrNotExist):
		if !autoCreate {
			return "", ErrFolderMissing
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return "", fmt.Errorf("create target folder: %w", err)
		}
		return target, nil
	default:
		return "", fmt.Errorf("stat target folder: %w", err)
	}
}

// CreateFolder creates a single new folder beneath parentPath and returns
// its path relative to the library root.
func (b *Browser) CreateFolder(lib Library, parentPath, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	rel := name
	if trimmed := strings.Trim(strings.TrimSpace(parentPath), "/"); trimmed != "" {
		rel = trimmed + "/" + name
	}
	target, err := b.resolve(lib, rel)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err == nil {
		return "", ErrFolderExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat folder: %w", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	relOut, err := filepath.Rel(lib.Path, target)
	if err != nil {
		return "", fmt.Errorf("relativize folder: %w", err)
	}
	return filepath.ToSlash(relOut), nil
}

// resolve joins a client-supplied relative path onto the library root,
// rejecting traversal outside the root and nesting beyond the depth limit.
func (b *Browser) resolve(lib Library, rel string) (string, error) {
	root := filepath.Clean(lib.Path)
	rel = strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/")
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", ErrPathOutsideLibrary
	}
	if b.maxDepth > 0 {
		depth := len(strings.Split(filepath.ToSlash(cleaned), "/"))
		if depth > b.maxDepth {
			return "", ErrDepthExceeded
		}
	}
	return filepath.Join(root, cleaned), nil
}
