// Package library exposes the host media-library catalog and filesystem
// folder operations scoped beneath a library root.
package library

import (
	"context"
	"errors"
)

// Library is a read-only projection of a host library entity. Type carries
// the content category (photos, movies, tvshows, music, books, or a host
// specific value) that drives the extension policy.
type Library struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// Folder is a single directory entry beneath a library root. Path is
// relative to the library root.
type Folder struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
}

// Catalog resolves host libraries and forwards rescan requests. The host
// owns the library graph; this service only reads it.
type Catalog interface {
	Ping(ctx context.Context) error
	ListLibraries(ctx context.Context) ([]Library, error)
	GetLibrary(ctx context.Context, id string) (Library, bool, error)
	// RefreshLibrary asks the host to rescan the library for new files. The
	// request is asynchronous from the caller's perspective.
	RefreshLibrary(ctx context.Context, id string) error
}

// ErrLibraryExists is returned when registering a library whose ID is taken.
var ErrLibraryExists = errors.New("library already exists")
