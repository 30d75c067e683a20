// Package uploader writes admitted upload candidates into library folders
// with collision-safe naming.
package uploader

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Outcome describes one persisted file.
type Outcome struct {
	FileName string `json:"fileName"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Executor streams candidate files onto disk. Name allocation is serialized
// so concurrent batches targeting the same directory cannot race each other
// into an overwrite; the byte copy itself runs outside the lock.
type Executor struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// NewExecutor constructs an executor.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Persist writes the candidate stream into dir under its (sanitized) file
// name. When the name is taken, a numeric suffix is appended (name_1.ext,
// name_2.ext, ...) until a free slot is found; existing files are never
// overwritten. A mid-stream failure aborts the file and reports an error;
// the partial file stays on disk for the collision logic to step over on a
// retry.
func (e *Executor) Persist(dir, fileName string, src io.Reader) (Outcome, error) {
	name := sanitizeFileName(fileName)
	if name == "" {
		return Outcome{}, fmt.Errorf("file name is required")
	}

	dst, finalPath, err := e.allocate(dir, name)
	if err != nil {
		return Outcome{}, err
	}

	written, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return Outcome{}, fmt.Errorf("write %s: %w", finalPath, copyErr)
	}
	if closeErr != nil {
		return Outcome{}, fmt.Errorf("close %s: %w", finalPath, closeErr)
	}

	e.logger.Info("file persisted", "path", finalPath, "bytes", written)
	return Outcome{FileName: filepath.Base(finalPath), Path: finalPath, Size: written}, nil
}

// allocate opens the first free collision-suffixed path under dir. The
// exclusive-create flag keeps the existence check and the open atomic even
// against writers outside this process.
func (e *Executor) allocate(dir, name string) (*os.File, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := strings.TrimSuffix(name, filepath.Ext(name))
	ext := filepath.Ext(name)
	candidate := name
	for counter := 1; ; counter++ {
		path := filepath.Join(dir, candidate)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", base, counter, ext)
	}
}

// sanitizeFileName normalizes the candidate name to NFC and strips any path
// components a client may have smuggled in.
func sanitizeFileName(fileName string) string {
	name := norm.NFC.String(strings.TrimSpace(fileName))
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "/" {
		return ""
	}
	return name
}
