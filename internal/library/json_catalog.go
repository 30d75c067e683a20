package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type jsonDataset struct {
	Libraries map[string]Library   `json:"libraries"`
	Refreshes map[string]time.Time `json:"refreshRequests"`
}

// JSONCatalog is a file-backed catalog for development and single-instance
// deployments. Refresh requests are recorded in the file so the host's scan
// loop (or an operator) can observe them.
type JSONCatalog struct {
	mu       sync.RWMutex
	filePath string
	data     jsonDataset
	logger   *slog.Logger
}

// NewJSONCatalog opens (or creates) the catalog file at path.
func NewJSONCatalog(path string, logger *slog.Logger) (*JSONCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &JSONCatalog{filePath: path, logger: logger}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Ping reports whether the catalog file's directory is reachable.
func (c *JSONCatalog) Ping(context.Context) error {
	_, err := os.Stat(filepath.Dir(c.filePath))
	return err
}

// ListLibraries returns every registered library sorted by name.
func (c *JSONCatalog) ListLibraries(context.Context) ([]Library, error) {
	c.mu.RLock()
	libraries := make([]Library, 0, len(c.data.Libraries))
	for _, lib := range c.data.Libraries {
		libraries = append(libraries, lib)
	}
	c.mu.RUnlock()
	sort.Slice(libraries, func(i, j int) bool { return libraries[i].Name < libraries[j].Name })
	return libraries, nil
}

// GetLibrary resolves a library by ID.
func (c *JSONCatalog) GetLibrary(_ context.Context, id string) (Library, bool, error) {
	c.mu.RLock()
	lib, ok := c.data.Libraries[strings.TrimSpace(id)]
	c.mu.RUnlock()
	return lib, ok, nil
}

// RefreshLibrary records the rescan request. The JSON driver has no live
// host process to notify, so the timestamp in the file is the signal.
func (c *JSONCatalog) RefreshLibrary(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data.Libraries[id]; !ok {
		return fmt.Errorf("library %s not found", id)
	}
	c.data.Refreshes[id] = time.Now().UTC()
	if err := c.persistLocked(); err != nil {
		return err
	}
	c.logger.Info("library refresh requested", "library_id", id)
	return nil
}

// RegisterLibrary adds a library to the catalog, minting an ID when none is
// provided. Used by the seed tool and tests; the host owns libraries in real
// deployments.
func (c *JSONCatalog) RegisterLibrary(lib Library) (Library, error) {
	lib.Name = strings.TrimSpace(lib.Name)
	lib.Path = strings.TrimSpace(lib.Path)
	if lib.Name == "" || lib.Path == "" {
		return Library{}, fmt.Errorf("library name and path are required")
	}
	if strings.TrimSpace(lib.ID) == "" {
		lib.ID = uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data.Libraries[lib.ID]; ok {
		return Library{}, ErrLibraryExists
	}
	c.data.Libraries[lib.ID] = lib
	if err := c.persistLocked(); err != nil {
		delete(c.data.Libraries, lib.ID)
		return Library{}, err
	}
	return lib, nil
}

func (c *JSONCatalog) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	file, err := os.Open(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		c.data = newJSONDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open catalog file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&c.data); err != nil {
		if errors.Is(err, io.EOF) {
			c.data = newJSONDataset()
			return nil
		}
		return fmt.Errorf("decode catalog file: %w", err)
	}
	if c.data.Libraries == nil {
		c.data.Libraries = make(map[string]Library)
	}
	if c.data.Refreshes == nil {
		c.data.Refreshes = make(map[string]time.Time)
	}
	return nil
}

func (c *JSONCatalog) persistLocked() error {
	dir := filepath.Dir(c.filePath)
	tmpFile, err := os.CreateTemp(dir, "catalog-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c.data); err != nil {
		return fmt.Errorf("encode catalog file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp catalog file: %w", err)
	}
	if err := os.Rename(tmpPath, c.filePath); err != nil {
		return fmt.Errorf("replace catalog file: %w", err)
	}
	success = true
	return nil
}

func newJSONDataset() jsonDataset {
	return jsonDataset{
		Libraries: make(map[string]Library),
		Refreshes: make(map[string]time.Time),
	}
}
