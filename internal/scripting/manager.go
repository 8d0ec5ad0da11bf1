package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrExtensionNotFound is returned by Get when no script exists for the id.
var ErrExtensionNotFound = errors.New("extension not found")

// Manager loads extensions from a directory on first use and caches one
// Extension per id. Extension "Brawl" is read from <dir>/brawl.lua.
//
// Manager is safe for concurrent use.
type Manager struct {
	dir    string
	limit  int
	logger *zap.Logger

	mu   sync.Mutex
	exts map[string]*Extension
}

// NewManager creates a Manager over dir.
//
// Precondition: logger must be non-nil.
// Postcondition: no script is loaded until Get.
func NewManager(dir string, instLimit int, logger *zap.Logger) *Manager {
	return &Manager{
		dir:    dir,
		limit:  instLimit,
		logger: logger,
		exts:   make(map[string]*Extension),
	}
}

// Enabled reports whether the manager has a directory to load from.
func (m *Manager) Enabled() bool {
	return m != nil && m.dir != ""
}

// Get returns the extension for id, loading it when first requested.
//
// Postcondition: returns ErrExtensionNotFound when the script does not exist,
// or a load error when it does not run.
func (m *Manager) Get(id string) (*Extension, error) {
	if !m.Enabled() {
		return nil, fmt.Errorf("%w: %q (extensions disabled)", ErrExtensionNotFound, id)
	}
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrExtensionNotFound, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.exts[id]; ok {
		return e, nil
	}

	path := filepath.Join(m.dir, strings.ToLower(id)+".lua")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrExtensionNotFound, id)
		}
		return nil, fmt.Errorf("scripting: stat %q: %w", path, err)
	}
	e, err := LoadExtension(id, path, m.limit, m.logger)
	if err != nil {
		return nil, err
	}
	m.exts[id] = e
	m.logger.Info("extension loaded", zap.String("extension", id), zap.String("path", path))
	return e, nil
}

// Close closes every loaded extension.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.exts {
		e.Close()
		delete(m.exts, id)
	}
}
