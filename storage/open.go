package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported backend names for Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendPebble  = "pebble"
)

// Open returns the database for the named backend rooted at dir. The memory
// backend ignores dir.
func Open(backend, dir string) (Database, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	if name == "" {
		name = BackendLevelDB
	}
	if name == BackendMemory {
		return NewMemDB(), nil
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage: data directory required for %s backend", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	switch name {
	case BackendLevelDB:
		return NewLevelDB(filepath.Join(dir, "state"))
	case BackendBolt:
		return NewBoltDB(filepath.Join(dir, "state.db"), nil)
	case BackendPebble:
		return NewPebbleDB(filepath.Join(dir, "pebble"))
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", backend)
	}
}
