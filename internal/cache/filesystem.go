package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/colthorp/mirror-explorer-go/internal/core"
)

// FilesystemBackend stores JSON files on disk.
// Timestamp keys are sharded by consensus date:
// <root>/<namespace>/YYYY/MM/<key>.json. Other keys live directly under the
// namespace directory.
type FilesystemBackend struct {
	root      string
	writeLock sync.Mutex
}

// NewFilesystemBackend creates a new filesystem-based store.
func NewFilesystemBackend(root string) *FilesystemBackend {
	if root == "" {
		root = core.CacheRoot()
	}
	return &FilesystemBackend{root: root}
}

// Path returns the filesystem path for key.
func (b *FilesystemBackend) Path(namespace, key string) string {
	name := sanitizeKey(key) + ".json"
	if ts, err := core.ParseTimestamp(key); err == nil && strings.Contains(key, ".") {
		return filepath.Join(b.root, namespace, ts.Format("2006"), ts.Format("01"), name)
	}
	return filepath.Join(b.root, namespace, name)
}

// Read returns the stored bytes for key or false if absent.
func (b *FilesystemBackend) Read(namespace, key string) ([]byte, bool) {
	path := b.Path(namespace, key)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if !json.Valid(data) {
		// Corrupt file, remove it
		os.Remove(path)
		return nil, false
	}
	return data, true
}

// Write persists data atomically.
func (b *FilesystemBackend) Write(namespace, key string, data []byte) error {
	path := b.Path(namespace, key)

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Scan returns the sorted keys stored under namespace.
func (b *FilesystemBackend) Scan(namespace string) []string {
	keys := make([]string, 0)
	dir := filepath.Join(b.root, namespace)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return keys
	}

	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(d.Name()) != ".json" {
			return nil
		}
		keys = append(keys, strings.TrimSuffix(d.Name(), ".json"))
		return nil
	})
	sort.Strings(keys)
	return keys
}

// sanitizeKey keeps keys usable as file names.
func sanitizeKey(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)
}
