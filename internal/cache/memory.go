package cache

import (
	"sort"
	"sync"
)

// MemoryBackend is an in-memory store for testing.
type MemoryBackend struct {
	entries map[string]map[string][]byte
	writes  int
	mu      sync.RWMutex
}

// NewMemoryBackend creates a new in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]map[string][]byte),
	}
}

// Path returns a dummy path for key.
func (b *MemoryBackend) Path(namespace, key string) string {
	return namespace + "/" + key + ".json"
}

// Read returns a copy of the stored bytes.
func (b *MemoryBackend) Read(namespace, key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.entries[namespace][key]
	if !ok {
		return nil, false
	}
	// Return a copy to prevent mutation
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Write stores a copy of data.
func (b *MemoryBackend) Write(namespace, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ns, ok := b.entries[namespace]
	if !ok {
		ns = make(map[string][]byte)
		b.entries[namespace] = ns
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	ns[key] = stored
	b.writes++
	return nil
}

// Scan returns the sorted keys stored under namespace.
func (b *MemoryBackend) Scan(namespace string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries[namespace]))
	for k := range b.entries[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writes returns the number of writes performed (for testing).
func (b *MemoryBackend) Writes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writes
}

// Reset clears all entries (for testing).
func (b *MemoryBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]map[string][]byte)
	b.writes = 0
}
