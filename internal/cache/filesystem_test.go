package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFilesystemBackend(t *testing.T) {
	tmpDir := t.TempDir()
	backend := NewFilesystemBackend(tmpDir)

	body := []byte(`{"consensus_timestamp":"1700000001.000000002","name":"CRYPTOTRANSFER"}`)

	// Test write
	if err := backend.Write("transactions", "1700000001.000000002", body); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Timestamp keys are sharded by consensus date
	expectedPath := filepath.Join(tmpDir, "transactions", "2023", "11", "1700000001.000000002.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("Expected file %s to exist", expectedPath)
	}

	// Test read
	data, ok := backend.Read("transactions", "1700000001.000000002")
	if !ok {
		t.Fatal("Expected entry to be read")
	}
	if string(data) != string(body) {
		t.Errorf("Expected %s, got %s", body, data)
	}

	// Entity and number keys live directly under the namespace
	if err := backend.Write("blocks-by-number", "61234567", []byte(`{"number":61234567}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := backend.Path("blocks-by-number", "61234567"); got != filepath.Join(tmpDir, "blocks-by-number", "61234567.json") {
		t.Errorf("Unexpected path %s", got)
	}

	// Test scan
	keys := backend.Scan("transactions")
	if len(keys) != 1 || keys[0] != "1700000001.000000002" {
		t.Errorf("Expected one transaction key, got %v", keys)
	}
	if keys := backend.Scan("contracts"); len(keys) != 0 {
		t.Errorf("Expected empty scan for unknown namespace, got %v", keys)
	}
}

func TestFilesystemBackendRemovesCorruptFiles(t *testing.T) {
	tmpDir := t.TempDir()
	backend := NewFilesystemBackend(tmpDir)

	path := backend.Path("accounts", "0.0.98")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := backend.Read("accounts", "0.0.98"); ok {
		t.Error("Expected corrupt entry to be reported as absent")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected corrupt file to be removed")
	}
}

func TestBackendsRoundTrip(t *testing.T) {
	sqlite, err := OpenSQLiteBackend(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteBackend failed: %v", err)
	}
	defer sqlite.Close()

	backends := map[string]Backend{
		"memory":     NewMemoryBackend(),
		"filesystem": NewFilesystemBackend(t.TempDir()),
		"sqlite":     sqlite,
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			if _, ok := backend.Read("blocks", "100.000000000"); ok {
				t.Fatal("Expected empty store")
			}
			if err := backend.Write("blocks", "100.000000000", []byte(`{"number":1}`)); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := backend.Write("blocks", "100.000000000", []byte(`{"number":2}`)); err != nil {
				t.Fatalf("Overwrite failed: %v", err)
			}
			data, ok := backend.Read("blocks", "100.000000000")
			if !ok || string(data) != `{"number":2}` {
				t.Errorf("Expected overwritten value, got %s (ok=%v)", data, ok)
			}
			if keys := backend.Scan("blocks"); len(keys) != 1 {
				t.Errorf("Expected 1 key, got %v", keys)
			}
			if backend.Path("blocks", "100.000000000") == "" {
				t.Error("Expected a non-empty path")
			}
		})
	}
}
