package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS entities (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	body      BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
)`

// SQLiteBackend stores entities in a single SQLite database file.
type SQLiteBackend struct {
	path string
	db   *sql.DB
}

// OpenSQLiteBackend opens (creating if needed) the database at path.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteBackend{path: cleanPath, db: db}, nil
}

// Close closes the database handle.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Path returns a descriptive location for key.
func (b *SQLiteBackend) Path(namespace, key string) string {
	return fmt.Sprintf("%s#%s/%s", b.path, namespace, key)
}

// Read returns the stored body for key.
func (b *SQLiteBackend) Read(namespace, key string) ([]byte, bool) {
	var body []byte
	err := b.db.QueryRow(`SELECT body FROM entities WHERE namespace = ? AND key = ?`, namespace, key).Scan(&body)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			fmt.Fprintf(os.Stderr, "Warning: sqlite read %s/%s: %v\n", namespace, key, err)
		}
		return nil, false
	}
	return body, true
}

// Write upserts body for key.
func (b *SQLiteBackend) Write(namespace, key string, data []byte) error {
	_, err := b.db.Exec(
		`INSERT INTO entities (namespace, key, body) VALUES (?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET body = excluded.body`,
		namespace, key, data,
	)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Scan returns the keys stored under namespace in key order.
func (b *SQLiteBackend) Scan(namespace string) []string {
	keys := make([]string, 0)
	rows, err := b.db.Query(`SELECT key FROM entities WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return keys
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return keys
		}
		keys = append(keys, k)
	}
	return keys
}
