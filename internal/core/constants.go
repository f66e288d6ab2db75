// Package core provides shared constants and configuration for the mirror explorer.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// API configuration
const (
	DefaultNetwork   = "mainnet"
	APIPathPrefix    = "api/v1"
	APIKeyEnvVar     = "MIRROR_API_KEY"
	DefaultRateLimit = 20.0 // requests per second
)

// NetworkBaseURLs maps the well-known networks to their public mirror node.
var NetworkBaseURLs = map[string]string{
	"mainnet":    "https://mainnet-public.mirrornode.hedera.com",
	"testnet":    "https://testnet.mirrornode.hedera.com",
	"previewnet": "https://previewnet.mirrornode.hedera.com",
}

// Datetime format accepted on the command line
const (
	APIDatetimeFmt = "2006-01-02 15:04:05"
)

// Pagination
const (
	PageLimit    = 10  // rows per visible page
	MaxPageLimit = 100 // largest "limit" the mirror node accepts
	BufferPages  = 10  // retained buffer, in pages

	PageFetchTimeout = 30 * time.Second
)

// Polling defaults
const (
	DefaultUpdatePeriod   = 5 * time.Second
	DefaultMaxUpdateCount = 10
)

// Concurrency
const (
	PrefetchMaxWorkers = 4 // concurrent lookups when warming a cache
)

// Store kinds for the persistent entity store
const (
	StoreNone       = "none"
	StoreFilesystem = "fs"
	StoreSQLite     = "sqlite"
)

// CacheRoot returns the default cache directory path.
func CacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".mirror-explorer", "cache")
}

// Version is the current CLI version.
const Version = "0.3.0"
