// Package cache provides the client-side caches behind the mirror explorer.
//
// # Overview
//
// Two kinds of cache sit between the commands and the mirror node:
//
//   - KeyedCache memoizes lookups of immutable or slowly-changing entities
//     (transactions by consensus timestamp, accounts and contracts by ID,
//     blocks by timestamp or number). Concurrent lookups of the same key share
//     a single fetch.
//   - Poller holds one entity and refreshes it on a fixed period, stopping
//     itself after a bounded number of updates.
//
// # Persistent Store
//
// A KeyedCache may be backed by a Backend that survives the process. Only
// immutable entities are written through (a transaction at a given consensus
// timestamp never changes), so a stored entry never needs revalidation.
// Values are stored as JSON under a namespace (the cache name) and a key:
//
//	~/.mirror-explorer/cache/transactions/2023/11/1700000001.000000002.json
//	~/.mirror-explorer/cache/blocks-by-number/61234567.json
//
// # Error Policy
//
// A fetch that fails with api.ErrNotFound resolves the key as absent and is
// memoized. Any other failure is reported to the waiting callers as absent but
// is not memoized, so the next lookup fetches again.
package cache

// Backend is the interface for persistent entity stores.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Read returns the stored bytes for key in namespace, if present.
	// Unreadable or corrupt entries are reported as absent.
	Read(namespace, key string) ([]byte, bool)

	// Write persists data atomically.
	Write(namespace, key string, data []byte) error

	// Scan returns the keys stored under namespace.
	Scan(namespace string) []string

	// Path describes where key is stored (for debugging).
	Path(namespace, key string) string
}

// LoadOutcome classifies how a cache miss was resolved.
type LoadOutcome int

const (
	LoadFetched  LoadOutcome = iota // fetched from the mirror node
	LoadStored                      // read from the persistent store
	LoadNotFound                    // resolved as absent
	LoadFailed                      // transient failure, not memoized
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadFetched:
		return "fetched"
	case LoadStored:
		return "stored"
	case LoadNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Metrics receives cache and poller events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Hit(cache string)
	Miss(cache string)
	Load(cache string, outcome LoadOutcome)
	Size(cache string, entries int)
	PollerFetch(poller string, ok bool)
	PollerState(poller string, state PollingState)
}
