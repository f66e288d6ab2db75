package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/core"
)

// Fetcher loads the value for key from the mirror node.
// Returning an error matching api.ErrNotFound resolves the key as absent.
type Fetcher[K comparable, V any] func(ctx context.Context, key K) (V, error)

// KeyedOptions configures a KeyedCache.
type KeyedOptions[K comparable] struct {
	Name      string         // label for logs, metrics and the store namespace
	Backend   Backend        // optional persistent store (immutable entities only)
	KeyString func(K) string // store key; defaults to fmt.Sprint
	Metrics   Metrics        // defaults to NoopMetrics
	Verbose   bool
}

// entry is either pending (done open) or resolved (done closed).
// val and found are written once, before done is closed. forgotten is
// guarded by the cache mutex and drops the entry once its fetch resolves.
type entry[V any] struct {
	done      chan struct{}
	val       V
	found     bool
	forgotten bool
}

func (e *entry[V]) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// KeyedCache memoizes fetches by key and deduplicates concurrent lookups.
// Entries are never evicted except through Forget, and only replaced
// through Store.
type KeyedCache[K comparable, V any] struct {
	name      string
	fetch     Fetcher[K, V]
	backend   Backend
	keyString func(K) string
	metrics   Metrics
	verbose   bool

	mu      sync.Mutex
	entries map[K]*entry[V]
}

// NewKeyedCache creates a cache that resolves misses with fetch.
func NewKeyedCache[K comparable, V any](fetch func(ctx context.Context, key K) (V, error), opts KeyedOptions[K]) *KeyedCache[K, V] {
	c := &KeyedCache[K, V]{
		name:      opts.Name,
		fetch:     fetch,
		backend:   opts.Backend,
		keyString: opts.KeyString,
		metrics:   opts.Metrics,
		verbose:   opts.Verbose,
		entries:   make(map[K]*entry[V]),
	}
	if c.keyString == nil {
		c.keyString = func(k K) string { return fmt.Sprint(k) }
	}
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}
	return c
}

// log writes a debug message if verbose mode is enabled.
func (c *KeyedCache[K, V]) log(msg string) {
	core.Eprint(fmt.Sprintf("[Cache:%s] %s", c.name, msg), c.verbose)
}

// Name returns the cache label.
func (c *KeyedCache[K, V]) Name() string {
	return c.name
}

// Lookup returns the value for key, fetching it at most once across all
// concurrent callers. ok is false when the entity does not exist, when the
// fetch failed, or when ctx ends before the fetch resolves. Cancelling ctx
// releases only this caller; the shared fetch keeps running.
func (c *KeyedCache[K, V]) Lookup(ctx context.Context, key K) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.mu.Unlock()
		if e.resolved() {
			c.metrics.Hit(c.name)
			return e.val, e.found
		}
		c.log(fmt.Sprintf("Joining in-flight fetch for %v", key))
		return c.wait(ctx, e)
	}

	e = &entry[V]{done: make(chan struct{})}
	c.entries[key] = e
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.Miss(c.name)
	c.metrics.Size(c.name, size)

	go c.resolve(context.WithoutCancel(ctx), key, e)
	return c.wait(ctx, e)
}

func (c *KeyedCache[K, V]) wait(ctx context.Context, e *entry[V]) (V, bool) {
	select {
	case <-e.done:
		return e.val, e.found
	case <-ctx.Done():
		var zero V
		return zero, false
	}
}

// resolve runs the shared fetch for key and publishes the outcome to e.
func (c *KeyedCache[K, V]) resolve(ctx context.Context, key K, e *entry[V]) {
	v, outcome, err := c.load(ctx, key)
	c.metrics.Load(c.name, outcome)

	c.mu.Lock()
	retain := !e.forgotten
	switch outcome {
	case LoadFetched, LoadStored:
		e.val, e.found = v, true
	case LoadNotFound:
		c.log(fmt.Sprintf("%v not found", key))
	default:
		c.log(fmt.Sprintf("Fetch for %v failed: %v", key, err))
		// Failures are not memoized.
		retain = false
	}
	// Store may already have replaced e.
	if !retain && c.entries[key] == e {
		delete(c.entries, key)
	}
	size := len(c.entries)
	// Closed under the lock so Forget sees either pending or resolved.
	close(e.done)
	c.mu.Unlock()
	c.metrics.Size(c.name, size)
}

// load consults the persistent store before fetching, and writes fetched
// values back to it.
func (c *KeyedCache[K, V]) load(ctx context.Context, key K) (V, LoadOutcome, error) {
	var zero V
	storeKey := c.keyString(key)

	if c.backend != nil {
		if data, ok := c.backend.Read(c.name, storeKey); ok {
			var v V
			if err := json.Unmarshal(data, &v); err == nil {
				c.log(fmt.Sprintf("Loaded %s from store", storeKey))
				return v, LoadStored, nil
			}
		}
	}

	v, err := c.fetch(ctx, key)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return zero, LoadNotFound, err
		}
		return zero, LoadFailed, err
	}

	c.persist(storeKey, v)
	return v, LoadFetched, nil
}

// persist writes v to the persistent store, if any. Failures are logged.
func (c *KeyedCache[K, V]) persist(storeKey string, v V) {
	if c.backend == nil {
		return
	}
	data, err := json.Marshal(v)
	if err == nil {
		err = c.backend.Write(c.name, storeKey, data)
	}
	if err != nil {
		c.log(fmt.Sprintf("Failed to store %s: %v", storeKey, err))
	}
}

// Peek returns the resolved value for key without fetching or blocking.
func (c *KeyedCache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok || !e.resolved() {
		var zero V
		return zero, false
	}
	return e.val, e.found
}

// Forget evicts key. A fetch already in flight is still shared by every
// lookup that arrives before it resolves, but its result is not retained.
func (c *KeyedCache[K, V]) Forget(key K) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.resolved() {
			delete(c.entries, key)
		} else {
			e.forgotten = true
		}
	}
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.Size(c.name, size)
}

// Store records v as the resolved value for key, writing it to the
// persistent store when one is configured. Lookups waiting on a fetch
// already in flight still receive that fetch's result.
func (c *KeyedCache[K, V]) Store(key K, v V) {
	e := &entry[V]{done: make(chan struct{}), val: v, found: true}
	close(e.done)

	c.mu.Lock()
	c.entries[key] = e
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.Size(c.name, size)

	c.persist(c.keyString(key), v)
}

// Len returns the number of entries, pending ones included.
func (c *KeyedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
