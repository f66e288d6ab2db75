package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMetrics counts events for assertions.
type recordingMetrics struct {
	mu       sync.Mutex
	hits     int
	misses   int
	outcomes map[LoadOutcome]int
	fetches  map[bool]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: make(map[LoadOutcome]int), fetches: make(map[bool]int)}
}

func (m *recordingMetrics) Hit(string) {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *recordingMetrics) Miss(string) {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *recordingMetrics) Load(_ string, o LoadOutcome) {
	m.mu.Lock()
	m.outcomes[o]++
	m.mu.Unlock()
}

func (m *recordingMetrics) Size(string, int) {}

func (m *recordingMetrics) PollerFetch(_ string, ok bool) {
	m.mu.Lock()
	m.fetches[ok]++
	m.mu.Unlock()
}

func (m *recordingMetrics) PollerState(string, PollingState) {}

func (m *recordingMetrics) outcome(o LoadOutcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[o]
}

func TestKeyedCacheDeduplicatesConcurrentLookups(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context, id string) (api.Account, error) {
		calls.Add(1)
		<-gate
		return api.Account{Account: id}, nil
	}
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "accounts"})

	const lookups = 8
	var wg sync.WaitGroup
	results := make([]api.Account, lookups)
	for i := 0; i < lookups; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, ok := c.Lookup(context.Background(), "0.0.849013")
			assert.True(t, ok)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "0.0.849013", r.Account)
	}
}

func TestKeyedCacheMemoizesNotFound(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context, id string) (api.Contract, error) {
		calls.Add(1)
		return api.Contract{}, fmt.Errorf("contract %s: %w", id, api.ErrNotFound)
	}
	metrics := newRecordingMetrics()
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "contracts", Metrics: metrics})

	_, ok := c.Lookup(context.Background(), "0.0.2")
	assert.False(t, ok)
	_, ok = c.Lookup(context.Background(), "0.0.2")
	assert.False(t, ok)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, metrics.outcome(LoadNotFound))
	assert.Equal(t, 1, metrics.hits)
}

func TestKeyedCacheDoesNotMemoizeFailures(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context, ts string) (api.Transaction, error) {
		if calls.Add(1) == 1 {
			return api.Transaction{}, &api.APIError{StatusCode: 503, Message: "unavailable"}
		}
		return api.Transaction{ConsensusTimestamp: ts}, nil
	}
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "transactions"})

	_, ok := c.Lookup(context.Background(), "1.000000001")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	tx, ok := c.Lookup(context.Background(), "1.000000001")
	assert.True(t, ok)
	assert.Equal(t, "1.000000001", tx.ConsensusTimestamp)
	assert.Equal(t, int32(2), calls.Load())
}

func TestKeyedCacheWaiterCancellation(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context, n int64) (api.Block, error) {
		calls.Add(1)
		<-gate
		return api.Block{Number: n}, nil
	}
	c := NewKeyedCache(fetch, KeyedOptions[int64]{Name: "blocks"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() {
		_, ok := c.Lookup(ctx, 7)
		done <- ok
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	cancel()
	assert.False(t, <-done, "cancelled waiter is released without a value")

	close(gate)
	b, ok := c.Lookup(context.Background(), 7)
	assert.True(t, ok)
	assert.Equal(t, int64(7), b.Number)
	assert.Equal(t, int32(1), calls.Load(), "the shared fetch survives the cancelled caller")
}

func TestKeyedCacheForgetRefetches(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context, id string) (int32, error) {
		return calls.Add(1), nil
	}
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "counter"})

	v, _ := c.Lookup(context.Background(), "a")
	assert.Equal(t, int32(1), v)
	peeked, ok := c.Peek("a")
	assert.True(t, ok)
	assert.Equal(t, int32(1), peeked)

	c.Forget("a")
	_, ok = c.Peek("a")
	assert.False(t, ok)

	v, _ = c.Lookup(context.Background(), "a")
	assert.Equal(t, int32(2), v)
}

func TestKeyedCacheForgetDuringFetchKeepsOneFlight(t *testing.T) {
	gate := make(chan struct{})
	var calls, inFlight, maxInFlight atomic.Int32
	fetch := func(ctx context.Context, id string) (api.Account, error) {
		calls.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		<-gate
		return api.Account{Account: id}, nil
	}
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "accounts"})

	var wg sync.WaitGroup
	lookup := func() {
		defer wg.Done()
		v, ok := c.Lookup(context.Background(), "0.0.849013")
		assert.True(t, ok)
		assert.Equal(t, "0.0.849013", v.Account)
	}
	wg.Add(1)
	go lookup()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	c.Forget("0.0.849013")
	wg.Add(1)
	go lookup()
	assert.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, tick)

	close(gate)
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int32(1), calls.Load())

	// The forgotten result was not retained.
	_, ok := c.Peek("0.0.849013")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestKeyedCacheStoreReplacesEntry(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context, id string) (int32, error) {
		return calls.Add(1), nil
	}
	backend := NewMemoryBackend()
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "counter", Backend: backend})

	v, _ := c.Lookup(context.Background(), "a")
	assert.Equal(t, int32(1), v)

	c.Store("a", 42)
	v, ok := c.Lookup(context.Background(), "a")
	assert.True(t, ok)
	assert.Equal(t, int32(42), v)
	assert.Equal(t, int32(1), calls.Load())

	data, ok := backend.Read("counter", "a")
	require.True(t, ok)
	assert.JSONEq(t, "42", string(data))
}

func TestKeyedCacheBackendReadThrough(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Write("transactions", "1.000000001", []byte(`{"consensus_timestamp":"1.000000001","name":"CRYPTOTRANSFER"}`)))

	var calls atomic.Int32
	fetch := func(ctx context.Context, ts string) (api.Transaction, error) {
		calls.Add(1)
		return api.Transaction{ConsensusTimestamp: ts, Name: "CONTRACTCALL"}, nil
	}
	metrics := newRecordingMetrics()
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "transactions", Backend: backend, Metrics: metrics})

	stored, ok := c.Lookup(context.Background(), "1.000000001")
	assert.True(t, ok)
	assert.Equal(t, "CRYPTOTRANSFER", stored.Name)
	assert.Equal(t, int32(0), calls.Load())

	fetched, ok := c.Lookup(context.Background(), "2.000000002")
	assert.True(t, ok)
	assert.Equal(t, "CONTRACTCALL", fetched.Name)
	assert.Equal(t, []string{"1.000000001", "2.000000002"}, backend.Scan("transactions"))
	assert.Equal(t, 1, metrics.outcome(LoadStored))
	assert.Equal(t, 1, metrics.outcome(LoadFetched))
}

func TestKeyedCacheNotFoundIsNotStored(t *testing.T) {
	backend := NewMemoryBackend()
	fetch := func(ctx context.Context, ts string) (api.Transaction, error) {
		return api.Transaction{}, api.ErrNotFound
	}
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "transactions", Backend: backend})

	_, ok := c.Lookup(context.Background(), "3.0")
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Writes())
}

func TestKeyedCacheLookupErrorsAreNeverReturned(t *testing.T) {
	fetch := func(ctx context.Context, id string) (string, error) {
		return "", errors.New("boom")
	}
	c := NewKeyedCache(fetch, KeyedOptions[string]{Name: "flaky"})
	v, ok := c.Lookup(context.Background(), "x")
	assert.False(t, ok)
	assert.Empty(t, v)
}
