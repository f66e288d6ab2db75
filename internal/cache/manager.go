package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/core"
)

// Store namespaces for entities that never change once recorded.
const (
	NamespaceTransactions   = "transactions"
	NamespaceBlocks         = "blocks"
	NamespaceBlocksByNumber = "blocks-by-number"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Backend        Backend // nil disables persistence
	Metrics        Metrics
	PollPeriod     time.Duration
	MaxUpdateCount int
	FetchTimeout   time.Duration
	Clock          Clock
	Verbose        bool
}

// Manager owns the explorer's shared lookup caches and builds pollers.
//
// # Caches
//
//   - TransactionByTs: transactions keyed by consensus timestamp (persisted)
//   - ContractByID:    contracts keyed by entity ID
//   - AccountByID:     accounts keyed by entity ID
//   - BlockByTs:       the block whose range contains a timestamp (persisted)
//   - BlockByNumber:   blocks keyed by number (persisted)
//
// Accounts and contracts change over time (balance, memo, deletion), so they
// are memoized for the life of the process but never written to the store.
type Manager struct {
	api     *api.MirrorAPI
	backend Backend
	metrics Metrics
	opts    ManagerOptions

	TransactionByTs *KeyedCache[string, api.Transaction]
	ContractByID    *KeyedCache[string, api.Contract]
	AccountByID     *KeyedCache[string, api.Account]
	BlockByTs       *KeyedCache[string, api.Block]
	BlockByNumber   *KeyedCache[int64, api.Block]
}

// NewManager creates the lookup caches over mirror.
func NewManager(mirror *api.MirrorAPI, opts ManagerOptions) *Manager {
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.PollPeriod <= 0 {
		opts.PollPeriod = core.DefaultUpdatePeriod
	}
	m := &Manager{
		api:     mirror,
		backend: opts.Backend,
		metrics: opts.Metrics,
		opts:    opts,
	}

	m.TransactionByTs = NewKeyedCache(
		func(ctx context.Context, ts string) (api.Transaction, error) {
			tx, err := mirror.TransactionByTimestamp(ctx, ts)
			if err != nil {
				return api.Transaction{}, err
			}
			return *tx, nil
		},
		KeyedOptions[string]{Name: NamespaceTransactions, Backend: opts.Backend, Metrics: opts.Metrics, Verbose: opts.Verbose},
	)
	m.ContractByID = NewKeyedCache(
		func(ctx context.Context, id string) (api.Contract, error) {
			c, err := mirror.Contract(ctx, id)
			if err != nil {
				return api.Contract{}, err
			}
			return *c, nil
		},
		KeyedOptions[string]{Name: "contracts", Metrics: opts.Metrics, Verbose: opts.Verbose},
	)
	m.AccountByID = NewKeyedCache(
		func(ctx context.Context, id string) (api.Account, error) {
			a, err := mirror.Account(ctx, id)
			if err != nil {
				return api.Account{}, err
			}
			return *a, nil
		},
		KeyedOptions[string]{Name: "accounts", Metrics: opts.Metrics, Verbose: opts.Verbose},
	)
	m.BlockByTs = NewKeyedCache(
		func(ctx context.Context, ts string) (api.Block, error) {
			b, err := mirror.BlockByTimestamp(ctx, ts)
			if err != nil {
				return api.Block{}, err
			}
			return *b, nil
		},
		KeyedOptions[string]{Name: NamespaceBlocks, Backend: opts.Backend, Metrics: opts.Metrics, Verbose: opts.Verbose},
	)
	m.BlockByNumber = NewKeyedCache(
		func(ctx context.Context, n int64) (api.Block, error) {
			b, err := mirror.BlockByNumber(ctx, strconv.FormatInt(n, 10))
			if err != nil {
				return api.Block{}, err
			}
			return *b, nil
		},
		KeyedOptions[int64]{Name: NamespaceBlocksByNumber, Backend: opts.Backend, Metrics: opts.Metrics, Verbose: opts.Verbose},
	)
	return m
}

// log writes a debug message if verbose mode is enabled.
func (m *Manager) log(msg string) {
	core.Eprint(fmt.Sprintf("[Cache] %s", msg), m.opts.Verbose)
}

func (m *Manager) pollerOptions(name string) PollerOptions {
	return PollerOptions{
		Name:           name,
		UpdatePeriod:   m.opts.PollPeriod,
		MaxUpdateCount: m.opts.MaxUpdateCount,
		FetchTimeout:   m.opts.FetchTimeout,
		Clock:          m.opts.Clock,
		Metrics:        m.metrics,
		Verbose:        m.opts.Verbose,
	}
}

// NodesPoller returns a Stopped poller over the network node list.
func (m *Manager) NodesPoller() *Poller[[]api.NetworkNode] {
	return NewPoller(func(ctx context.Context) ([]api.NetworkNode, error) {
		return m.api.NetworkNodes(ctx, 0)
	}, m.pollerOptions("nodes"))
}

// AccountPoller returns a Stopped poller over one account. Each successful
// refresh also replaces the AccountByID entry so later lookups see it
// without another request.
func (m *Manager) AccountPoller(id string) *Poller[api.Account] {
	return NewPoller(func(ctx context.Context) (api.Account, error) {
		a, err := m.api.Account(ctx, id)
		if err != nil {
			return api.Account{}, err
		}
		m.AccountByID.Store(id, *a)
		return *a, nil
	}, m.pollerOptions("account:"+id))
}

// CacheStats summarizes one lookup cache.
type CacheStats struct {
	Name     string `json:"name"`
	Resident int    `json:"resident"`
	Stored   int    `json:"stored"`
}

// Stats reports resident entries per cache and stored entries per namespace.
func (m *Manager) Stats() []CacheStats {
	stored := func(ns string) int {
		if m.backend == nil {
			return 0
		}
		return len(m.backend.Scan(ns))
	}
	return []CacheStats{
		{Name: m.TransactionByTs.Name(), Resident: m.TransactionByTs.Len(), Stored: stored(NamespaceTransactions)},
		{Name: m.ContractByID.Name(), Resident: m.ContractByID.Len()},
		{Name: m.AccountByID.Name(), Resident: m.AccountByID.Len()},
		{Name: m.BlockByTs.Name(), Resident: m.BlockByTs.Len(), Stored: stored(NamespaceBlocks)},
		{Name: m.BlockByNumber.Name(), Resident: m.BlockByNumber.Len(), Stored: stored(NamespaceBlocksByNumber)},
	}
}

// API returns the mirror client the caches fetch through.
func (m *Manager) API() *api.MirrorAPI {
	return m.api
}
