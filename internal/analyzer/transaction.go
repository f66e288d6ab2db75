// Package analyzer derives the entities associated with a transaction.
package analyzer

import (
	"context"
	"fmt"
	"sync"

	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/cache"
	"github.com/colthorp/mirror-explorer-go/internal/core"
	"github.com/colthorp/mirror-explorer-go/internal/observable"
	"golang.org/x/sync/errgroup"
)

// Lookup resolves a key to a value; ok is false when the value is unavailable.
// *cache.KeyedCache satisfies it.
type Lookup[K comparable, V any] interface {
	Lookup(ctx context.Context, key K) (V, bool)
}

// Lookups are the caches the analyzer reads through.
type Lookups struct {
	Transactions Lookup[string, api.Transaction]
	Contracts    Lookup[string, api.Contract]
	Accounts     Lookup[string, api.Account]
	Blocks       Lookup[string, api.Block]
}

// FromManager reads through the shared caches of m.
func FromManager(m *cache.Manager) Lookups {
	return Lookups{
		Transactions: m.TransactionByTs,
		Contracts:    m.ContractByID,
		Accounts:     m.AccountByID,
		Blocks:       m.BlockByTs,
	}
}

// TransactionAnalyzer follows a consensus timestamp and resolves the
// transaction there, the contract or account it targets, and the block that
// contains it. When the timestamp changes mid-analysis the older analysis is
// abandoned and never published.
type TransactionAnalyzer struct {
	lookups   Lookups
	timestamp *observable.Value[string]
	verbose   bool

	mu         sync.Mutex
	generation uint64
	current    Analysis
	unwatch    func()

	notify observable.Queue
	Value  *observable.Value[Analysis]
}

// New creates an analyzer over timestamp. An empty timestamp means nothing is
// selected.
func New(lookups Lookups, timestamp *observable.Value[string], verbose bool) *TransactionAnalyzer {
	return &TransactionAnalyzer{
		lookups:   lookups,
		timestamp: timestamp,
		verbose:   verbose,
		Value:     observable.New(Analysis{}),
	}
}

// log writes a debug message if verbose mode is enabled.
func (a *TransactionAnalyzer) log(msg string) {
	core.Eprint(fmt.Sprintf("[Analyzer] %s", msg), a.verbose)
}

// Mount starts following the timestamp, analyzing its current value at once.
// Analyses run on their own goroutines under ctx.
func (a *TransactionAnalyzer) Mount(ctx context.Context) {
	unwatch := a.timestamp.Subscribe(func(ts string) {
		gen := a.advance()
		go a.run(ctx, gen, ts)
	}, true)

	a.mu.Lock()
	prev := a.unwatch
	a.unwatch = unwatch
	a.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Unmount stops following the timestamp and clears the analysis.
func (a *TransactionAnalyzer) Unmount() {
	a.mu.Lock()
	unwatch := a.unwatch
	a.unwatch = nil
	a.generation++
	a.current = Analysis{}
	a.notify.Post(func() { a.Value.Set(Analysis{}) })
	a.mu.Unlock()
	a.notify.Drain()
	if unwatch != nil {
		unwatch()
	}
}

// Analyze runs one analysis of ts synchronously and returns it. It supersedes
// any analysis in flight.
func (a *TransactionAnalyzer) Analyze(ctx context.Context, ts string) (Analysis, error) {
	gen := a.advance()
	a.run(ctx, gen, ts)
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	return a.Snapshot(), nil
}

// Snapshot returns the latest published analysis.
func (a *TransactionAnalyzer) Snapshot() Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *TransactionAnalyzer) advance() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	return a.generation
}

// publish stores result if gen is still current and reports whether it was.
func (a *TransactionAnalyzer) publish(gen uint64, result Analysis) bool {
	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		a.log(fmt.Sprintf("Dropping superseded analysis (generation %d)", gen))
		return false
	}
	a.current = result
	a.notify.Post(func() { a.Value.Set(result) })
	a.mu.Unlock()
	a.notify.Drain()
	return true
}

func (a *TransactionAnalyzer) run(ctx context.Context, gen uint64, ts string) {
	if ts == "" {
		a.publish(gen, Analysis{})
		return
	}

	tx, ok := a.lookups.Transactions.Lookup(ctx, ts)
	if ctx.Err() != nil {
		return
	}
	if !ok {
		a.log(fmt.Sprintf("No transaction at %s", ts))
		a.publish(gen, Analysis{})
		return
	}
	// The transaction is shown before its associations resolve.
	if !a.publish(gen, Analysis{Transaction: &tx}) {
		return
	}

	result := Analysis{Transaction: &tx}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.ContractID, result.AccountID = a.resolveEntity(gctx, tx)
		return nil
	})
	if tx.ConsensusTimestamp != "" {
		g.Go(func() error {
			var number int64
			if block, ok := a.lookups.Blocks.Lookup(gctx, tx.ConsensusTimestamp); ok {
				number = block.Number
			}
			result.BlockNumber = &number
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return
	}
	a.publish(gen, result)
}

// resolveEntity classifies the transaction's entity as a contract or an
// account. Ethereum transactions may target either, so the contract lookup
// is tried first.
func (a *TransactionAnalyzer) resolveEntity(ctx context.Context, tx api.Transaction) (contractID, accountID string) {
	if tx.EntityID == nil || *tx.EntityID == "" {
		return "", ""
	}
	entityID := *tx.EntityID

	switch tx.Name {
	case TypeEthereumTransaction:
		if _, ok := a.lookups.Contracts.Lookup(ctx, entityID); ok {
			return entityID, ""
		}
		if _, ok := a.lookups.Accounts.Lookup(ctx, entityID); ok {
			return "", entityID
		}
		return "", ""
	case TypeContractCreate, TypeContractCall, TypeContractUpdate, TypeContractDelete:
		return entityID, ""
	default:
		return "", ""
	}
}
