package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/colthorp/mirror-explorer-go/internal/core"
	"golang.org/x/sync/errgroup"
)

// Prefetch resolves keys through c with at most parallel concurrent lookups
// and returns how many resolved to a value. Duplicate keys share one fetch.
// The only error reported is ctx ending before every lookup finished.
func Prefetch[K comparable, V any](ctx context.Context, c *KeyedCache[K, V], keys []K, parallel int) (int, error) {
	if parallel <= 0 {
		parallel = core.PrefetchMaxWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	var found atomic.Int64
	for _, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, ok := c.Lookup(gctx, key); ok {
				found.Add(1)
			}
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return int(found.Load()), fmt.Errorf("prefetch %s: %w", c.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return int(found.Load()), fmt.Errorf("prefetch %s: %w", c.Name(), err)
	}
	return int(found.Load()), nil
}

// WarmBlocks resolves the containing block of every timestamp so listings can
// show block numbers without a lookup per row.
func (m *Manager) WarmBlocks(ctx context.Context, timestamps []string, parallel int) map[string]int64 {
	found, err := Prefetch(ctx, m.BlockByTs, timestamps, parallel)
	if err != nil {
		m.log(fmt.Sprintf("Block prefetch interrupted: %v", err))
	}
	m.log(fmt.Sprintf("Warmed %d/%d block lookups", found, len(timestamps)))

	numbers := make(map[string]int64, len(timestamps))
	for _, ts := range timestamps {
		if b, ok := m.BlockByTs.Peek(ts); ok {
			numbers[ts] = b.Number
		}
	}
	return numbers
}
