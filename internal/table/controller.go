// Package table pages through cursor-ordered mirror collections.
//
// A Controller keeps a contiguous buffer of rows fetched from a Source and
// exposes a window of PageSize rows over it. Moving within the buffer is
// free; moving past either end fetches the adjacent rows. The buffer is capped
// at MaxSize rows, trimmed from the end opposite to the direction of travel.
//
// Every reload advances a generation counter. A fetch that completes after
// the counter moved on is dropped, so a slow response for an old topic never
// lands in the table of a new one.
package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/colthorp/mirror-explorer-go/internal/cache"
	"github.com/colthorp/mirror-explorer-go/internal/core"
	"github.com/colthorp/mirror-explorer-go/internal/observable"
)

// Source loads rows in display order (newest first for the mirror's
// descending collections).
//
// ok=false means the source has nothing to query (for example no topic is
// selected); the controller shows an empty table rather than an error.
type Source[Row any, Key comparable] interface {
	// LoadAfter returns up to limit rows that follow cursor in display order,
	// or the first rows when cursor is nil.
	LoadAfter(ctx context.Context, cursor *Key, limit int) ([]Row, bool, error)

	// LoadBefore returns up to limit rows that precede cursor in display
	// order, cursor included, ordered from the head of the collection.
	LoadBefore(ctx context.Context, cursor Key, limit int) ([]Row, bool, error)

	// KeyFor returns the cursor key of row.
	KeyFor(row Row) Key
}

// Config holds the paging parameters fixed at construction.
type Config struct {
	Name           string
	PageSize       int           // rows per visible page
	MaxSize        int           // retained rows; default 10 pages
	MaxLimit       int           // largest request the mirror accepts
	FetchTimeout   time.Duration // zero means no per-fetch deadline
	UpdatePeriod   time.Duration // live head refresh period
	MaxUpdateCount int           // live refreshes before auto-stop; negative is unbounded
	Clock          cache.Clock
	Verbose        bool
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = core.PageLimit
	}
	if c.MaxSize <= 0 {
		c.MaxSize = core.BufferPages * c.PageSize
	}
	if c.MaxSize < 2*c.PageSize {
		c.MaxSize = 2 * c.PageSize
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = core.MaxPageLimit
	}
	if c.UpdatePeriod <= 0 {
		c.UpdatePeriod = core.DefaultUpdatePeriod
	}
	if c.MaxUpdateCount == 0 {
		c.MaxUpdateCount = core.DefaultMaxUpdateCount
	}
}

// headResult is one live refresh of the first page, tagged with the
// generation it was fetched under.
type headResult[Row any] struct {
	generation uint64
	rows       []Row
	ok         bool
}

// Controller is a bidirectional, buffered pager over a Source.
type Controller[Row any, Key comparable] struct {
	source Source[Row, Key]
	cfg    Config

	mu          sync.Mutex
	generation  uint64
	buffer      []Row
	offset      int
	reloading   bool
	loadingNext bool
	loadingPrev bool
	endOfData   bool
	overflow    bool
	lastErr     error

	live       *cache.Poller[headResult[Row]]
	liveCancel func()

	notify    observable.Queue
	Page      *observable.Value[[]Row]
	Loading   *observable.Value[bool]
	Err       *observable.Value[error]
	EndOfData *observable.Value[bool]
	Overflow  *observable.Value[bool]
}

// NewController creates an empty controller. Call Reload to fill it.
func NewController[Row any, Key comparable](source Source[Row, Key], cfg Config) *Controller[Row, Key] {
	cfg.applyDefaults()
	return &Controller[Row, Key]{
		source:    source,
		cfg:       cfg,
		Page:      observable.New[[]Row](nil),
		Loading:   observable.NewComparable(false),
		Err:       observable.New[error](nil),
		EndOfData: observable.NewComparable(false),
		Overflow:  observable.NewComparable(false),
	}
}

// log writes a debug message if verbose mode is enabled.
func (c *Controller[Row, Key]) log(msg string) {
	core.Eprint(fmt.Sprintf("[Table:%s] %s", c.cfg.Name, msg), c.cfg.Verbose)
}

// Config returns the effective configuration.
func (c *Controller[Row, Key]) Config() Config {
	return c.cfg
}

// Reload discards every row and loads the first page.
func (c *Controller[Row, Key]) Reload(ctx context.Context) error {
	gen := c.invalidate()
	return c.loadHead(ctx, gen)
}

// WatchAndReload reloads c once now and again every time key changes. The
// returned function stops watching. Loads run on their own goroutine; a key
// change invalidates the table before Subscribe's caller regains control.
func WatchAndReload[Row any, Key comparable, T any](ctx context.Context, c *Controller[Row, Key], key *observable.Value[T]) (stop func()) {
	return key.Subscribe(func(T) {
		gen := c.invalidate()
		go func() {
			if err := c.loadHead(ctx, gen); err != nil {
				c.log(fmt.Sprintf("Reload failed: %v", err))
			}
		}()
	}, true)
}

// invalidate clears the table and starts a new generation.
func (c *Controller[Row, Key]) invalidate() uint64 {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.buffer = nil
	c.offset = 0
	c.endOfData = false
	c.overflow = false
	c.lastErr = nil
	c.reloading = true
	c.loadingNext = false
	c.loadingPrev = false
	c.publishLocked()
	c.mu.Unlock()
	c.notify.Drain()
	return gen
}

func (c *Controller[Row, Key]) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.FetchTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller[Row, Key]) loadHead(ctx context.Context, gen uint64) error {
	fctx, cancel := c.fetchContext(ctx)
	rows, ok, err := c.source.LoadAfter(fctx, nil, c.cfg.PageSize)
	cancel()

	c.mu.Lock()
	defer c.drainAfterUnlock()
	if gen != c.generation {
		c.log(fmt.Sprintf("Dropping stale reload (generation %d)", gen))
		return nil
	}
	c.reloading = false
	if err != nil {
		c.failLocked(err)
		return err
	}
	c.lastErr = nil
	if !ok {
		c.endOfData = true
	} else {
		c.buffer = c.appendUnique(nil, rows)
		c.endOfData = len(rows) < c.cfg.PageSize
	}
	c.publishLocked()
	return nil
}

// NextPage moves the window one page toward older rows, fetching them when
// the buffer runs out. Calls made while a forward fetch is in flight are
// ignored.
func (c *Controller[Row, Key]) NextPage(ctx context.Context) error {
	c.mu.Lock()
	if c.reloading || c.loadingNext {
		c.mu.Unlock()
		return nil
	}
	ps := c.cfg.PageSize
	if len(c.buffer) >= c.offset+2*ps || c.endOfData {
		if c.offset+ps < len(c.buffer) {
			c.offset += ps
			c.publishLocked()
		}
		c.mu.Unlock()
		c.notify.Drain()
		return nil
	}

	gen := c.generation
	var cursor *Key
	if n := len(c.buffer); n > 0 {
		k := c.source.KeyFor(c.buffer[n-1])
		cursor = &k
	}
	c.loadingNext = true
	c.publishLocked()
	c.mu.Unlock()
	c.notify.Drain()

	fctx, cancel := c.fetchContext(ctx)
	rows, ok, err := c.source.LoadAfter(fctx, cursor, ps)
	cancel()

	c.mu.Lock()
	defer c.drainAfterUnlock()
	if gen != c.generation {
		c.log(fmt.Sprintf("Dropping stale next page (generation %d)", gen))
		return nil
	}
	c.loadingNext = false
	if err != nil {
		c.failLocked(err)
		return err
	}
	c.lastErr = nil
	if !c.tailIsLocked(cursor) {
		// A restart or trim replaced the tail while the page was loading.
		c.log("Dropping next page; the window moved while it loaded")
		c.publishLocked()
		return nil
	}
	if !ok {
		c.endOfData = true
		c.publishLocked()
		return nil
	}

	c.buffer = c.appendUnique(c.buffer, rows)
	c.endOfData = len(rows) < ps
	if c.offset+ps < len(c.buffer) {
		c.offset += ps
	}
	if drop := len(c.buffer) - c.cfg.MaxSize; drop > 0 {
		c.buffer = append([]Row(nil), c.buffer[drop:]...)
		c.offset = max(0, c.offset-drop)
		c.overflow = true
		c.log(fmt.Sprintf("Trimmed %d rows from the head", drop))
	}
	c.publishLocked()
	return nil
}

// PreviousPage moves the window one page toward newer rows. At the top of the
// buffer it asks the source for everything newer than the first row; when the
// answer does not reach back to that row the window restarts from the answer.
func (c *Controller[Row, Key]) PreviousPage(ctx context.Context) error {
	c.mu.Lock()
	if c.reloading || c.loadingPrev {
		c.mu.Unlock()
		return nil
	}
	ps := c.cfg.PageSize
	if c.offset > 0 {
		c.offset = max(0, c.offset-ps)
		c.publishLocked()
		c.mu.Unlock()
		c.notify.Drain()
		return nil
	}
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return c.Reload(ctx)
	}

	gen := c.generation
	firstKey := c.source.KeyFor(c.buffer[0])
	c.loadingPrev = true
	c.publishLocked()
	c.mu.Unlock()
	c.notify.Drain()

	fctx, cancel := c.fetchContext(ctx)
	rows, ok, err := c.source.LoadBefore(fctx, firstKey, c.cfg.MaxLimit)
	cancel()

	c.mu.Lock()
	defer c.drainAfterUnlock()
	if gen != c.generation {
		c.log(fmt.Sprintf("Dropping stale previous page (generation %d)", gen))
		return nil
	}
	c.loadingPrev = false
	if err != nil {
		c.failLocked(err)
		return err
	}
	c.lastErr = nil
	if len(c.buffer) == 0 || c.source.KeyFor(c.buffer[0]) != firstKey {
		c.log("Dropping previous page; the window moved while it loaded")
		c.publishLocked()
		return nil
	}
	if !ok {
		c.publishLocked()
		return nil
	}

	idx := -1
	for i, r := range rows {
		if c.source.KeyFor(r) == firstKey {
			idx = i
			break
		}
	}

	if idx >= 0 {
		newer := rows[:idx]
		if len(newer) > 0 {
			c.buffer = c.appendUnique(c.appendUnique(nil, newer), c.buffer)
			c.offset = max(0, len(newer)-ps)
		}
	} else {
		c.log("Newer rows are not contiguous with the buffer; restarting window")
		c.buffer = c.appendUnique(nil, rows)
		c.offset = max(0, len(c.buffer)-ps)
	}
	// The answer reaches the head of the collection.
	c.overflow = false
	if len(c.buffer) > c.cfg.MaxSize {
		c.buffer = append([]Row(nil), c.buffer[:c.cfg.MaxSize]...)
		c.offset = min(c.offset, max(0, c.cfg.MaxSize-ps))
		c.endOfData = false
	}
	c.publishLocked()
	return nil
}

// StartLive refreshes the first page every UpdatePeriod, merging new rows
// while the window shows the head. Refreshing stops by itself after
// MaxUpdateCount refreshes.
func (c *Controller[Row, Key]) StartLive() {
	c.mu.Lock()
	live := c.liveLocked()
	c.mu.Unlock()
	live.Start()
}

// LiveStateValue is the observable state of the head refresher. Subscribe
// before StartLive to see every transition.
func (c *Controller[Row, Key]) LiveStateValue() *observable.Value[cache.PollingState] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked().StateValue
}

// liveLocked returns the head refresher, creating it Stopped on first use.
// Caller holds c.mu.
func (c *Controller[Row, Key]) liveLocked() *cache.Poller[headResult[Row]] {
	if c.live == nil {
		c.live = cache.NewPoller(c.fetchHead, cache.PollerOptions{
			Name:           c.cfg.Name,
			UpdatePeriod:   c.cfg.UpdatePeriod,
			MaxUpdateCount: c.cfg.MaxUpdateCount,
			FetchTimeout:   c.cfg.FetchTimeout,
			Clock:          c.cfg.Clock,
			Verbose:        c.cfg.Verbose,
		})
		c.liveCancel = c.live.EntityValue.Subscribe(c.mergeHead, false)
	}
	return c.live
}

// StopLive stops refreshing the head.
func (c *Controller[Row, Key]) StopLive() {
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()
	if live != nil {
		live.Stop()
	}
}

// LiveState reports the state of the head refresher.
func (c *Controller[Row, Key]) LiveState() cache.PollingState {
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()
	if live == nil {
		return cache.Stopped
	}
	return live.State()
}

// Close stops live refresh and releases its subscription.
func (c *Controller[Row, Key]) Close() {
	c.mu.Lock()
	live, cancel := c.live, c.liveCancel
	c.live, c.liveCancel = nil, nil
	c.mu.Unlock()
	if live != nil {
		live.Stop()
		cancel()
	}
}

func (c *Controller[Row, Key]) fetchHead(ctx context.Context) (headResult[Row], error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	rows, ok, err := c.source.LoadAfter(ctx, nil, c.cfg.PageSize)
	if err != nil {
		return headResult[Row]{}, err
	}
	return headResult[Row]{generation: gen, rows: rows, ok: ok}, nil
}

// mergeHead folds a live refresh into the buffer when the head is visible.
func (c *Controller[Row, Key]) mergeHead(res headResult[Row]) {
	c.mu.Lock()
	defer c.drainAfterUnlock()
	if res.generation != c.generation || !res.ok || c.reloading {
		return
	}
	if c.offset != 0 || c.overflow {
		// The user is reading older rows; leave the window alone.
		return
	}
	if len(c.buffer) == 0 {
		c.buffer = c.appendUnique(nil, res.rows)
		c.endOfData = len(res.rows) < c.cfg.PageSize
		c.publishLocked()
		return
	}

	firstKey := c.source.KeyFor(c.buffer[0])
	idx := -1
	for i, r := range res.rows {
		if c.source.KeyFor(r) == firstKey {
			idx = i
			break
		}
	}
	switch {
	case idx == 0:
		return
	case idx > 0:
		c.buffer = c.appendUnique(c.appendUnique(nil, res.rows[:idx]), c.buffer)
	default:
		c.buffer = c.appendUnique(nil, res.rows)
		c.endOfData = false
	}
	if len(c.buffer) > c.cfg.MaxSize {
		c.buffer = append([]Row(nil), c.buffer[:c.cfg.MaxSize]...)
		c.endOfData = false
	}
	c.log(fmt.Sprintf("Merged live head, %d rows buffered", len(c.buffer)))
	c.publishLocked()
}

// tailIsLocked reports whether the buffer still ends at cursor, so rows
// loaded after it extend the window without a gap. A nil cursor matches an
// empty buffer. Caller holds c.mu.
func (c *Controller[Row, Key]) tailIsLocked(cursor *Key) bool {
	n := len(c.buffer)
	if cursor == nil {
		return n == 0
	}
	return n > 0 && c.source.KeyFor(c.buffer[n-1]) == *cursor
}

// appendUnique appends rows whose keys are not already in dst.
func (c *Controller[Row, Key]) appendUnique(dst []Row, rows []Row) []Row {
	seen := make(map[Key]struct{}, len(dst)+len(rows))
	for _, r := range dst {
		seen[c.source.KeyFor(r)] = struct{}{}
	}
	for _, r := range rows {
		k := c.source.KeyFor(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		dst = append(dst, r)
	}
	return dst
}

// failLocked records err without touching the window. Caller holds c.mu.
func (c *Controller[Row, Key]) failLocked(err error) {
	if errors.Is(err, context.Canceled) {
		c.log("Fetch cancelled")
	} else {
		c.log(fmt.Sprintf("Fetch failed: %v", err))
	}
	c.lastErr = err
	c.publishLocked()
}

// publishLocked queues the current state for the observables. Caller holds c.mu.
func (c *Controller[Row, Key]) publishLocked() {
	page := c.visibleLocked()
	loading := c.reloading || c.loadingNext || c.loadingPrev
	err, end, overflow := c.lastErr, c.endOfData, c.overflow
	c.notify.Post(func() {
		c.Page.Set(page)
		c.Loading.Set(loading)
		c.Err.Set(err)
		c.EndOfData.Set(end)
		c.Overflow.Set(overflow)
	})
}

func (c *Controller[Row, Key]) drainAfterUnlock() {
	c.mu.Unlock()
	c.notify.Drain()
}

func (c *Controller[Row, Key]) visibleLocked() []Row {
	end := min(c.offset+c.cfg.PageSize, len(c.buffer))
	if c.offset >= end {
		return []Row{}
	}
	return append([]Row(nil), c.buffer[c.offset:end]...)
}

// Rows returns the visible page.
func (c *Controller[Row, Key]) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

// Buffer returns every retained row.
func (c *Controller[Row, Key]) Buffer() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Row(nil), c.buffer...)
}

// Offset returns the index of the first visible row within the buffer.
func (c *Controller[Row, Key]) Offset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// LastErr returns the error of the last failed fetch, cleared by the next
// successful one.
func (c *Controller[Row, Key]) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// AtEnd reports whether no older rows remain beyond the visible page.
func (c *Controller[Row, Key]) AtEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endOfData && c.offset+c.cfg.PageSize >= len(c.buffer)
}
