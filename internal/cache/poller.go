package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colthorp/mirror-explorer-go/internal/core"
	"github.com/colthorp/mirror-explorer-go/internal/observable"
)

// PollingState is the lifecycle state of a Poller.
type PollingState int

const (
	Stopped     PollingState = iota // not polling; the last value is kept
	Started                         // fetching on every period
	AutoStopped                     // stopped itself after the update budget ran out
)

func (s PollingState) String() string {
	switch s {
	case Started:
		return "started"
	case AutoStopped:
		return "auto-stopped"
	default:
		return "stopped"
	}
}

// Timer is the subset of *time.Timer used by Poller.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// PollerOptions configures a Poller.
type PollerOptions struct {
	Name           string
	UpdatePeriod   time.Duration // zero fetches once per start
	MaxUpdateCount int           // zero means core.DefaultMaxUpdateCount, negative means unbounded
	FetchTimeout   time.Duration // zero means no per-fetch deadline
	Clock          Clock
	Metrics        Metrics
	Verbose        bool
}

// Poller keeps one entity fresh by refetching it every UpdatePeriod while
// Started. After MaxUpdateCount completed fetches (successful or not) it moves
// to AutoStopped. Each transition out of Started advances a generation
// counter; a fetch that completes under an older generation is discarded.
//
// The getters are authoritative. The observables mirror them and are updated
// after the poller's lock is released.
type Poller[E any] struct {
	name     string
	fetch    func(ctx context.Context) (E, error)
	period   time.Duration
	maxCount int
	timeout  time.Duration
	clock    Clock
	metrics  Metrics
	verbose  bool

	mu          sync.Mutex
	state       PollingState
	generation  uint64
	updateCount int
	entity      E
	hasEntity   bool
	lastErr     error
	timer       Timer
	cancel      context.CancelFunc

	notify      observable.Queue
	StateValue  *observable.Value[PollingState]
	EntityValue *observable.Value[E]
	ErrValue    *observable.Value[error]
}

// NewPoller creates a Stopped poller around fetch.
func NewPoller[E any](fetch func(ctx context.Context) (E, error), opts PollerOptions) *Poller[E] {
	var zero E
	p := &Poller[E]{
		name:        opts.Name,
		fetch:       fetch,
		period:      opts.UpdatePeriod,
		maxCount:    opts.MaxUpdateCount,
		timeout:     opts.FetchTimeout,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		verbose:     opts.Verbose,
		state:       Stopped,
		StateValue:  observable.NewComparable(Stopped),
		EntityValue: observable.New(zero),
		ErrValue:    observable.New[error](nil),
	}
	if p.maxCount == 0 {
		p.maxCount = core.DefaultMaxUpdateCount
	}
	if p.clock == nil {
		p.clock = realClock{}
	}
	if p.metrics == nil {
		p.metrics = NoopMetrics{}
	}
	return p
}

// log writes a debug message if verbose mode is enabled.
func (p *Poller[E]) log(msg string) {
	core.Eprint(fmt.Sprintf("[Poller:%s] %s", p.name, msg), p.verbose)
}

// Start begins polling. It is a no-op when already Started.
func (p *Poller[E]) Start() { p.SetState(Started) }

// Stop halts polling and keeps the last value.
func (p *Poller[E]) Stop() { p.SetState(Stopped) }

// SetState moves the poller to s. Entering Started from any other state
// resets the update count and fetches immediately.
func (p *Poller[E]) SetState(s PollingState) {
	p.mu.Lock()
	p.setStateLocked(s)
	p.mu.Unlock()
	p.notify.Drain()
}

// Clear drops the current value, error and update count. A Started poller
// restarts from scratch.
func (p *Poller[E]) Clear() {
	p.mu.Lock()
	wasStarted := p.state == Started
	if wasStarted {
		p.setStateLocked(Stopped)
	}
	var zero E
	p.entity, p.hasEntity = zero, false
	p.lastErr = nil
	p.updateCount = 0
	p.notify.Post(func() { p.EntityValue.Set(zero) })
	p.notify.Post(func() { p.ErrValue.Set(nil) })
	if wasStarted {
		p.setStateLocked(Started)
	}
	p.mu.Unlock()
	p.notify.Drain()
}

// State returns the current state.
func (p *Poller[E]) State() PollingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Entity returns the last successfully fetched value.
func (p *Poller[E]) Entity() (E, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entity, p.hasEntity
}

// Err returns the error of the last completed fetch, or nil.
func (p *Poller[E]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// UpdateCount returns the number of fetches completed since the last start.
func (p *Poller[E]) UpdateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateCount
}

// setStateLocked applies a transition. Caller holds p.mu.
func (p *Poller[E]) setStateLocked(s PollingState) {
	old := p.state
	if old == s {
		return
	}
	p.state = s

	if old == Started {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.generation++
	}

	p.log(fmt.Sprintf("%s -> %s", old, s))
	p.metrics.PollerState(p.name, s)
	p.notify.Post(func() { p.StateValue.Set(s) })

	if s == Started {
		p.updateCount = 0
		p.fetchLocked()
	}
}

// fetchLocked launches a fetch for the current generation. Caller holds p.mu.
func (p *Poller[E]) fetchLocked() {
	gen := p.generation
	var ctx context.Context
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), p.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	p.cancel = cancel
	go p.runFetch(ctx, cancel, gen)
}

func (p *Poller[E]) runFetch(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()
	v, err := p.fetch(ctx)

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.log(fmt.Sprintf("Dropping stale fetch (generation %d)", gen))
		return
	}
	p.cancel = nil
	p.updateCount++
	p.metrics.PollerFetch(p.name, err == nil)

	if err == nil {
		p.entity, p.hasEntity = v, true
		p.lastErr = nil
		p.notify.Post(func() { p.EntityValue.Set(v) })
		p.notify.Post(func() { p.ErrValue.Set(nil) })
	} else {
		p.log(fmt.Sprintf("Fetch %d failed: %v", p.updateCount, err))
		p.lastErr = err
		p.notify.Post(func() { p.ErrValue.Set(err) })
	}

	if p.period > 0 && (p.maxCount < 0 || p.updateCount < p.maxCount) {
		p.timer = p.clock.AfterFunc(p.period, func() { p.tick(gen) })
	} else {
		p.setStateLocked(AutoStopped)
	}
	p.mu.Unlock()
	p.notify.Drain()
}

// tick fires when the update period elapses.
func (p *Poller[E]) tick(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return
	}
	p.timer = nil
	p.fetchLocked()
}
