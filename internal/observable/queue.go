package observable

import "sync"

// Queue delivers posted updates one at a time, in the order they were posted.
//
// Components post updates while holding their own lock and call Drain after
// releasing it, so subscribers never run under a component lock and may call
// back into the component. If another goroutine is already draining, Drain
// returns at once and that goroutine delivers the new updates as well.
type Queue struct {
	mu       sync.Mutex
	pending  []func()
	draining bool
}

// Post appends fn to the queue without running it.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Drain runs queued updates until the queue is empty.
func (q *Queue) Drain() {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for len(q.pending) > 0 {
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
		q.mu.Lock()
	}
	q.draining = false
	q.mu.Unlock()
}
