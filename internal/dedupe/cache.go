// ABOUTME: Bounded TTL window for coalescing repeated keys
// ABOUTME: A key claimed inside the window is refused until it expires or is released

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	claimed time.Time
}

// Window remembers claimed keys for a fixed TTL. It holds at most capacity
// keys; claiming past capacity drops the oldest. Expired keys are swept on a
// timer until Close.
type Window struct {
	mu       sync.Mutex
	index    map[string]*list.Element
	order    *list.List // oldest claim at the front
	ttl      time.Duration
	capacity int
	now      func() time.Time

	stop   chan struct{}
	closed bool
}

// New creates a Window and starts its sweeper. A zero sweepEvery sweeps once
// per TTL.
func New(ttl time.Duration, capacity int, sweepEvery time.Duration) *Window {
	if sweepEvery <= 0 {
		sweepEvery = ttl
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	w := &Window{
		index:    make(map[string]*list.Element),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go w.sweepLoop(sweepEvery)
	return w
}

func (w *Window) live(e *entry, now time.Time) bool {
	return now.Sub(e.claimed) < w.ttl
}

// Claim records key and returns true, or returns false if key is already
// held. The check and the record happen under one lock.
func (w *Window) Claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if el, ok := w.index[key]; ok {
		e := el.Value.(*entry)
		if w.live(e, now) {
			return false
		}
		e.claimed = now
		w.order.MoveToBack(el)
		return true
	}

	if w.capacity > 0 && len(w.index) >= w.capacity {
		if front := w.order.Front(); front != nil {
			w.drop(front)
		}
	}
	w.index[key] = w.order.PushBack(&entry{key: key, claimed: now})
	return true
}

// Holds reports whether key is claimed and not expired.
func (w *Window) Holds(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	el, ok := w.index[key]
	return ok && w.live(el.Value.(*entry), w.now())
}

// Release forgets key so it can be claimed again immediately.
func (w *Window) Release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.index[key]; ok {
		w.drop(el)
	}
}

// Len returns the number of keys held, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}

// drop removes el. Callers hold mu.
func (w *Window) drop(el *list.Element) {
	w.order.Remove(el)
	delete(w.index, el.Value.(*entry).key)
}

func (w *Window) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stop:
			return
		}
	}
}

// sweep drops expired keys. Claims are ordered, so it stops at the first
// live one.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if w.live(el.Value.(*entry), now) {
			return
		}
		w.drop(el)
	}
}

// Close stops the sweeper. Calling it more than once is fine.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.stop)
		w.closed = true
	}
}
