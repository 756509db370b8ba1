package internal

import (
	"sync"
	"time"
)

// Clock is a monotonic time source. Durations are measured from an arbitrary origin.
type Clock interface {
	Now() time.Duration
}

// Poster runs callbacks on the host once the current synchronous execution has unwound.
type Poster interface {
	// Post runs fn as soon as possible.
	Post(fn func())

	// PostDelayed runs fn after delay. The returned function cancels it if it hasn't run yet.
	PostDelayed(fn func(), delay time.Duration) (cancel func())
}

// Host bundles the two timing capabilities the scheduler relies on.
type Host interface {
	Clock
	Poster
}

// ManualHost is a simulated host: time only moves when told to and callbacks
// only run when the host is stepped.
type ManualHost struct {
	now time.Duration

	queue  []func()
	timers []*manualTimer
	seq    int
}

type manualTimer struct {
	fn        func()
	at        time.Duration
	seq       int
	cancelled bool
}

func NewManualHost() *ManualHost {
	return &ManualHost{}
}

func (h *ManualHost) Now() time.Duration {
	return h.now
}

// Advance moves the clock forward without running anything.
func (h *ManualHost) Advance(d time.Duration) {
	h.now += d
}

func (h *ManualHost) Post(fn func()) {
	h.queue = append(h.queue, fn)
}

func (h *ManualHost) PostDelayed(fn func(), delay time.Duration) func() {
	h.seq++
	t := &manualTimer{fn: fn, at: h.now + delay, seq: h.seq}
	h.timers = append(h.timers, t)

	return func() { t.cancelled = true }
}

// Pending reports the number of posted callbacks waiting to run.
func (h *ManualHost) Pending() int {
	return len(h.queue)
}

// Step runs the oldest posted callback, if any.
func (h *ManualHost) Step() bool {
	h.fireTimers()

	if len(h.queue) == 0 {
		return false
	}

	fn := h.queue[0]
	h.queue[0] = nil
	h.queue = h.queue[1:]
	fn()

	return true
}

// RunUntilIdle runs posted callbacks until none remain. Timers fire only once due.
func (h *ManualHost) RunUntilIdle() {
	for h.Step() {
	}
}

// RunAll runs callbacks and, whenever the queue drains, jumps the clock to the next timer.
func (h *ManualHost) RunAll() {
	for {
		h.RunUntilIdle()

		next := h.nextTimer()
		if next == nil {
			return
		}
		if next.at > h.now {
			h.now = next.at
		}
	}
}

func (h *ManualHost) nextTimer() *manualTimer {
	var next *manualTimer
	for _, t := range h.timers {
		if t.cancelled {
			continue
		}
		if next == nil || t.at < next.at || (t.at == next.at && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (h *ManualHost) fireTimers() {
	for {
		next := h.nextTimer()
		if next == nil || next.at > h.now {
			break
		}
		next.cancelled = true
		h.queue = append(h.queue, next.fn)
	}

	live := h.timers[:0]
	for _, t := range h.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	h.timers = live
}

// LoopHost runs posted callbacks one at a time on a goroutine, against the wall clock.
// The goroutine only lives while callbacks are queued, so an idle host holds none.
type LoopHost struct {
	origin time.Time

	mu      sync.Mutex
	stopped *sync.Cond
	queue   []func()
	running bool
	// goroutine id of the running loop, 0 when stopped
	loopID int64
	closed bool
}

func NewLoopHost() *LoopHost {
	h := &LoopHost{origin: time.Now()}
	h.stopped = sync.NewCond(&h.mu)
	return h
}

func (h *LoopHost) Now() time.Duration {
	return time.Since(h.origin)
}

func (h *LoopHost) Post(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.queue = append(h.queue, fn)
	if !h.running {
		h.running = true
		go h.loop()
	}
}

func (h *LoopHost) PostDelayed(fn func(), delay time.Duration) func() {
	t := time.AfterFunc(delay, func() { h.Post(fn) })
	return func() { t.Stop() }
}

// Close drops pending callbacks and waits for the one currently running to return.
// Called from a callback, it returns at once and the loop stops after that callback.
func (h *LoopHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.queue = nil

	if h.loopID == currentGoroutineID() {
		return
	}
	for h.running {
		h.stopped.Wait()
	}
}

// Running reports whether the loop goroutine is alive.
func (h *LoopHost) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *LoopHost) loop() {
	h.mu.Lock()
	h.loopID = currentGoroutineID()

	for len(h.queue) > 0 && !h.closed {
		fn := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.mu.Unlock()

		fn()

		h.mu.Lock()
	}

	h.running = false
	h.loopID = 0
	h.stopped.Broadcast()
	h.mu.Unlock()
}
