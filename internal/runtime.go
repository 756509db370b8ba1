package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var ErrNilRoot = errors.New("fiber: nil root")

type Options struct {
	// Host runs the scheduler. A LoopHost owned by the runtime is created when nil.
	Host Host

	Work          Work
	EventPriority EventPriorityProvider

	Logger *slog.Logger
	Meter  metric.Meter

	FrameBudget      time.Duration
	PriorityTimeouts PriorityTimeouts
	LaneTimeouts     LaneTimeouts
	MaxPassRetries   int
}

// Runtime ties a scheduler and a work loop to a host. Every method may be called from any
// goroutine; a re-entrant lock serialises them with the host callbacks.
type Runtime struct {
	mu sync.Mutex
	// id of the goroutine holding mu, 0 when free
	owner atomic.Int64

	host      Host
	ownedHost *LoopHost

	scheduler *Scheduler
	workLoop  *WorkLoop
	tracker   *Tracker
	batcher   *Batcher
	effects   *EffectQueue

	logger *slog.Logger

	idleWaiters []chan struct{}
}

func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	metrics, err := NewMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("create runtime metrics: %w", err)
	}

	r := &Runtime{
		tracker: NewTracker(),
		batcher: NewBatcher(),
		effects: NewEffectQueue(),
		logger:  opts.Logger,
	}

	r.host = opts.Host
	if r.host == nil {
		r.ownedHost = NewLoopHost()
		r.host = r.ownedHost
	}

	r.scheduler = NewScheduler(r.host, lockedPoster{runtime: r, poster: r.host}, SchedulerOptions{
		FrameBudget: opts.FrameBudget,
		Timeouts:    opts.PriorityTimeouts,
		Logger:      opts.Logger,
		Metrics:     metrics,
		OnIdle:      r.releaseIdleWaiters,
	})

	r.workLoop = NewWorkLoop(r.scheduler, r.tracker, r.batcher, r.effects, WorkLoopOptions{
		Work:           opts.Work,
		EventPriority:  opts.EventPriority,
		LaneTimeouts:   opts.LaneTimeouts,
		MaxPassRetries: opts.MaxPassRetries,
		Logger:         opts.Logger,
		Metrics:        metrics,
	})

	return r, nil
}

// Run calls fn while holding the runtime lock. Calls nested on the same goroutine don't lock
// again. Commit and error listeners queued by fn run once the outermost call released the lock.
func (r *Runtime) Run(fn func()) {
	gid := currentGoroutineID()
	if r.owner.Load() == gid {
		fn()
		return
	}

	effects := r.locked(gid, fn)
	for _, effect := range effects {
		effect()
	}
}

func (r *Runtime) locked(gid int64, fn func()) []func() {
	r.mu.Lock()
	r.owner.Store(gid)
	defer func() {
		r.owner.Store(0)
		r.mu.Unlock()
	}()

	fn()

	return r.effects.Take()
}

// lockedPoster makes every host callback of the scheduler run under the runtime lock.
type lockedPoster struct {
	runtime *Runtime
	poster  Poster
}

func (p lockedPoster) Post(fn func()) {
	p.poster.Post(func() { p.runtime.Run(fn) })
}

func (p lockedPoster) PostDelayed(fn func(), delay time.Duration) func() {
	return p.poster.PostDelayed(func() { p.runtime.Run(fn) }, delay)
}

func (r *Runtime) Host() Host {
	return r.host
}

func (r *Runtime) Scheduler() *Scheduler {
	return r.scheduler
}

func (r *Runtime) WorkLoop() *WorkLoop {
	return r.workLoop
}

func (r *Runtime) Now() time.Duration {
	return r.host.Now()
}

func (r *Runtime) CreateRoot(containerInfo any, tag RootTag) *Root {
	var root *Root
	r.Run(func() {
		root = CreateFiberRoot(containerInfo, tag)
	})

	r.logger.Debug("root created", "root", containerInfo, "tag", tag)
	return root
}

func (r *Runtime) UpdateContainer(element any, root *Root) (Lane, error) {
	if root == nil {
		return NoLane, ErrNilRoot
	}

	var lane Lane
	r.Run(func() {
		lane = r.workLoop.UpdateContainer(element, root)
	})

	return lane, nil
}

func (r *Runtime) DispatchUpdate(fiber *Fiber, tag UpdateTag, payload any) Lane {
	var lane Lane
	r.Run(func() {
		lane = r.workLoop.DispatchUpdate(fiber, tag, payload)
	})

	return lane
}

// WithPriority runs fn with p as the lane of the updates it requests.
func (r *Runtime) WithPriority(p EventPriority, fn func()) {
	r.Run(func() {
		r.tracker.RunWithPriority(p, fn)
	})
}

func (r *Runtime) CurrentUpdatePriority() EventPriority {
	var p EventPriority
	r.Run(func() {
		p = r.tracker.CurrentUpdatePriority()
	})

	return p
}

// Batch runs fn and flushes the synchronous work it scheduled once, when the outermost batch
// returns.
func (r *Runtime) Batch(fn func()) {
	r.Run(func() {
		r.batcher.Batch(func() {
			r.tracker.RunWithContext(BatchedContext, fn)
		}, r.workLoop.FlushSyncWork)
	})
}

// FlushSync runs fn at discrete priority, then renders and commits all SyncLane work before
// returning. Inside a batch the flush happens when the batch ends.
func (r *Runtime) FlushSync(fn func()) {
	r.Run(func() {
		if fn != nil {
			r.tracker.RunWithPriority(DiscreteEventPriority, fn)
		}
		r.batcher.RequestFlush(r.workLoop.FlushSyncWork)
	})
}

// WaitIdle blocks until the scheduler has no work left or ctx is done.
// The host keeps running callbacks while it waits; a ManualHost must be stepped by someone else.
func (r *Runtime) WaitIdle(ctx context.Context) error {
	var wait chan struct{}
	r.Run(func() {
		if r.scheduler.Idle() {
			return
		}
		wait = make(chan struct{})
		r.idleWaiters = append(r.idleWaiters, wait)
	})

	if wait == nil {
		return nil
	}

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) releaseIdleWaiters() {
	for _, wait := range r.idleWaiters {
		close(wait)
	}
	r.idleWaiters = nil
}

// Close stops the host the runtime created for itself, if any.
func (r *Runtime) Close() {
	if r.ownedHost != nil {
		r.ownedHost.Close()
	}
}
