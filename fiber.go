package fiber

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/AnatoleLucet/fiber/config"
	"github.com/AnatoleLucet/fiber/internal"
)

type (
	Lane          = internal.Lane
	Lanes         = internal.Lanes
	EventPriority = internal.EventPriority
	Priority      = internal.Priority

	Fiber         = internal.Fiber
	WorkTag       = internal.WorkTag
	HostRootState = internal.HostRootState
	StateUpdater  = internal.StateUpdater

	Work                  = internal.Work
	DefaultWork           = internal.DefaultWork
	EventPriorityProvider = internal.EventPriorityProvider
	EventPriorityFunc     = internal.EventPriorityFunc

	UnitOfWorkError = internal.UnitOfWorkError
	PanicError      = internal.PanicError

	Host       = internal.Host
	ManualHost = internal.ManualHost
	LoopHost   = internal.LoopHost

	PriorityTimeouts = internal.PriorityTimeouts
	LaneTimeouts     = internal.LaneTimeouts
)

const (
	NoLane              = internal.NoLane
	SyncLane            = internal.SyncLane
	InputContinuousLane = internal.InputContinuousLane
	DefaultLane         = internal.DefaultLane
	IdleLane            = internal.IdleLane
	OffscreenLane       = internal.OffscreenLane

	DiscreteEventPriority   = internal.DiscreteEventPriority
	ContinuousEventPriority = internal.ContinuousEventPriority
	DefaultEventPriority    = internal.DefaultEventPriority
	IdleEventPriority       = internal.IdleEventPriority
)

var (
	ErrPassAbandoned = internal.ErrPassAbandoned
	ErrNilRoot       = internal.ErrNilRoot
)

// NewManualHost creates a host whose clock only moves when advanced and whose callbacks only
// run when it is stepped. Useful to drive a runtime deterministically.
func NewManualHost() *ManualHost { return internal.NewManualHost() }

// NewLoopHost creates a host running callbacks on its own goroutine against the wall clock.
func NewLoopHost() *LoopHost { return internal.NewLoopHost() }

type Option func(*internal.Options)

func WithHost(h Host) Option {
	return func(o *internal.Options) { o.Host = h }
}

// WithWork replaces the begin/complete logic run on every fiber of a pass.
func WithWork(w Work) Option {
	return func(o *internal.Options) { o.Work = w }
}

// WithEventPriority sets where the lane of updates requested without an explicit priority comes from.
func WithEventPriority(p EventPriorityProvider) Option {
	return func(o *internal.Options) { o.EventPriority = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *internal.Options) { o.Logger = l }
}

func WithMeter(m metric.Meter) Option {
	return func(o *internal.Options) { o.Meter = m }
}

func WithFrameBudget(d time.Duration) Option {
	return func(o *internal.Options) { o.FrameBudget = d }
}

func WithPriorityTimeouts(t PriorityTimeouts) Option {
	return func(o *internal.Options) { o.PriorityTimeouts = t }
}

func WithLaneTimeouts(t LaneTimeouts) Option {
	return func(o *internal.Options) { o.LaneTimeouts = t }
}

func WithMaxPassRetries(n int) Option {
	return func(o *internal.Options) { o.MaxPassRetries = n }
}

// Runtime schedules and renders the roots created from it.
type Runtime struct {
	runtime *internal.Runtime
}

// NewRuntime creates a runtime. Without WithHost it runs on its own LoopHost, stopped by Close.
func NewRuntime(opts ...Option) (*Runtime, error) {
	var o internal.Options
	for _, opt := range opts {
		opt(&o)
	}

	r, err := internal.NewRuntime(o)
	if err != nil {
		return nil, err
	}
	return &Runtime{r}, nil
}

// NewRuntimeFromConfig creates a runtime tuned by cfg. opts are applied after it and win.
func NewRuntimeFromConfig(cfg *config.Config, opts ...Option) (*Runtime, error) {
	fromConfig := func(o *internal.Options) {
		o.FrameBudget = cfg.Scheduler.FrameBudget
		o.PriorityTimeouts = PriorityTimeouts{
			Immediate:    cfg.Scheduler.Timeouts.Immediate,
			UserBlocking: cfg.Scheduler.Timeouts.UserBlocking,
			Normal:       cfg.Scheduler.Timeouts.Normal,
			Low:          cfg.Scheduler.Timeouts.Low,
			Idle:         cfg.Scheduler.Timeouts.Idle,
		}
		o.LaneTimeouts = LaneTimeouts{
			Sync:       cfg.Lanes.SyncTimeout,
			Continuous: cfg.Lanes.ContinuousTimeout,
			Default:    cfg.Lanes.DefaultTimeout,
		}
		o.MaxPassRetries = cfg.WorkLoop.MaxPassRetries
	}

	return NewRuntime(append([]Option{fromConfig}, opts...)...)
}

// Default returns the runtime of the calling goroutine used by the package level functions.
func Default() *Runtime {
	return &Runtime{internal.GetRuntime()}
}

// CreateRoot creates a concurrent root: its default updates are rendered in time slices.
func (r *Runtime) CreateRoot(container any) *Root {
	return &Root{r.runtime, r.runtime.CreateRoot(container, internal.ConcurrentRoot)}
}

// CreateLegacyRoot creates a root whose updates are all synchronous.
func (r *Runtime) CreateLegacyRoot(container any) *Root {
	return &Root{r.runtime, r.runtime.CreateRoot(container, internal.LegacyRoot)}
}

// WithPriority runs fn with every update it requests at priority p.
func (r *Runtime) WithPriority(p EventPriority, fn func()) {
	r.runtime.WithPriority(p, fn)
}

// FlushSync runs fn at discrete priority and commits the resulting work before returning.
func (r *Runtime) FlushSync(fn func()) {
	r.runtime.FlushSync(fn)
}

// Batch groups the synchronous updates made in fn into a single flush.
func (r *Runtime) Batch(fn func()) {
	r.runtime.Batch(fn)
}

// WaitIdle blocks until all scheduled work is done or ctx is done.
func (r *Runtime) WaitIdle(ctx context.Context) error {
	return r.runtime.WaitIdle(ctx)
}

// SetState enqueues an update shallow-merging payload into the state of fiber, or calling it
// when it is a StateUpdater.
func (r *Runtime) SetState(f *Fiber, payload any) Lane {
	return r.runtime.DispatchUpdate(f, internal.UpdateState, payload)
}

// ReplaceState enqueues an update replacing the state of fiber with payload.
func (r *Runtime) ReplaceState(f *Fiber, payload any) Lane {
	return r.runtime.DispatchUpdate(f, internal.ReplaceState, payload)
}

func (r *Runtime) Now() time.Duration {
	return r.runtime.Now()
}

func (r *Runtime) Close() {
	r.runtime.Close()
}

// Root is a mounted tree.
type Root struct {
	runtime *internal.Runtime
	root    *internal.Root
}

// Render schedules the rendering of element and returns the lane it was given.
func (r *Root) Render(element any) Lane {
	// the only error is ErrNilRoot and r.root is set by CreateRoot
	lane, _ := r.runtime.UpdateContainer(element, r.root)
	return lane
}

// Unmount schedules the rendering of nothing.
func (r *Root) Unmount() Lane {
	return r.Render(nil)
}

// OnCommit registers fn to be called after every commit with the new current tree.
func (r *Root) OnCommit(fn func(current *Fiber, lanes Lanes)) {
	r.runtime.Run(func() { r.root.OnCommit(fn) })
}

// OnError registers fn to be called with every failed pass.
// Errors wrap *UnitOfWorkError, and ErrPassAbandoned once the root gave up on the lanes.
func (r *Root) OnError(fn func(error)) {
	r.runtime.Run(func() { r.root.OnError(fn) })
}

// State returns the last committed element.
func (r *Root) State() any {
	var element any
	r.runtime.Run(func() {
		if state := r.root.State(); state != nil {
			element = state.Element
		}
	})
	return element
}

// Current returns the HostRoot fiber of the committed tree.
func (r *Root) Current() *Fiber {
	var current *Fiber
	r.runtime.Run(func() { current = r.root.Current })
	return current
}

// PendingLanes returns the lanes with updates not committed yet.
func (r *Root) PendingLanes() Lanes {
	var lanes Lanes
	r.runtime.Run(func() { lanes = r.root.PendingLanes })
	return lanes
}

// CreateRoot creates a concurrent root on the default runtime of the calling goroutine.
func CreateRoot(container any) *Root {
	return Default().CreateRoot(container)
}

// CreateLegacyRoot creates a synchronous root on the default runtime of the calling goroutine.
func CreateLegacyRoot(container any) *Root {
	return Default().CreateLegacyRoot(container)
}

func WithPriority(p EventPriority, fn func()) {
	Default().WithPriority(p, fn)
}

func FlushSync(fn func()) {
	Default().FlushSync(fn)
}

func Batch(fn func()) {
	Default().Batch(fn)
}

func WaitIdle(ctx context.Context) error {
	return Default().WaitIdle(ctx)
}

const (
	FunctionComponent = internal.FunctionComponent
	HostRoot          = internal.HostRoot
	HostComponent     = internal.HostComponent
	HostText          = internal.HostText
	Fragment          = internal.Fragment
)

// NewFiber creates a detached fiber. A non-nil state gives it an update queue, so SetState and
// ReplaceState can target it once it is mounted.
func NewFiber(tag WorkTag, key string, props, state any) *Fiber {
	f := internal.NewFiber(tag, props, key, internal.NoMode)
	f.MemoizedProps = props
	if state != nil {
		f.MemoizedState = state
		internal.InitializeUpdateQueue(f)
	}
	return f
}

// Mount calls build with the committed HostRoot fiber while holding the runtime lock, so
// children can be attached to the tree with Fiber.AppendChild.
func (r *Root) Mount(build func(hostRoot *Fiber)) {
	r.runtime.Run(func() { build(r.root.Current) })
}
