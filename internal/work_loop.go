package internal

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

const DefaultMaxPassRetries = 3

type WorkLoopOptions struct {
	Work          Work
	EventPriority EventPriorityProvider
	LaneTimeouts  LaneTimeouts

	// consecutive failed passes tolerated on a root before its lanes are dropped
	MaxPassRetries int

	Logger  *slog.Logger
	Metrics *Metrics
}

// WorkLoop decides which root to render at which lanes, drives the passes through the
// scheduler and commits them.
type WorkLoop struct {
	scheduler *Scheduler
	queues    *ConcurrentQueues
	effects   *EffectQueue
	tracker   *Tracker
	batcher   *Batcher

	work           Work
	eventPriority  EventPriorityProvider
	laneTimeouts   LaneTimeouts
	maxPassRetries int

	logger  *slog.Logger
	metrics *Metrics

	// the pass in progress, nil when idle
	session *renderSession

	// roots with a live scheduler task, in scheduling order
	scheduledRoots []*Root
}

func NewWorkLoop(scheduler *Scheduler, tracker *Tracker, batcher *Batcher, effects *EffectQueue, opts WorkLoopOptions) *WorkLoop {
	if opts.Work == nil {
		opts.Work = DefaultWork{}
	}
	if opts.EventPriority == nil {
		opts.EventPriority = defaultEventPriority{}
	}
	if opts.LaneTimeouts == (LaneTimeouts{}) {
		opts.LaneTimeouts = DefaultLaneTimeouts()
	}
	if opts.MaxPassRetries <= 0 {
		opts.MaxPassRetries = DefaultMaxPassRetries
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	return &WorkLoop{
		scheduler: scheduler,
		queues:    NewConcurrentQueues(),
		effects:   effects,
		tracker:   tracker,
		batcher:   batcher,

		work:           opts.Work,
		eventPriority:  opts.EventPriority,
		laneTimeouts:   opts.LaneTimeouts,
		maxPassRetries: opts.MaxPassRetries,

		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Queues is the scratch list of shared queues touched since the last pass started.
func (w *WorkLoop) Queues() *ConcurrentQueues {
	return w.queues
}

// IsRendering reports whether a pass is in progress, including a yielded one.
func (w *WorkLoop) IsRendering() bool {
	return w.session != nil
}

func (w *WorkLoop) wipLanesFor(root *Root) Lanes {
	if w.session != nil && w.session.root == root {
		return w.session.lanes
	}
	return NoLanes
}

// ScheduleUpdateOnFiber records an update of lane on root and makes sure a task will render it.
func (w *WorkLoop) ScheduleUpdateOnFiber(root *Root, fiber *Fiber, lane Lane, eventTime time.Duration) {
	MarkRootUpdated(root, lane, eventTime)

	if w.session != nil && w.session.root == root {
		// the pass in flight can't see this update, the commit has to leave its lane pending
		w.session.interleavedUpdatedLanes = MergeLanes(w.session.interleavedUpdatedLanes, lane)
	}

	w.EnsureRootIsScheduled(root)

	ctx := w.tracker.ExecutionContext()
	if lane == SyncLane && root.Tag == LegacyRoot && !ctx.Has(RenderContext|CommitContext) {
		w.batcher.RequestFlush(w.FlushSyncWork)
	}
}

// EnsureRootIsScheduled keeps exactly one scheduler task alive for root, at the priority of its
// next lanes. It is called after every update and at the end of every task.
func (w *WorkLoop) EnsureRootIsScheduled(root *Root) {
	now := w.scheduler.Now()
	EstablishLaneDeadlines(root, w.laneTimeouts)
	MarkStarvedLanesAsExpired(root, now)

	nextLanes := GetNextLanes(root, w.wipLanesFor(root))
	existing := root.CallbackNode

	if nextLanes == NoLanes {
		if existing != nil {
			w.scheduler.CancelTask(existing)
			w.logger.Debug("root callback cancelled", "root", root.ContainerInfo, "task", existing.ID)
		}
		root.CallbackNode = nil
		root.CallbackPriority = NoLane
		w.untrackRoot(root)
		return
	}

	newCallbackPriority := HighestPriorityLane(nextLanes)
	if existing != nil && root.CallbackPriority == newCallbackPriority {
		return
	}

	if existing != nil {
		w.scheduler.CancelTask(existing)
	}

	priority := schedulerPriorityFor(nextLanes)
	task := w.scheduler.ScheduleJob(w.performConcurrentWorkOnRoot(root), ScheduleOptions{Priority: priority})

	root.CallbackNode = task
	root.CallbackPriority = newCallbackPriority
	w.trackRoot(root)

	w.logger.Debug("root scheduled",
		"root", root.ContainerInfo,
		"lanes", nextLanes,
		"priority", priority,
		"task", task.ID,
	)
}

func (w *WorkLoop) trackRoot(root *Root) {
	if !slices.Contains(w.scheduledRoots, root) {
		w.scheduledRoots = append(w.scheduledRoots, root)
	}
}

func (w *WorkLoop) untrackRoot(root *Root) {
	w.scheduledRoots = slices.DeleteFunc(w.scheduledRoots, func(r *Root) bool { return r == root })
}

// performConcurrentWorkOnRoot is the job scheduled for root. It keeps returning itself while
// its task stays the root's callback.
func (w *WorkLoop) performConcurrentWorkOnRoot(root *Root) Job {
	var job Job
	job = func(didTimeout bool) Job {
		originalCallbackNode := root.CallbackNode

		lanes := GetNextLanes(root, w.wipLanesFor(root))
		if lanes == NoLanes {
			if root.CallbackNode == originalCallbackNode {
				root.CallbackNode = nil
				root.CallbackPriority = NoLane
				w.untrackRoot(root)
			}
			return nil
		}

		shouldTimeSlice := !IncludesBlockingLane(root, lanes) && !IncludesExpiredLane(root, lanes) && !didTimeout

		var (
			status exitStatus
			err    error
		)
		if shouldTimeSlice {
			status, err = w.renderRootConcurrent(root, lanes)
		} else {
			status, err = w.renderRootSync(root, lanes)
		}

		switch status {
		case rootCompleted:
			w.commitRoot(root)
		case rootErrored:
			w.handlePassFailure(root, lanes, err)
		}

		w.EnsureRootIsScheduled(root)
		if root.CallbackNode != nil && root.CallbackNode == originalCallbackNode {
			return job
		}
		return nil
	}

	return job
}

// PerformSyncWorkOnRoot renders and commits the SyncLane work of root without yielding.
func (w *WorkLoop) PerformSyncWorkOnRoot(root *Root) {
	lanes := GetNextLanes(root, NoLanes)
	if !IncludesSomeLane(lanes, SyncLane) {
		w.EnsureRootIsScheduled(root)
		return
	}

	status, err := w.renderRootSync(root, lanes)
	switch status {
	case rootCompleted:
		w.commitRoot(root)
	case rootErrored:
		w.handlePassFailure(root, lanes, err)
	}

	w.EnsureRootIsScheduled(root)
}

// FlushSyncWork synchronously renders every scheduled root with pending SyncLane work.
// It does nothing while a pass or a commit is running.
func (w *WorkLoop) FlushSyncWork() {
	if w.tracker.ExecutionContext().Has(RenderContext | CommitContext) {
		return
	}

	for _, root := range slices.Clone(w.scheduledRoots) {
		if IncludesSomeLane(root.PendingLanes, SyncLane) {
			w.PerformSyncWorkOnRoot(root)
		}
	}
}

func (w *WorkLoop) prepareFreshStack(root *Root, lanes Lanes, sync bool) {
	if prev := w.session; prev != nil {
		w.logger.Debug("pass discarded",
			"root", prev.root.ContainerInfo,
			"lanes", prev.lanes,
			"units", prev.units,
		)
		w.metrics.passFinished(context.Background(), "discarded", prev.sync, w.scheduler.Now()-prev.startedAt)
	}

	root.FinishedWork = nil
	root.FinishedLanes = NoLanes

	rootFiber := CreateWorkInProgress(root.Current, nil)
	w.session = &renderSession{
		root:           root,
		lanes:          lanes,
		rootFiber:      rootFiber,
		workInProgress: rootFiber,
		startedAt:      w.scheduler.Now(),
		sync:           sync,
	}

	w.queues.FinishQueueingUpdates()

	w.logger.Debug("pass started", "root", root.ContainerInfo, "lanes", lanes, "sync", sync)
}

func (w *WorkLoop) renderRootSync(root *Root, lanes Lanes) (exitStatus, error) {
	restore := w.tracker.Enter(RenderContext)
	defer restore()

	if !w.session.renders(root, lanes) {
		w.prepareFreshStack(root, lanes, true)
	}

	return w.workLoopSync()
}

func (w *WorkLoop) renderRootConcurrent(root *Root, lanes Lanes) (exitStatus, error) {
	restore := w.tracker.Enter(RenderContext)
	defer restore()

	if !w.session.renders(root, lanes) {
		w.prepareFreshStack(root, lanes, false)
	}

	return w.workLoopConcurrent()
}

func (w *WorkLoop) workLoopSync() (exitStatus, error) {
	s := w.session
	s.slices++

	for {
		step, err := w.performUnitOfWork(s)
		switch step {
		case stepComplete:
			return rootCompleted, nil
		case stepFailed:
			return rootErrored, err
		}
	}
}

func (w *WorkLoop) workLoopConcurrent() (exitStatus, error) {
	s := w.session
	s.slices++

	for {
		step, err := w.performUnitOfWork(s)
		switch step {
		case stepComplete:
			return rootCompleted, nil
		case stepFailed:
			return rootErrored, err
		}

		if w.scheduler.ShouldYieldForFrame() {
			w.logger.Debug("pass yielded",
				"root", s.root.ContainerInfo,
				"lanes", s.lanes,
				"units", s.units,
			)
			return rootInProgress, nil
		}
	}
}

// performUnitOfWork begins s.workInProgress and moves the pointer to the next fiber to begin.
func (w *WorkLoop) performUnitOfWork(s *renderSession) (stepResult, error) {
	unitOfWork := s.workInProgress
	s.units++
	w.metrics.unitOfWork(context.Background())

	next, err := w.callWork(PhaseBegin, unitOfWork, s.lanes)
	if err != nil {
		return stepFailed, err
	}

	if next != nil {
		s.workInProgress = next
		return stepContinue, nil
	}

	return w.completeUnitOfWork(s, unitOfWork)
}

// completeUnitOfWork completes fiber and its finished ancestors, stopping at the first sibling
// left to begin.
func (w *WorkLoop) completeUnitOfWork(s *renderSession, fiber *Fiber) (stepResult, error) {
	completedWork := fiber

	for completedWork != nil {
		next, err := w.callWork(PhaseComplete, completedWork, s.lanes)
		if err != nil {
			return stepFailed, err
		}
		if next != nil {
			// completing spawned new work
			s.workInProgress = next
			return stepContinue, nil
		}

		if sibling := completedWork.Sibling; sibling != nil {
			s.workInProgress = sibling
			return stepContinue, nil
		}

		completedWork = completedWork.Return
	}

	s.workInProgress = nil
	s.root.FinishedWork = s.rootFiber
	s.root.FinishedLanes = s.lanes

	return stepComplete, nil
}

// callWork runs one phase of the collaborator on wip, turning an error or a panic into a
// *UnitOfWorkError.
func (w *WorkLoop) callWork(phase WorkPhase, wip *Fiber, lanes Lanes) (next *Fiber, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = &UnitOfWorkError{Fiber: wip, Phase: phase, Cause: &PanicError{Value: r}}
		}
	}()

	if phase == PhaseBegin {
		next, err = w.work.BeginWork(wip.Alternate, wip, lanes)
	} else {
		next, err = w.work.CompleteWork(wip.Alternate, wip, lanes)
	}

	if err != nil {
		return nil, &UnitOfWorkError{Fiber: wip, Phase: phase, Cause: err}
	}
	return next, nil
}

func (w *WorkLoop) commitRoot(root *Root) {
	s := w.session
	w.session = nil

	restore := w.tracker.Enter(CommitContext)
	defer restore()

	finishedWork := root.FinishedWork
	lanes := root.FinishedLanes
	root.FinishedWork = nil

	remainingLanes := MergeLanes(RemoveLanes(root.PendingLanes, lanes), s.interleavedUpdatedLanes)
	MarkRootFinished(root, remainingLanes)

	root.Current = finishedWork
	root.failedPasses = 0

	w.logger.Debug("pass committed",
		"root", root.ContainerInfo,
		"lanes", lanes,
		"remaining", remainingLanes,
		"units", s.units,
		"slices", s.slices,
	)
	w.metrics.passFinished(context.Background(), "committed", s.sync, w.scheduler.Now()-s.startedAt)

	for _, listener := range root.commitListeners {
		w.effects.Enqueue(func() { listener(finishedWork, lanes) })
	}
}

// handlePassFailure abandons the pass in progress on root. The committed tree is left as is and
// the root is rescheduled, unless it already failed too many times in a row, in which case the
// failed lanes are dropped.
func (w *WorkLoop) handlePassFailure(root *Root, lanes Lanes, cause error) {
	s := w.session
	w.session = nil

	root.FinishedWork = nil
	root.FinishedLanes = NoLanes
	root.failedPasses++

	if root.CallbackNode != nil {
		w.scheduler.CancelTask(root.CallbackNode)
		root.CallbackNode = nil
		root.CallbackPriority = NoLane
	}

	outcome := "failed"
	err := cause
	if root.failedPasses > w.maxPassRetries {
		outcome = "abandoned"
		err = fmt.Errorf("%w (%d attempts): %w", ErrPassAbandoned, root.failedPasses, cause)

		MarkRootFinished(root, MergeLanes(RemoveLanes(root.PendingLanes, lanes), s.interleavedUpdatedLanes))
		root.failedPasses = 0
	}

	w.logger.Error("pass "+outcome,
		"root", root.ContainerInfo,
		"lanes", lanes,
		"units", s.units,
		"error", err,
	)
	w.metrics.passFinished(context.Background(), outcome, s.sync, w.scheduler.Now()-s.startedAt)

	for _, listener := range root.errorListeners {
		w.effects.Enqueue(func() { listener(err) })
	}
}
