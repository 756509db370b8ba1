package internal

import (
	"context"
	"log/slog"
	"time"
)

type Priority int

const (
	NoPriority Priority = iota
	ImmediatePriority
	UserBlockingPriority
	NormalPriority
	LowPriority
	IdlePriority
)

func (p Priority) String() string {
	switch p {
	case ImmediatePriority:
		return "immediate"
	case UserBlockingPriority:
		return "user-blocking"
	case NormalPriority:
		return "normal"
	case LowPriority:
		return "low"
	case IdlePriority:
		return "idle"
	default:
		return "none"
	}
}

// PriorityTimeouts is how long a task of each priority may wait before it counts as overdue.
type PriorityTimeouts struct {
	Immediate    time.Duration
	UserBlocking time.Duration
	Normal       time.Duration
	Low          time.Duration
	Idle         time.Duration
}

func DefaultPriorityTimeouts() PriorityTimeouts {
	return PriorityTimeouts{
		Immediate:    -1 * time.Millisecond,
		UserBlocking: 250 * time.Millisecond,
		Normal:       5 * time.Second,
		Low:          10 * time.Second,
		Idle:         (1<<30 - 1) * time.Millisecond,
	}
}

func (t PriorityTimeouts) For(p Priority) time.Duration {
	switch p {
	case ImmediatePriority:
		return t.Immediate
	case UserBlockingPriority:
		return t.UserBlocking
	case IdlePriority:
		return t.Idle
	case LowPriority:
		return t.Low
	default:
		return t.Normal
	}
}

const DefaultFrameBudget = 5 * time.Millisecond

// Job is a unit of schedulable work. Returning a non-nil Job asks the scheduler to call it
// again later under the same task.
type Job func(didTimeout bool) Job

type Task struct {
	ID             uint64
	Priority       Priority
	StartTime      time.Duration
	ExpirationTime time.Duration
	SortIndex      time.Duration

	job       Job
	cancelled bool
}

// Cancelled reports whether CancelTask was called on the task.
// A task whose job is running or has finished is not cancelled.
func (t *Task) Cancelled() bool {
	return t.cancelled
}

type ScheduleOptions struct {
	Priority Priority
	Delay    time.Duration
}

type SchedulerOptions struct {
	FrameBudget time.Duration
	Timeouts    PriorityTimeouts

	Logger  *slog.Logger
	Metrics *Metrics

	// OnIdle is called when the scheduler runs out of ready and delayed work.
	OnIdle func()
}

// Scheduler runs jobs cooperatively on a host, most urgent first, giving control back to the
// host whenever a frame budget is exhausted.
type Scheduler struct {
	clock  Clock
	poster Poster

	frameBudget time.Duration
	timeouts    PriorityTimeouts

	logger  *slog.Logger
	metrics *Metrics
	onIdle  func()

	// ready tasks, keyed by expiration time
	taskHeap *TaskHeap
	// delayed tasks, keyed by start time
	timerHeap *TaskHeap

	taskIDCounter uint64

	isHostCallbackScheduled bool
	isHostTimeoutScheduled  bool
	cancelHostTimeoutFn     func()
	isPerformingWork        bool

	// start of the slice currently being performed
	performWorkStartTime time.Duration
	currentPriority      Priority
}

func NewScheduler(clock Clock, poster Poster, opts SchedulerOptions) *Scheduler {
	if opts.FrameBudget <= 0 {
		opts.FrameBudget = DefaultFrameBudget
	}
	if opts.Timeouts == (PriorityTimeouts{}) {
		opts.Timeouts = DefaultPriorityTimeouts()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	return &Scheduler{
		clock:  clock,
		poster: poster,

		frameBudget: opts.FrameBudget,
		timeouts:    opts.Timeouts,

		logger:  opts.Logger,
		metrics: opts.Metrics,
		onIdle:  opts.OnIdle,

		taskHeap:  NewTaskHeap(),
		timerHeap: NewTaskHeap(),

		taskIDCounter:        1,
		performWorkStartTime: -1,
		currentPriority:      NormalPriority,
	}
}

func (s *Scheduler) Now() time.Duration {
	return s.clock.Now()
}

// CurrentPriority is the priority of the task being run, or NormalPriority outside of one.
func (s *Scheduler) CurrentPriority() Priority {
	return s.currentPriority
}

// Idle reports whether there is no ready task and no delayed task left.
func (s *Scheduler) Idle() bool {
	return s.taskHeap.Peek() == nil && s.timerHeap.Peek() == nil && !s.isPerformingWork
}

func (s *Scheduler) ScheduleJob(job Job, opts ScheduleOptions) *Task {
	currentTime := s.Now()

	startTime := currentTime
	if opts.Delay > 0 {
		startTime += opts.Delay
	}

	priority := opts.Priority
	if priority == NoPriority {
		priority = NormalPriority
	}

	task := &Task{
		ID:             s.taskIDCounter,
		Priority:       priority,
		StartTime:      startTime,
		ExpirationTime: startTime + s.timeouts.For(priority),
		SortIndex:      -1,
		job:            job,
	}
	s.taskIDCounter++

	s.metrics.taskScheduled(context.Background(), priority)

	if startTime > currentTime {
		task.SortIndex = startTime
		s.timerHeap.Push(task)

		if s.taskHeap.Peek() == nil && task == s.timerHeap.Peek() {
			if s.isHostTimeoutScheduled {
				s.cancelHostTimeout()
			} else {
				s.isHostTimeoutScheduled = true
			}
			s.requestHostTimeout(startTime - currentTime)
		}

		return task
	}

	task.SortIndex = task.ExpirationTime
	s.taskHeap.Push(task)

	if !s.isHostCallbackScheduled && !s.isPerformingWork {
		s.isHostCallbackScheduled = true
		s.requestHostCallback()
	}

	return task
}

// CancelTask marks the task as cancelled. It stays in its heap until it is popped.
func (s *Scheduler) CancelTask(task *Task) {
	if task == nil {
		return
	}
	task.cancelled = true
	task.job = nil
}

// ShouldYieldForFrame reports whether the current slice has used up its frame budget.
func (s *Scheduler) ShouldYieldForFrame() bool {
	return s.Now()-s.performWorkStartTime > s.frameBudget
}

func (s *Scheduler) requestHostCallback() {
	s.poster.Post(s.performWorkUntilDeadline)
}

func (s *Scheduler) requestHostTimeout(delay time.Duration) {
	s.cancelHostTimeoutFn = s.poster.PostDelayed(s.handleTimerTaskTimeout, delay)
}

func (s *Scheduler) cancelHostTimeout() {
	if s.cancelHostTimeoutFn != nil {
		s.cancelHostTimeoutFn()
		s.cancelHostTimeoutFn = nil
	}
}

func (s *Scheduler) performWorkUntilDeadline() {
	currentTime := s.Now()
	s.performWorkStartTime = currentTime

	hasMoreWork := true
	defer func() {
		if hasMoreWork {
			s.requestHostCallback()
			return
		}
		if s.Idle() && s.onIdle != nil {
			s.onIdle()
		}
	}()

	hasMoreWork = s.flushWork(true, currentTime)
}

func (s *Scheduler) flushWork(hasTimeRemaining bool, initialTime time.Duration) bool {
	s.isHostCallbackScheduled = false
	if s.isHostTimeoutScheduled {
		s.isHostTimeoutScheduled = false
		s.cancelHostTimeout()
	}

	s.isPerformingWork = true
	previousPriority := s.currentPriority
	defer func() {
		s.currentPriority = previousPriority
		s.isPerformingWork = false
	}()

	return s.workLoop(hasTimeRemaining, initialTime)
}

func (s *Scheduler) workLoop(hasTimeRemaining bool, initialTime time.Duration) bool {
	currentTime := initialTime
	s.advanceTimers(currentTime)

	currentTask := s.taskHeap.Peek()
	for currentTask != nil {
		if currentTask.ExpirationTime > currentTime && (!hasTimeRemaining || s.ShouldYieldForFrame()) {
			// not overdue and out of time: leave it at the head for the next slice
			s.metrics.yielded(context.Background())
			break
		}

		job := currentTask.job
		if job == nil {
			s.taskHeap.Pop()
			s.metrics.taskDropped(context.Background())
		} else {
			s.currentPriority = currentTask.Priority
			currentTask.job = nil

			didTimeout := currentTask.ExpirationTime <= currentTime
			continuation := job(didTimeout)
			currentTime = s.Now()

			s.metrics.taskRun(context.Background(), currentTask.Priority)

			if continuation != nil && !currentTask.cancelled {
				currentTask.job = continuation
			} else if currentTask == s.taskHeap.Peek() {
				s.taskHeap.Pop()
			}

			s.advanceTimers(currentTime)
		}

		currentTask = s.taskHeap.Peek()
	}

	if currentTask != nil {
		return true
	}

	if firstTimer := s.timerHeap.Peek(); firstTimer != nil && !s.isHostTimeoutScheduled {
		s.isHostTimeoutScheduled = true
		s.requestHostTimeout(firstTimer.StartTime - currentTime)
	}

	return false
}

func (s *Scheduler) handleTimerTaskTimeout() {
	s.isHostTimeoutScheduled = false
	s.cancelHostTimeoutFn = nil

	currentTime := s.Now()
	s.advanceTimers(currentTime)

	if s.isHostCallbackScheduled {
		return
	}

	if s.taskHeap.Peek() != nil {
		s.isHostCallbackScheduled = true
		s.requestHostCallback()
		return
	}

	if firstTimer := s.timerHeap.Peek(); firstTimer != nil {
		s.isHostTimeoutScheduled = true
		s.requestHostTimeout(firstTimer.StartTime - currentTime)
		return
	}

	if s.onIdle != nil {
		s.onIdle()
	}
}

// advanceTimers moves every delayed task whose start time has come into the ready heap.
func (s *Scheduler) advanceTimers(currentTime time.Duration) {
	timer := s.timerHeap.Peek()
	for timer != nil {
		switch {
		case timer.job == nil:
			s.timerHeap.Pop()
			s.metrics.taskDropped(context.Background())
		case timer.StartTime <= currentTime:
			s.timerHeap.Pop()
			timer.SortIndex = timer.ExpirationTime
			s.taskHeap.Push(timer)
			s.logger.Debug("timer task ready", "task", timer.ID, "priority", timer.Priority)
		default:
			return
		}

		timer = s.timerHeap.Peek()
	}
}
