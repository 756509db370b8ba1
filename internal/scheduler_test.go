package internal

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(opts SchedulerOptions) (*Scheduler, *ManualHost) {
	host := NewManualHost()
	return NewScheduler(host, host, opts), host
}

func record(log *[]string, name string) Job {
	return func(bool) Job {
		*log = append(*log, name)
		return nil
	}
}

func TestScheduler(t *testing.T) {
	t.Run("runs ready tasks by expiration time", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{})

		s.ScheduleJob(record(&log, "low"), ScheduleOptions{Priority: LowPriority})
		s.ScheduleJob(record(&log, "immediate"), ScheduleOptions{Priority: ImmediatePriority})
		s.ScheduleJob(record(&log, "normal"), ScheduleOptions{Priority: NormalPriority})
		s.ScheduleJob(record(&log, "user-blocking"), ScheduleOptions{Priority: UserBlockingPriority})

		host.RunUntilIdle()

		assert.Equal(t, []string{"immediate", "user-blocking", "normal", "low"}, log)
		assert.True(t, s.Idle())
	})

	t.Run("same priority runs in arrival order", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{})

		for i := range 3 {
			s.ScheduleJob(record(&log, fmt.Sprint(i)), ScheduleOptions{})
		}
		host.RunUntilIdle()

		assert.Equal(t, []string{"0", "1", "2"}, log)
	})

	t.Run("posts a single host callback for many tasks", func(t *testing.T) {
		s, host := newTestScheduler(SchedulerOptions{})

		s.ScheduleJob(func(bool) Job { return nil }, ScheduleOptions{})
		s.ScheduleJob(func(bool) Job { return nil }, ScheduleOptions{})

		assert.Equal(t, 1, host.Pending())
	})

	t.Run("cancelled tasks are skipped", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{})

		s.ScheduleJob(record(&log, "a"), ScheduleOptions{})
		b := s.ScheduleJob(record(&log, "b"), ScheduleOptions{})
		s.ScheduleJob(record(&log, "c"), ScheduleOptions{})

		s.CancelTask(b)
		assert.True(t, b.Cancelled())

		host.RunUntilIdle()

		assert.Equal(t, []string{"a", "c"}, log)
		assert.True(t, s.Idle())
	})

	t.Run("a running or finished task is not cancelled", func(t *testing.T) {
		s, host := newTestScheduler(SchedulerOptions{})

		var task *Task
		var whileRunning bool
		task = s.ScheduleJob(func(bool) Job {
			whileRunning = task.Cancelled()
			return nil
		}, ScheduleOptions{})

		host.RunUntilIdle()

		assert.False(t, whileRunning)
		assert.False(t, task.Cancelled())
	})

	t.Run("a task cancelled while running drops its continuation", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{})

		var task *Task
		task = s.ScheduleJob(func(bool) Job {
			log = append(log, "run")
			s.CancelTask(task)
			return record(&log, "continuation")
		}, ScheduleOptions{})

		host.RunUntilIdle()

		assert.Equal(t, []string{"run"}, log)
		assert.True(t, task.Cancelled())
		assert.True(t, s.Idle())
	})

	t.Run("a continuation keeps the same task", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{})

		var task *Task
		calls := 0
		var job Job
		job = func(bool) Job {
			calls++
			log = append(log, fmt.Sprintf("call %d", calls))
			assert.Equal(t, 1, s.taskHeap.Len())
			assert.Same(t, task, s.taskHeap.Peek())

			if calls < 3 {
				return job
			}
			return nil
		}
		task = s.ScheduleJob(job, ScheduleOptions{})

		host.RunUntilIdle()

		assert.Equal(t, []string{"call 1", "call 2", "call 3"}, log)
		assert.Equal(t, 0, s.taskHeap.Len())
	})

	t.Run("yields when the frame budget is used up", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{FrameBudget: 5 * time.Millisecond})

		for i := range 4 {
			s.ScheduleJob(func(bool) Job {
				log = append(log, fmt.Sprintf("task %d", i))
				host.Advance(3 * time.Millisecond)
				return nil
			}, ScheduleOptions{})
		}

		require.True(t, host.Step())
		assert.Equal(t, []string{"task 0", "task 1"}, log)
		assert.Equal(t, 1, host.Pending(), "the scheduler posts itself again")

		host.RunUntilIdle()
		assert.Equal(t, []string{"task 0", "task 1", "task 2", "task 3"}, log)
	})

	t.Run("overdue tasks run regardless of the frame budget", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{FrameBudget: time.Millisecond})

		var didTimeout []bool
		for i := range 3 {
			s.ScheduleJob(func(timedOut bool) Job {
				log = append(log, fmt.Sprintf("task %d", i))
				didTimeout = append(didTimeout, timedOut)
				host.Advance(10 * time.Millisecond)
				return nil
			}, ScheduleOptions{Priority: ImmediatePriority})
		}

		require.True(t, host.Step())
		assert.Equal(t, []string{"task 0", "task 1", "task 2"}, log)
		assert.Equal(t, []bool{true, true, true}, didTimeout)
	})

	t.Run("delayed tasks wait for their start time", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{})

		s.ScheduleJob(record(&log, "late"), ScheduleOptions{Delay: 100 * time.Millisecond})
		s.ScheduleJob(record(&log, "early"), ScheduleOptions{Delay: 10 * time.Millisecond})
		s.ScheduleJob(record(&log, "now"), ScheduleOptions{})

		host.RunUntilIdle()
		assert.Equal(t, []string{"now"}, log)
		assert.False(t, s.Idle())

		host.Advance(10 * time.Millisecond)
		host.RunUntilIdle()
		assert.Equal(t, []string{"now", "early"}, log)

		host.RunAll()
		assert.Equal(t, []string{"now", "early", "late"}, log)
		assert.Equal(t, 100*time.Millisecond, host.Now())
		assert.True(t, s.Idle())
	})

	t.Run("cancelled timers are dropped", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{})

		task := s.ScheduleJob(record(&log, "timer"), ScheduleOptions{Delay: 10 * time.Millisecond})
		s.CancelTask(task)

		host.RunAll()

		assert.Empty(t, log)
		assert.True(t, s.Idle())
	})

	t.Run("on idle fires when the work runs out", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{
			OnIdle: func() { log = append(log, "idle") },
		})

		s.ScheduleJob(record(&log, "a"), ScheduleOptions{})
		s.ScheduleJob(record(&log, "b"), ScheduleOptions{Delay: time.Millisecond})

		host.RunAll()

		assert.Equal(t, []string{"a", "b", "idle"}, log)
	})

	t.Run("current priority is the one of the running task", func(t *testing.T) {
		s, host := newTestScheduler(SchedulerOptions{})

		var seen Priority
		s.ScheduleJob(func(bool) Job {
			seen = s.CurrentPriority()
			return nil
		}, ScheduleOptions{Priority: UserBlockingPriority})

		host.RunUntilIdle()

		assert.Equal(t, UserBlockingPriority, seen)
		assert.Equal(t, NormalPriority, s.CurrentPriority())
	})

	t.Run("tasks scheduled by a running task run in the same slice", func(t *testing.T) {
		log := []string{}
		s, host := newTestScheduler(SchedulerOptions{})

		s.ScheduleJob(func(bool) Job {
			log = append(log, "outer")
			s.ScheduleJob(record(&log, "inner"), ScheduleOptions{})
			return nil
		}, ScheduleOptions{})

		require.True(t, host.Step())
		assert.Equal(t, []string{"outer", "inner"}, log)
		assert.Equal(t, 0, host.Pending())
	})
}
