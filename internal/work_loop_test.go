package internal

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWork logs every unit of work and charges cost to the manual clock on each begin.
type recordingWork struct {
	log  *[]string
	host *ManualHost
	cost time.Duration

	// descend into every child instead of bailing out of idle subtrees
	full bool

	fail   map[string]error
	panics map[string]any
}

func fiberName(f *Fiber) string {
	if f.Tag == HostRoot {
		return "root"
	}
	return f.Key
}

func (w *recordingWork) BeginWork(current, wip *Fiber, lanes Lanes) (*Fiber, error) {
	*w.log = append(*w.log, "begin "+fiberName(wip))
	if w.host != nil {
		w.host.Advance(w.cost)
	}

	if err := w.fail[wip.Key]; err != nil {
		return nil, err
	}

	if !w.full {
		return DefaultWork{}.BeginWork(current, wip, lanes)
	}

	wip.Lanes = NoLanes
	if wip.UpdateQueue != nil {
		ProcessUpdateQueue(current, wip, wip.PendingProps, lanes)
	}
	CloneChildFibers(wip)

	return wip.Child, nil
}

func (w *recordingWork) CompleteWork(current, wip *Fiber, lanes Lanes) (*Fiber, error) {
	*w.log = append(*w.log, "complete "+fiberName(wip))

	if v, ok := w.panics[wip.Key]; ok {
		panic(v)
	}

	return DefaultWork{}.CompleteWork(current, wip, lanes)
}

func newTestRuntime(t *testing.T, work Work, opts Options) (*Runtime, *ManualHost) {
	t.Helper()

	host := NewManualHost()
	opts.Host = host
	opts.Work = work

	rt, err := NewRuntime(opts)
	require.NoError(t, err)

	return rt, host
}

func appendChildren(parent *Fiber, keys ...string) {
	for _, key := range keys {
		parent.AppendChild(NewFiber(HostComponent, nil, key, NoMode))
	}
}

// walk is the log of beginning and completing leaves, one after the other.
func walk(keys ...string) []string {
	var log []string
	for _, key := range keys {
		log = append(log, "begin "+key, "complete "+key)
	}
	return log
}

func elementOf(f *Fiber) any {
	return f.MemoizedState.(*HostRootState).Element
}

func TestWorkLoop(t *testing.T) {
	t.Run("walks the tree depth first", func(t *testing.T) {
		log := []string{}
		rt, host := newTestRuntime(t, &recordingWork{log: &log, full: true}, Options{})

		root := rt.CreateRoot("app", ConcurrentRoot)
		original := root.Current

		a := root.Current.AppendChild(NewFiber(HostComponent, nil, "A", NoMode))
		appendChildren(a, "A1")
		appendChildren(root.Current, "B")

		var committed []Lanes
		root.OnCommit(func(_ *Fiber, lanes Lanes) {
			committed = append(committed, lanes)
		})

		_, err := rt.UpdateContainer("app", root)
		require.NoError(t, err)
		assert.Empty(t, log, "nothing renders before the host runs")

		host.RunUntilIdle()

		assert.Equal(t, []string{
			"begin root",
			"begin A",
			"begin A1",
			"complete A1",
			"complete A",
			"begin B",
			"complete B",
			"complete root",
		}, log)

		assert.Equal(t, []Lanes{DefaultLane}, committed)
		assert.Equal(t, "app", root.State().Element)
		assert.NotSame(t, original, root.Current)
		assert.Same(t, original, root.Current.Alternate)
		assert.Equal(t, NoLanes, root.PendingLanes)
		assert.Nil(t, root.CallbackNode)
		assert.True(t, rt.Scheduler().Idle())
	})

	t.Run("yields and resumes where it stopped", func(t *testing.T) {
		log := []string{}
		work := &recordingWork{log: &log, cost: 3 * time.Millisecond, full: true}
		rt, host := newTestRuntime(t, work, Options{FrameBudget: 5 * time.Millisecond})
		work.host = host

		root := rt.CreateRoot("app", ConcurrentRoot)
		appendChildren(root.Current, "c0", "c1", "c2", "c3")

		commits := 0
		root.OnCommit(func(*Fiber, Lanes) { commits++ })

		_, err := rt.UpdateContainer("app", root)
		require.NoError(t, err)

		require.True(t, host.Step())
		assert.Equal(t, slices.Concat([]string{"begin root"}, walk("c0")), log)
		assert.Equal(t, 0, commits)
		assert.True(t, rt.WorkLoop().IsRendering())
		assert.Nil(t, root.State().Element)
		assert.Equal(t, 1, host.Pending())

		host.RunUntilIdle()

		assert.Equal(t, slices.Concat(
			[]string{"begin root"},
			walk("c0", "c1", "c2", "c3"),
			[]string{"complete root"},
		), log)
		assert.Equal(t, 1, commits)
		assert.False(t, rt.WorkLoop().IsRendering())
		assert.Equal(t, "app", root.State().Element)
	})

	t.Run("updates made during a pass are rendered by the next one", func(t *testing.T) {
		log := []string{}
		work := &recordingWork{log: &log, cost: 3 * time.Millisecond}
		rt, host := newTestRuntime(t, work, Options{FrameBudget: 5 * time.Millisecond})
		work.host = host

		root := rt.CreateRoot("app", ConcurrentRoot)
		appendChildren(root.Current, "c0")
		leaf := root.Current.AppendChild(NewFiber(HostComponent, nil, "leaf", NoMode))
		leaf.MemoizedState = 0
		InitializeUpdateQueue(leaf)

		var states []any
		root.OnCommit(func(finishedWork *Fiber, _ Lanes) {
			states = append(states, finishedWork.Child.Sibling.MemoizedState)
		})

		add := func(n int) StateUpdater {
			return func(prev, _ any) any { return prev.(int) + n }
		}

		rt.DispatchUpdate(leaf, UpdateState, add(1))

		require.True(t, host.Step())
		require.True(t, rt.WorkLoop().IsRendering())

		// lands while the pass is yielded, its lane is already being rendered
		rt.DispatchUpdate(leaf, UpdateState, add(10))

		require.True(t, host.Step())
		assert.Equal(t, []any{1}, states, "the pass in flight does not see the new update")
		assert.Equal(t, DefaultLane, root.PendingLanes)

		host.RunUntilIdle()

		assert.Equal(t, []any{1, 11}, states)
		assert.Equal(t, NoLanes, root.PendingLanes)
	})

	t.Run("a higher priority update restarts the pass", func(t *testing.T) {
		log := []string{}
		work := &recordingWork{log: &log, cost: 3 * time.Millisecond, full: true}
		rt, host := newTestRuntime(t, work, Options{FrameBudget: 5 * time.Millisecond})
		work.host = host

		root := rt.CreateRoot("app", ConcurrentRoot)
		appendChildren(root.Current, "c0", "c1", "c2")

		var committed []Lanes
		root.OnCommit(func(_ *Fiber, lanes Lanes) {
			committed = append(committed, lanes)
		})

		_, err := rt.UpdateContainer("default", root)
		require.NoError(t, err)
		require.True(t, host.Step())

		rt.WithPriority(DiscreteEventPriority, func() {
			_, err = rt.UpdateContainer("sync", root)
		})
		require.NoError(t, err)

		host.RunUntilIdle()

		full := slices.Concat([]string{"begin root"}, walk("c0", "c1", "c2"), []string{"complete root"})
		assert.Equal(t, slices.Concat(
			[]string{"begin root"}, walk("c0"), // discarded
			full, // sync
			full, // default
		), log)
		assert.Equal(t, []Lanes{SyncLane, DefaultLane}, committed)
		assert.Equal(t, "sync", root.State().Element)
	})

	t.Run("equal or lower priority updates don't interrupt the pass", func(t *testing.T) {
		log := []string{}
		work := &recordingWork{log: &log, cost: 3 * time.Millisecond, full: true}
		rt, host := newTestRuntime(t, work, Options{FrameBudget: 5 * time.Millisecond})
		work.host = host

		root := rt.CreateRoot("app", ConcurrentRoot)
		appendChildren(root.Current, "c0", "c1", "c2")

		var elements []any
		var committed []Lanes
		root.OnCommit(func(finishedWork *Fiber, lanes Lanes) {
			elements = append(elements, elementOf(finishedWork))
			committed = append(committed, lanes)
		})

		_, err := rt.UpdateContainer("default", root)
		require.NoError(t, err)
		require.True(t, host.Step())
		require.Len(t, log, 3)

		rt.WithPriority(IdleEventPriority, func() {
			_, err = rt.UpdateContainer("idle", root)
		})
		require.NoError(t, err)

		require.True(t, host.Step())
		assert.Equal(t, "begin c1", log[3], "the pass resumes instead of restarting")

		host.RunUntilIdle()

		assert.Equal(t, []Lanes{DefaultLane, IdleLane}, committed)
		assert.Equal(t, []any{"default", "idle"}, elements)
	})

	t.Run("starved lanes finish without yielding", func(t *testing.T) {
		log := []string{}
		work := &recordingWork{log: &log, cost: 3 * time.Millisecond, full: true}
		rt, host := newTestRuntime(t, work, Options{
			FrameBudget: 5 * time.Millisecond,
			LaneTimeouts: LaneTimeouts{
				Sync:       time.Millisecond,
				Continuous: time.Millisecond,
				Default:    8 * time.Millisecond,
			},
		})
		work.host = host

		root := rt.CreateRoot("app", ConcurrentRoot)
		keys := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9"}
		appendChildren(root.Current, keys...)

		commits := 0
		root.OnCommit(func(*Fiber, Lanes) { commits++ })

		_, err := rt.UpdateContainer("app", root)
		require.NoError(t, err)

		require.True(t, host.Step())
		require.True(t, host.Step())
		assert.Equal(t, 0, commits)
		assert.Equal(t, DefaultLane, root.ExpiredLanes)

		require.True(t, host.Step())
		assert.Equal(t, 1, commits)
		assert.Equal(t, slices.Concat([]string{"begin root"}, walk(keys...), []string{"complete root"}), log)
		assert.Equal(t, NoLanes, root.ExpiredLanes)
	})

	t.Run("a failed pass keeps the committed tree and retries", func(t *testing.T) {
		log := []string{}
		errBoom := errors.New("boom")
		work := &recordingWork{log: &log, full: true, fail: map[string]error{"bad": errBoom}}
		rt, host := newTestRuntime(t, work, Options{MaxPassRetries: 2})

		root := rt.CreateRoot("app", ConcurrentRoot)
		original := root.Current
		appendChildren(root.Current, "bad")

		var errs []error
		root.OnError(func(err error) { errs = append(errs, err) })
		commits := 0
		root.OnCommit(func(*Fiber, Lanes) { commits++ })

		_, err := rt.UpdateContainer("first", root)
		require.NoError(t, err)

		host.RunUntilIdle()

		require.Len(t, errs, 3, "two retries, then the lanes are dropped")
		for _, err := range errs[:2] {
			assert.ErrorIs(t, err, errBoom)
			assert.NotErrorIs(t, err, ErrPassAbandoned)
		}
		assert.ErrorIs(t, errs[2], ErrPassAbandoned)
		assert.ErrorIs(t, errs[2], errBoom)

		var unitErr *UnitOfWorkError
		require.ErrorAs(t, errs[0], &unitErr)
		assert.Equal(t, PhaseBegin, unitErr.Phase)
		assert.Equal(t, "bad", unitErr.Fiber.Key)

		assert.Equal(t, 0, commits)
		assert.Same(t, original, root.Current)
		assert.Nil(t, root.State().Element)
		assert.Equal(t, NoLanes, root.PendingLanes)
		assert.Nil(t, root.CallbackNode)
		assert.True(t, rt.Scheduler().Idle())

		// once the collaborator recovers the root renders again, dropped updates included
		delete(work.fail, "bad")
		_, err = rt.UpdateContainer("second", root)
		require.NoError(t, err)

		host.RunUntilIdle()

		assert.Equal(t, 1, commits)
		assert.Equal(t, "second", root.State().Element)
		assert.Len(t, errs, 3)
	})

	t.Run("a panicking collaborator fails the pass", func(t *testing.T) {
		log := []string{}
		work := &recordingWork{log: &log, full: true, panics: map[string]any{"boom": "kaput"}}
		rt, host := newTestRuntime(t, work, Options{MaxPassRetries: 1})

		root := rt.CreateRoot("app", ConcurrentRoot)
		appendChildren(root.Current, "boom")

		var errs []error
		root.OnError(func(err error) { errs = append(errs, err) })

		_, err := rt.UpdateContainer("app", root)
		require.NoError(t, err)

		host.RunUntilIdle()

		require.Len(t, errs, 2)

		var unitErr *UnitOfWorkError
		require.ErrorAs(t, errs[0], &unitErr)
		assert.Equal(t, PhaseComplete, unitErr.Phase)

		var panicErr *PanicError
		require.ErrorAs(t, errs[0], &panicErr)
		assert.Equal(t, "kaput", panicErr.Value)

		assert.ErrorIs(t, errs[1], ErrPassAbandoned)
		assert.Nil(t, root.State().Element)
	})

	t.Run("flush sync commits before returning", func(t *testing.T) {
		log := []string{}
		rt, host := newTestRuntime(t, &recordingWork{log: &log}, Options{})

		root := rt.CreateRoot("app", ConcurrentRoot)

		var committed []Lanes
		root.OnCommit(func(_ *Fiber, lanes Lanes) {
			committed = append(committed, lanes)
		})

		rt.FlushSync(func() {
			_, err := rt.UpdateContainer("now", root)
			require.NoError(t, err)
		})

		assert.Equal(t, []Lanes{SyncLane}, committed)
		assert.Equal(t, "now", root.State().Element)
		assert.Nil(t, root.CallbackNode)

		host.RunUntilIdle()
		assert.Equal(t, []Lanes{SyncLane}, committed, "the scheduled task was cancelled")
	})

	t.Run("legacy roots render synchronously", func(t *testing.T) {
		log := []string{}
		rt, host := newTestRuntime(t, &recordingWork{log: &log}, Options{})

		root := rt.CreateRoot("app", LegacyRoot)

		commits := 0
		root.OnCommit(func(*Fiber, Lanes) { commits++ })

		lane, err := rt.UpdateContainer("a", root)
		require.NoError(t, err)

		assert.Equal(t, SyncLane, lane)
		assert.Equal(t, 1, commits)
		assert.Equal(t, "a", root.State().Element)
		assert.Nil(t, root.CallbackNode)

		host.RunUntilIdle()
		assert.Equal(t, 1, commits)
	})

	t.Run("batched legacy updates commit once", func(t *testing.T) {
		log := []string{}
		rt, _ := newTestRuntime(t, &recordingWork{log: &log}, Options{})

		root := rt.CreateRoot("app", LegacyRoot)

		commits := 0
		root.OnCommit(func(*Fiber, Lanes) { commits++ })

		rt.Batch(func() {
			_, _ = rt.UpdateContainer("a", root)
			rt.Batch(func() {
				_, _ = rt.UpdateContainer("b", root)
			})
			assert.Equal(t, 0, commits, "nested batches don't flush")
			assert.Nil(t, root.State().Element)
		})

		assert.Equal(t, 1, commits)
		assert.Equal(t, "b", root.State().Element)
	})

	t.Run("updates on fibers without a root are dropped", func(t *testing.T) {
		rt, host := newTestRuntime(t, nil, Options{})

		detached := NewFiber(HostComponent, nil, "detached", ConcurrentMode)
		detached.MemoizedState = 0
		InitializeUpdateQueue(detached)

		lane := rt.DispatchUpdate(detached, UpdateState, 1)
		assert.Equal(t, DefaultLane, lane)
		assert.True(t, rt.Scheduler().Idle())
		assert.Equal(t, 0, host.Pending())

		_, err := rt.UpdateContainer("x", nil)
		assert.ErrorIs(t, err, ErrNilRoot)
	})

	t.Run("update lanes follow the requested priority", func(t *testing.T) {
		provided := DefaultEventPriority
		rt, _ := newTestRuntime(t, nil, Options{
			EventPriority: EventPriorityFunc(func() EventPriority { return provided }),
		})

		concurrent := rt.CreateRoot("a", ConcurrentRoot)
		legacy := rt.CreateRoot("b", LegacyRoot)
		w := rt.WorkLoop()

		assert.Equal(t, DefaultLane, w.RequestUpdateLane(concurrent.Current))
		assert.Equal(t, SyncLane, w.RequestUpdateLane(legacy.Current))

		provided = ContinuousEventPriority
		assert.Equal(t, InputContinuousLane, w.RequestUpdateLane(concurrent.Current))

		rt.WithPriority(IdleEventPriority, func() {
			assert.Equal(t, IdleLane, w.RequestUpdateLane(concurrent.Current))
			assert.Equal(t, SyncLane, w.RequestUpdateLane(legacy.Current))
		})
	})
}
