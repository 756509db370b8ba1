package internal

import (
	"maps"
	"time"
)

type UpdateTag int

const (
	UpdateState UpdateTag = iota
	ReplaceState
)

// StateUpdater computes the next state from the previous one.
type StateUpdater func(prevState, props any) any

// Update is one requested state change. It is not modified once queued, except for Next.
type Update struct {
	EventTime time.Duration
	Lane      Lane
	Tag       UpdateTag
	Payload   any

	Next *Update
}

// SharedQueue is shared by a fiber and its alternate. Both fields point at the last update of
// a circular list, so last.Next is the first one.
type SharedQueue struct {
	// updates the next pass will process
	Pending *Update
	// updates enqueued since the last pass started
	Interleaved *Update
}

type UpdateQueue struct {
	BaseState       any
	FirstBaseUpdate *Update
	LastBaseUpdate  *Update
	Shared          *SharedQueue
}

func InitializeUpdateQueue(fiber *Fiber) {
	fiber.UpdateQueue = &UpdateQueue{
		BaseState: fiber.MemoizedState,
		Shared:    &SharedQueue{},
	}
}

func CreateUpdate(eventTime time.Duration, lane Lane) *Update {
	return &Update{
		EventTime: eventTime,
		Lane:      lane,
		Tag:       UpdateState,
	}
}

// EnqueueUpdate appends update to the interleaved list of the fiber's queue and rolls lane up to
// the root. It returns nil when the fiber has no queue (it was unmounted).
func EnqueueUpdate(fiber *Fiber, update *Update, lane Lane, queues *ConcurrentQueues) *Root {
	queue := fiber.UpdateQueue
	if queue == nil {
		return nil
	}

	shared := queue.Shared
	if shared.Interleaved == nil {
		update.Next = update // loop to self
	} else {
		update.Next = shared.Interleaved.Next
		shared.Interleaved.Next = update
	}
	shared.Interleaved = update

	queues.push(fiber, shared, lane)

	return MarkUpdateLaneFromFiberToRoot(fiber, lane)
}

// MarkUpdateLaneFromFiberToRoot adds lane to the source fiber and to the child lanes of all of its
// ancestors, on both buffers.
func MarkUpdateLaneFromFiberToRoot(source *Fiber, lane Lane) *Root {
	source.Lanes = MergeLanes(source.Lanes, lane)
	if alternate := source.Alternate; alternate != nil {
		alternate.Lanes = MergeLanes(alternate.Lanes, lane)
	}

	node := source
	parent := node.Return
	for parent != nil {
		parent.ChildLanes = MergeLanes(parent.ChildLanes, lane)
		if alternate := parent.Alternate; alternate != nil {
			alternate.ChildLanes = MergeLanes(alternate.ChildLanes, lane)
		}

		node = parent
		parent = node.Return
	}

	if node.Tag != HostRoot {
		return nil
	}

	root, _ := node.StateNode.(*Root)
	return root
}

func cloneUpdateQueue(current, wip *Fiber) *UpdateQueue {
	queue := wip.UpdateQueue
	if current == nil || current.UpdateQueue != queue {
		return queue
	}

	clone := &UpdateQueue{
		BaseState:       queue.BaseState,
		FirstBaseUpdate: queue.FirstBaseUpdate,
		LastBaseUpdate:  queue.LastBaseUpdate,
		Shared:          queue.Shared,
	}
	wip.UpdateQueue = clone

	return clone
}

// ProcessUpdateQueue computes the new state of wip from the updates whose lane is in renderLanes.
// Skipped updates, and every update after the first skipped one, stay in the base queue so they
// are rebased on top of the final state later.
func ProcessUpdateQueue(current, wip *Fiber, props any, renderLanes Lanes) {
	queue := cloneUpdateQueue(current, wip)
	if queue == nil {
		return
	}

	firstBase := queue.FirstBaseUpdate
	lastBase := queue.LastBaseUpdate

	if pending := queue.Shared.Pending; pending != nil {
		queue.Shared.Pending = nil

		lastPending := pending
		firstPending := lastPending.Next
		lastPending.Next = nil

		if lastBase == nil {
			firstBase = firstPending
		} else {
			lastBase.Next = firstPending
		}
		lastBase = lastPending

		// keep the updates on the committed queue too, so they survive an abandoned pass
		if current != nil && current.UpdateQueue != nil && current.UpdateQueue != queue {
			currentQueue := current.UpdateQueue
			if currentQueue.LastBaseUpdate != lastPending {
				if currentQueue.LastBaseUpdate == nil {
					currentQueue.FirstBaseUpdate = firstPending
				} else {
					currentQueue.LastBaseUpdate.Next = firstPending
				}
				currentQueue.LastBaseUpdate = lastPending
			}
		}
	}

	if firstBase == nil {
		return
	}

	newState := queue.BaseState
	newLanes := NoLanes

	var (
		newBaseState     any
		newFirstBase     *Update
		newLastBase      *Update
		hasSkippedUpdate bool
	)

	for update := firstBase; update != nil; update = update.Next {
		if !IsSubsetOfLanes(renderLanes, update.Lane) {
			clone := &Update{
				EventTime: update.EventTime,
				Lane:      update.Lane,
				Tag:       update.Tag,
				Payload:   update.Payload,
			}
			if !hasSkippedUpdate {
				hasSkippedUpdate = true
				newFirstBase = clone
				newBaseState = newState
			} else {
				newLastBase.Next = clone
			}
			newLastBase = clone

			newLanes = MergeLanes(newLanes, update.Lane)
			continue
		}

		if hasSkippedUpdate {
			// already applied, but must be replayed after the skipped ones
			clone := &Update{
				EventTime: update.EventTime,
				Lane:      NoLane,
				Tag:       update.Tag,
				Payload:   update.Payload,
			}
			newLastBase.Next = clone
			newLastBase = clone
		}

		newState = getStateFromUpdate(update, newState, props)
	}

	if !hasSkippedUpdate {
		newBaseState = newState
	}

	queue.BaseState = newBaseState
	queue.FirstBaseUpdate = newFirstBase
	queue.LastBaseUpdate = newLastBase

	wip.Lanes = newLanes
	wip.MemoizedState = newState
}

func getStateFromUpdate(update *Update, prevState, props any) any {
	next := update.Payload
	switch fn := next.(type) {
	case StateUpdater:
		next = fn(prevState, props)
	case func(any, any) any:
		next = fn(prevState, props)
	}

	if update.Tag == ReplaceState {
		return next
	}

	if next == nil {
		return prevState
	}

	partial, ok := next.(map[string]any)
	if !ok {
		return next
	}
	prev, ok := prevState.(map[string]any)
	if !ok {
		return partial
	}

	merged := maps.Clone(prev)
	maps.Copy(merged, partial)

	return merged
}
