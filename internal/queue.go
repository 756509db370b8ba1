package internal

// ConcurrentQueues remembers every shared queue that received an update since the last pass
// started, so the interleaved updates can be moved to pending in one step.
type ConcurrentQueues struct {
	entries []concurrentQueue
	index   map[*SharedQueue]int
}

type concurrentQueue struct {
	fiber *Fiber
	queue *SharedQueue
	lanes Lanes
}

func NewConcurrentQueues() *ConcurrentQueues {
	return &ConcurrentQueues{
		entries: make([]concurrentQueue, 0),
		index:   make(map[*SharedQueue]int),
	}
}

func (q *ConcurrentQueues) push(fiber *Fiber, queue *SharedQueue, lane Lane) {
	if i, ok := q.index[queue]; ok {
		q.entries[i].lanes = MergeLanes(q.entries[i].lanes, lane)
		return
	}

	q.index[queue] = len(q.entries)
	q.entries = append(q.entries, concurrentQueue{fiber: fiber, queue: queue, lanes: lane})
}

// Len is the number of queues waiting to be finished.
func (q *ConcurrentQueues) Len() int {
	return len(q.entries)
}

// FinishQueueingUpdates appends every interleaved list after its pending list.
// It must run before a pass reads any pending list and never while an update is being enqueued.
func (q *ConcurrentQueues) FinishQueueingUpdates() {
	for _, entry := range q.entries {
		shared := entry.queue

		if lastInterleaved := shared.Interleaved; lastInterleaved != nil {
			shared.Interleaved = nil

			firstInterleaved := lastInterleaved.Next
			if lastPending := shared.Pending; lastPending != nil {
				firstPending := lastPending.Next
				lastPending.Next = firstInterleaved
				lastInterleaved.Next = firstPending
			}
			shared.Pending = lastInterleaved
		}

		// a pass in flight may have cleared these lanes from the fiber before it saw the updates
		MarkUpdateLaneFromFiberToRoot(entry.fiber, entry.lanes)
	}

	clear(q.entries)
	q.entries = q.entries[:0]
	clear(q.index)
}

// EffectQueue holds callbacks that must run once the runtime lock is released.
type EffectQueue struct {
	effects []func()
}

func NewEffectQueue() *EffectQueue {
	return &EffectQueue{
		effects: make([]func(), 0),
	}
}

func (q *EffectQueue) Enqueue(fn func()) {
	q.effects = append(q.effects, fn)
}

// Take empties the queue and returns what it held.
func (q *EffectQueue) Take() []func() {
	if len(q.effects) == 0 {
		return nil
	}

	effects := q.effects
	q.effects = make([]func(), 0)

	return effects
}

// RunEffects runs every queued callback, including the ones they enqueue.
func (q *EffectQueue) RunEffects() {
	for effects := q.Take(); effects != nil; effects = q.Take() {
		for _, effect := range effects {
			effect()
		}
	}
}
