package internal

// Root is the scheduling state of one mounted tree.
type Root struct {
	Tag           RootTag
	ContainerInfo any

	// the committed tree
	Current *Fiber
	// the work-in-progress root of the last completed pass, until it is committed
	FinishedWork *Fiber

	CallbackNode     *Task
	CallbackPriority Lane

	PendingLanes  Lanes
	ExpiredLanes  Lanes
	FinishedLanes Lanes

	EventTimes      LaneMap
	ExpirationTimes LaneMap

	// consecutive failed passes since the last commit
	failedPasses int

	commitListeners []func(*Fiber, Lanes)
	errorListeners  []func(error)
}

// HostRootState is the memoized state of a HostRoot fiber.
type HostRootState struct {
	Element any
}

func newRoot(containerInfo any, tag RootTag) *Root {
	return &Root{
		Tag:              tag,
		ContainerInfo:    containerInfo,
		CallbackPriority: NoLane,
		EventTimes:       NewLaneMap(NoTimestamp),
		ExpirationTimes:  NewLaneMap(NoTimestamp),
	}
}

// CreateFiberRoot builds a root and its uninitialized HostRoot fiber.
// It must be called once per container.
func CreateFiberRoot(containerInfo any, tag RootTag) *Root {
	root := newRoot(containerInfo, tag)

	uninitializedFiber := createHostRootFiber(tag)
	root.Current = uninitializedFiber
	uninitializedFiber.StateNode = root

	uninitializedFiber.MemoizedState = &HostRootState{}
	InitializeUpdateQueue(uninitializedFiber)

	return root
}

// OnCommit registers fn to run after every commit of this root, outside of the runtime lock.
func (r *Root) OnCommit(fn func(finishedWork *Fiber, lanes Lanes)) {
	r.commitListeners = append(r.commitListeners, fn)
}

// OnError registers fn to receive render failures of this root, outside of the runtime lock.
func (r *Root) OnError(fn func(error)) {
	r.errorListeners = append(r.errorListeners, fn)
}

// State returns the committed HostRoot state.
func (r *Root) State() *HostRootState {
	state, _ := r.Current.MemoizedState.(*HostRootState)
	return state
}
