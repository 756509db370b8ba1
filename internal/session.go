package internal

import "time"

// renderSession is the state of the one pass in progress. It lives from prepareFreshStack until
// the pass is committed or abandoned.
type renderSession struct {
	root  *Root
	lanes Lanes

	// work-in-progress HostRoot fiber
	rootFiber *Fiber
	// next fiber to begin, nil once the tree is fully walked
	workInProgress *Fiber

	// lanes updated on root while this pass was running
	interleavedUpdatedLanes Lanes

	startedAt time.Duration
	// started by a non-yielding render
	sync   bool
	units  int
	slices int
}

func (s *renderSession) renders(root *Root, lanes Lanes) bool {
	return s != nil && s.root == root && s.lanes == lanes
}

type exitStatus int

const (
	rootInProgress exitStatus = iota
	rootCompleted
	rootErrored
)

type stepResult int

const (
	stepContinue stepResult = iota
	stepComplete
	stepFailed
)
