package internal

import (
	"errors"
	"fmt"
)

// Work is the tree-diffing logic the work loop drives. BeginWork is called on the way down and
// returns the next child to work on, or nil for a leaf. CompleteWork is called on the way up,
// after all children of the fiber have completed.
type Work interface {
	BeginWork(current, wip *Fiber, renderLanes Lanes) (*Fiber, error)
	CompleteWork(current, wip *Fiber, renderLanes Lanes) (*Fiber, error)
}

var ErrPassAbandoned = errors.New("fiber: render pass abandoned after repeated failures")

type WorkPhase string

const (
	PhaseBegin    WorkPhase = "begin"
	PhaseComplete WorkPhase = "complete"
)

// UnitOfWorkError is a failure of BeginWork or CompleteWork on one fiber.
type UnitOfWorkError struct {
	Fiber *Fiber
	Phase WorkPhase
	Cause error
}

func (e *UnitOfWorkError) Error() string {
	return fmt.Sprintf("%s work on %s fiber %q: %v", e.Phase, e.Fiber.Tag, e.Fiber.Key, e.Cause)
}

func (e *UnitOfWorkError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panicking collaborator.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// DefaultWork processes update queues and clones the committed children into the
// work-in-progress tree, skipping subtrees with nothing to do at the render lanes.
type DefaultWork struct{}

func (DefaultWork) BeginWork(current, wip *Fiber, renderLanes Lanes) (*Fiber, error) {
	wip.Lanes = NoLanes

	if wip.UpdateQueue != nil {
		ProcessUpdateQueue(current, wip, wip.PendingProps, renderLanes)
	}
	wip.MemoizedProps = wip.PendingProps

	if !IncludesSomeLane(renderLanes, wip.ChildLanes) {
		// nothing below needs work, keep the committed children
		return nil, nil
	}

	CloneChildFibers(wip)
	return wip.Child, nil
}

func (DefaultWork) CompleteWork(current, wip *Fiber, renderLanes Lanes) (*Fiber, error) {
	BubbleProperties(wip)
	return nil, nil
}

// BubbleProperties recomputes the child lanes and subtree flags of wip from its children.
func BubbleProperties(wip *Fiber) {
	newChildLanes := NoLanes
	subtreeFlags := NoFlags

	for child := range wip.Children() {
		newChildLanes = MergeLanes(newChildLanes, MergeLanes(child.Lanes, child.ChildLanes))
		subtreeFlags |= child.SubtreeFlags | child.Flags
	}

	wip.ChildLanes = newChildLanes
	wip.SubtreeFlags |= subtreeFlags
}
