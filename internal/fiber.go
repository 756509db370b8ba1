package internal

import "iter"

// Fiber is one unit of work, i.e. one node of the tree. A logical node is represented by at
// most two fibers at a time, the committed one and the work-in-progress one, linked through
// Alternate.
type Fiber struct {
	Tag       WorkTag
	Key       string
	Type      any
	StateNode any
	Mode      TypeOfMode

	Return  *Fiber
	Child   *Fiber
	Sibling *Fiber
	Index   int

	PendingProps  any
	MemoizedProps any
	UpdateQueue   *UpdateQueue
	MemoizedState any

	Flags        Flags
	SubtreeFlags Flags

	// priorities pending on this fiber
	Lanes Lanes
	// union of the lanes pending anywhere below this fiber
	ChildLanes Lanes

	Alternate *Fiber
}

func NewFiber(tag WorkTag, pendingProps any, key string, mode TypeOfMode) *Fiber {
	return &Fiber{
		Tag:          tag,
		Key:          key,
		Mode:         mode,
		PendingProps: pendingProps,
	}
}

func createHostRootFiber(tag RootTag) *Fiber {
	mode := NoMode
	if tag == ConcurrentRoot {
		mode = ConcurrentMode
	}
	return NewFiber(HostRoot, nil, "", mode)
}

// AppendChild links child as the last child of f. It is meant for building committed trees
// by hand; the work loop never calls it.
func (f *Fiber) AppendChild(child *Fiber) *Fiber {
	child.Return = f
	child.Sibling = nil
	child.setMode(f.Mode)

	if f.Child == nil {
		child.Index = 0
		f.Child = child
		return child
	}

	last := f.Child
	for last.Sibling != nil {
		last = last.Sibling
	}
	child.Index = last.Index + 1
	last.Sibling = child

	return child
}

func (f *Fiber) setMode(mode TypeOfMode) {
	f.Mode = mode
	for child := range f.Children() {
		child.setMode(mode)
	}
}

func (f *Fiber) Children() iter.Seq[*Fiber] {
	return func(yield func(*Fiber) bool) {
		for child := f.Child; child != nil; child = child.Sibling {
			if !yield(child) {
				return
			}
		}
	}
}

// HostRootOf walks up the return chain and returns the root it belongs to, or nil.
func (f *Fiber) HostRootOf() *Root {
	node := f
	for node.Return != nil {
		node = node.Return
	}

	if node.Tag != HostRoot {
		return nil
	}

	root, _ := node.StateNode.(*Root)
	return root
}

// CreateWorkInProgress returns the work-in-progress twin of current, reusing the alternate
// when there is one.
func CreateWorkInProgress(current *Fiber, pendingProps any) *Fiber {
	wip := current.Alternate
	if wip == nil {
		wip = NewFiber(current.Tag, pendingProps, current.Key, current.Mode)
		wip.Type = current.Type
		wip.StateNode = current.StateNode

		wip.Alternate = current
		current.Alternate = wip
	} else {
		wip.PendingProps = pendingProps
		wip.Type = current.Type
		wip.SubtreeFlags = NoFlags
	}

	wip.Flags = current.Flags & StaticMask
	wip.Lanes = current.Lanes
	wip.ChildLanes = current.ChildLanes

	wip.Child = current.Child
	wip.MemoizedProps = current.MemoizedProps
	wip.MemoizedState = current.MemoizedState
	wip.UpdateQueue = current.UpdateQueue

	wip.Sibling = current.Sibling
	wip.Index = current.Index
	wip.Return = current.Return

	return wip
}

// CloneChildFibers replaces the children of wip, which still point at committed fibers,
// with their work-in-progress twins.
func CloneChildFibers(wip *Fiber) {
	currentChild := wip.Child
	if currentChild == nil {
		return
	}

	newChild := CreateWorkInProgress(currentChild, currentChild.PendingProps)
	wip.Child = newChild
	newChild.Return = wip

	for currentChild.Sibling != nil {
		currentChild = currentChild.Sibling
		next := CreateWorkInProgress(currentChild, currentChild.PendingProps)
		newChild.Sibling = next
		next.Return = wip
		newChild = next
	}
	newChild.Sibling = nil
}
