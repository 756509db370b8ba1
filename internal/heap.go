package internal

import "container/heap"

// TaskHeap is a min-heap of tasks ordered by sort index, then by id (FIFO among equal keys).
type TaskHeap struct {
	tasks taskSlice
}

func NewTaskHeap() *TaskHeap {
	return &TaskHeap{tasks: make(taskSlice, 0)}
}

func (h *TaskHeap) Push(task *Task) {
	heap.Push(&h.tasks, task)
}

// Pop removes and returns the minimum task, or nil if the heap is empty.
func (h *TaskHeap) Pop() *Task {
	if len(h.tasks) == 0 {
		return nil
	}
	return heap.Pop(&h.tasks).(*Task)
}

// Peek returns the minimum task without removing it, or nil if the heap is empty.
func (h *TaskHeap) Peek() *Task {
	if len(h.tasks) == 0 {
		return nil
	}
	return h.tasks[0]
}

func (h *TaskHeap) Len() int {
	return len(h.tasks)
}

type taskSlice []*Task

var _ heap.Interface = (*taskSlice)(nil)

func (s taskSlice) Len() int { return len(s) }

func (s taskSlice) Less(i, j int) bool {
	if s[i].SortIndex != s[j].SortIndex {
		return s[i].SortIndex < s[j].SortIndex
	}
	return s[i].ID < s[j].ID
}

func (s taskSlice) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s *taskSlice) Push(x any) {
	*s = append(*s, x.(*Task))
}

func (s *taskSlice) Pop() any {
	old := *s
	n := len(old)
	task := old[n-1]
	old[n-1] = nil // avoid memory leak
	*s = old[:n-1]
	return task
}
