package internal

type Tracker struct {
	// priority given to updates requested without an explicit one
	updatePriority EventPriority

	executionContext ExecutionContext
}

func NewTracker() *Tracker {
	return &Tracker{
		updatePriority:   NoLane,
		executionContext: NoContext,
	}
}

func (t *Tracker) CurrentUpdatePriority() EventPriority {
	return t.updatePriority
}

func (t *Tracker) RunWithPriority(priority EventPriority, fn func()) {
	prev := t.updatePriority
	t.updatePriority = priority
	defer func() { t.updatePriority = prev }()

	fn()
}

func (t *Tracker) ExecutionContext() ExecutionContext {
	return t.executionContext
}

// Enter adds ctx to the execution context and returns a function restoring the previous one.
func (t *Tracker) Enter(ctx ExecutionContext) (restore func()) {
	prev := t.executionContext
	t.executionContext |= ctx

	return func() { t.executionContext = prev }
}

func (t *Tracker) RunWithContext(ctx ExecutionContext, fn func()) {
	restore := t.Enter(ctx)
	defer restore()

	fn()
}
