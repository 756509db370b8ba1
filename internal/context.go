package internal

// ExecutionContext tells what the runtime is currently doing.
type ExecutionContext int

const (
	NoContext      ExecutionContext = 0
	BatchedContext ExecutionContext = 1 << 0
	RenderContext  ExecutionContext = 1 << 1
	CommitContext  ExecutionContext = 1 << 2
)

func (c ExecutionContext) Has(ctx ExecutionContext) bool {
	return c&ctx != 0
}
