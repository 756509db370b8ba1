package internal

// Batcher holds back synchronous flushes requested inside a batch until the outermost batch exits.
type Batcher struct {
	// each nested batch increases the depth by 1
	depth int

	flushRequested bool
}

func NewBatcher() *Batcher {
	return &Batcher{}
}

func (b *Batcher) IsBatching() bool {
	return b.depth > 0
}

// Batch runs fn, then calls flush once if a flush was requested while the outermost batch ran.
func (b *Batcher) Batch(fn, flush func()) {
	b.depth++
	defer func() {
		b.depth--
		if b.depth == 0 && b.flushRequested {
			b.flushRequested = false
			flush()
		}
	}()

	fn()
}

// RequestFlush calls flush right away outside of a batch, or marks it for the end of the batch.
func (b *Batcher) RequestFlush(flush func()) {
	if b.IsBatching() {
		b.flushRequested = true
		return
	}

	flush()
}
