//go:build !wasm

package internal

import (
	"sync"

	"github.com/petermattis/goid"
)

var runtimes sync.Map

// GetRuntime returns the default runtime of the calling goroutine, creating it on first use.
func GetRuntime() *Runtime {
	gid := currentGoroutineID()

	if r, ok := runtimes.Load(gid); ok {
		return r.(*Runtime)
	}

	r, err := NewRuntime(Options{})
	if err != nil {
		panic(err)
	}

	actual, loaded := runtimes.LoadOrStore(gid, r)
	if loaded {
		r.Close()
	}
	return actual.(*Runtime)
}

func currentGoroutineID() int64 {
	return goid.Get()
}
