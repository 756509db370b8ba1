//go:build wasm

package internal

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

var once sync.Once
var globalRuntime *Runtime

func GetRuntime() *Runtime {
	once.Do(func() {
		r, err := NewRuntime(Options{})
		if err != nil {
			panic(err)
		}
		globalRuntime = r
	})

	return globalRuntime
}

// currentGoroutineID reads the id from the "goroutine N [" header of the stack trace.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i >= 0 {
		field = field[:i]
	}

	id, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
