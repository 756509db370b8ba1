package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnatoleLucet/fiber"
	"github.com/AnatoleLucet/fiber/config"
)

func TestBuildTree(t *testing.T) {
	root := fiber.NewFiber(fiber.HostRoot, "", nil, nil)

	leaves := buildTree(root, "", 2, 3)

	require.Len(t, leaves, 9)
	assert.Equal(t, "0.0", leaves[0].Key)
	assert.Equal(t, "2.2", leaves[8].Key)
	assert.Equal(t, 0, leaves[0].MemoizedState)
	assert.Equal(t, 1+3+9, countFibers(root))
}

func TestRunDemo(t *testing.T) {
	t.Run("prints the trace and the summary", func(t *testing.T) {
		var out, logs bytes.Buffer

		err := runDemo(&out, &logs, config.Default(), runOptions{
			depth:          2,
			breadth:        2,
			unitCost:       2 * time.Millisecond,
			updates:        2,
			interruptAfter: 3,
			noColor:        true,
		})
		require.NoError(t, err)

		text := out.String()
		assert.Contains(t, text, "begin")
		assert.Contains(t, text, "commit")
		assert.Contains(t, text, "0 failed passes")
		assert.Contains(t, text, "7 fibers")
	})

	t.Run("a failing fiber is reported", func(t *testing.T) {
		var out, logs bytes.Buffer

		err := runDemo(&out, &logs, config.Default(), runOptions{
			depth:    1,
			breadth:  2,
			unitCost: time.Millisecond,
			updates:  1,
			failKey:  "0",
			noColor:  true,
		})
		require.NoError(t, err)

		assert.Contains(t, out.String(), "refused to render")
		assert.Contains(t, out.String(), "4 failed passes")
		assert.Contains(t, logs.String(), "pass abandoned")
	})
}
