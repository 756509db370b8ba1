package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlags(t *testing.T) {
	t.Run("add and remove", func(t *testing.T) {
		var f Flags
		f.Add(Placement | UpdateFlag)

		assert.True(t, f.Has(UpdateFlag))
		assert.True(t, f.Has(LayoutMask))

		f.Remove(UpdateFlag)
		assert.False(t, f.Has(LayoutMask))
		assert.Equal(t, Placement, f)
	})

	t.Run("update flags and queued updates are distinct", func(t *testing.T) {
		u := &Update{Lane: DefaultLane}
		f := UpdateFlag

		assert.Equal(t, DefaultLane, u.Lane)
		assert.False(t, f.Has(StaticMask))
	})
}
