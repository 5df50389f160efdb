package boxbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/donutshop-go/internal/cart"
)

func TestIncrementStopsAtCapacity(t *testing.T) {
	b := New(6)
	for i := 0; i < 10; i++ {
		b.Increment("d1")
	}
	assert.Equal(t, 6, b.TotalSelected())
	assert.False(t, b.Increment("d2"), "a full box rejects further donuts")
	assert.Equal(t, 6, b.TotalSelected())
	assert.Equal(t, 0, b.Count("d2"))
}

func TestDecrementRemovesEntryAtZero(t *testing.T) {
	b := New(6)
	require.True(t, b.Increment("d1"))
	b.Decrement("d1")

	assert.Equal(t, 0, b.TotalSelected())
	assert.Equal(t, 0, b.Count("d1"))

	// the slot is free again and order restarts for d1
	require.True(t, b.Increment("d2"))
	require.True(t, b.Increment("d1"))
	snapshotOrder(t, b, "d2", "d1")
}

func TestDecrementUnknownDonutIsNoop(t *testing.T) {
	b := New(6)
	b.Increment("d1")
	b.Decrement("nope")
	assert.Equal(t, 1, b.TotalSelected())
}

func TestConfirmFailsUnlessComplete(t *testing.T) {
	b := New(6)
	b.Increment("d1")

	_, err := b.Confirm()
	assert.ErrorIs(t, err, ErrBoxNotFull)
}

func TestConfirmSnapshotKeepsPickingOrder(t *testing.T) {
	b := New(6)
	for i := 0; i < 4; i++ {
		require.True(t, b.Increment("A"))
	}
	for i := 0; i < 2; i++ {
		require.True(t, b.Increment("B"))
	}

	assert.Equal(t, 6, b.TotalSelected())
	assert.True(t, b.IsComplete())

	got, err := b.Confirm()
	require.NoError(t, err)
	assert.Equal(t, cart.BoxContents{
		Capacity: 6,
		Selections: []cart.BoxSelection{
			{DonutID: "A", Quantity: 4},
			{DonutID: "B", Quantity: 2},
		},
	}, got)
}

func TestReset(t *testing.T) {
	b := New(12)
	b.Increment("d1")
	b.Increment("d2")
	b.Reset()

	assert.Equal(t, 0, b.TotalSelected())
	assert.False(t, b.IsComplete())
	assert.Equal(t, 0, b.Count("d1"))
}

func TestTotalNeverExceedsCapacityUnderMixedOps(t *testing.T) {
	b := New(6)
	ops := []struct {
		id  string
		inc bool
	}{
		{"A", true}, {"A", true}, {"B", true}, {"A", false}, {"B", true},
		{"C", true}, {"C", true}, {"C", true}, {"B", false}, {"A", true},
		{"A", true}, {"A", true}, {"A", true},
	}
	for _, op := range ops {
		if op.inc {
			b.Increment(op.id)
		} else {
			b.Decrement(op.id)
		}
		assert.LessOrEqual(t, b.TotalSelected(), 6)
	}
}

func snapshotOrder(t *testing.T, b *Builder, want ...string) {
	t.Helper()
	for b.TotalSelected() < b.Capacity() {
		require.True(t, b.Increment(want[len(want)-1]))
	}
	got, err := b.Confirm()
	require.NoError(t, err)
	ids := make([]string, 0, len(got.Selections))
	for _, sel := range got.Selections {
		ids = append(ids, sel.DonutID)
	}
	assert.Equal(t, want, ids)
}
