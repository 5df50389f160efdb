// Package boxbuilder tracks per-donut quantities while the customer
// composes a box of fixed capacity. The builder never touches the
// cart: Confirm hands back a snapshot for the caller to add.
package boxbuilder

import (
	"errors"

	"github.com/nazeru/donutshop-go/internal/cart"
)

var ErrBoxNotFull = errors.New("box not full")

type Builder struct {
	capacity int
	counts   map[string]int
	// order records donut ids by first selection so Confirm emits
	// selections in picking order.
	order []string
}

func New(capacity int) *Builder {
	return &Builder{
		capacity: capacity,
		counts:   make(map[string]int),
	}
}

// Increment adds one donut. Returns false when the box is already at
// capacity; the count never exceeds it.
func (b *Builder) Increment(donutID string) bool {
	if b.TotalSelected() == b.capacity {
		return false
	}
	if _, ok := b.counts[donutID]; !ok {
		b.order = append(b.order, donutID)
	}
	b.counts[donutID]++
	return true
}

// Decrement removes one donut; an entry reaching zero is dropped
// entirely. Unknown ids are ignored.
func (b *Builder) Decrement(donutID string) {
	n, ok := b.counts[donutID]
	if !ok {
		return
	}
	if n <= 1 {
		delete(b.counts, donutID)
		for i, id := range b.order {
			if id == donutID {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
		return
	}
	b.counts[donutID] = n - 1
}

// Reset clears all selections. Callers confirm with the user first:
// this throws away the whole composition.
func (b *Builder) Reset() {
	b.counts = make(map[string]int)
	b.order = nil
}

func (b *Builder) Count(donutID string) int {
	return b.counts[donutID]
}

func (b *Builder) Capacity() int {
	return b.capacity
}

func (b *Builder) TotalSelected() int {
	n := 0
	for _, c := range b.counts {
		n += c
	}
	return n
}

func (b *Builder) IsComplete() bool {
	return b.TotalSelected() == b.capacity
}

// Confirm snapshots the composition for handoff to the cart. Fails
// with ErrBoxNotFull unless the box is exactly at capacity.
func (b *Builder) Confirm() (cart.BoxContents, error) {
	if !b.IsComplete() {
		return cart.BoxContents{}, ErrBoxNotFull
	}
	selections := make([]cart.BoxSelection, 0, len(b.order))
	for _, id := range b.order {
		selections = append(selections, cart.BoxSelection{DonutID: id, Quantity: b.counts[id]})
	}
	return cart.BoxContents{Capacity: b.capacity, Selections: selections}, nil
}
