package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu      sync.Mutex
	records map[string][]byte
	saveErr error
	loadErr error
}

func newMemStorage() *memStorage {
	return &memStorage{records: map[string][]byte{}}
}

func (m *memStorage) Save(_ context.Context, ns string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.records[ns] = cp
	return nil
}

func (m *memStorage) Load(_ context.Context, ns string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, false, m.loadErr
	}
	payload, ok := m.records[ns]
	return payload, ok, nil
}

func newTestStore(t *testing.T) (*Store, *memStorage) {
	t.Helper()
	storage := newMemStorage()
	s := New(context.Background(), storage)
	t.Cleanup(s.Close)
	return s, storage
}

func TestAddDonutMergesSameProductAndVariant(t *testing.T) {
	s, _ := newTestStore(t)

	first := s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 2})
	second := s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 3})

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestAddDonutDifferentVariantCreatesSeparateLine(t *testing.T) {
	s, _ := newTestStore(t)

	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})
	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1, Variant: "chocolate"})

	require.Len(t, s.Items(), 2)
}

func TestNewLinesArePrependedMergedLinesKeepPosition(t *testing.T) {
	s, _ := newTestStore(t)

	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})
	s.AddDonut(DonutInput{ProductID: "p2", Name: "Boston", UnitPriceCents: 210, Quantity: 1})
	// merge back into p1: it must stay in its original slot
	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "p2", items[0].ProductID, "most recent distinct line comes first")
	assert.Equal(t, "p1", items[1].ProductID)
	assert.Equal(t, 2, items[1].Quantity)
}

func TestAddBoxNeverMerges(t *testing.T) {
	s, _ := newTestStore(t)

	contents := BoxContents{Capacity: 6, Selections: []BoxSelection{{DonutID: "d1", Quantity: 6}}}
	a := s.AddBox(BoxInput{ProductID: "box6", Name: "Half Dozen", UnitPriceCents: 1200, Contents: contents})
	b := s.AddBox(BoxInput{ProductID: "box6", Name: "Half Dozen", UnitPriceCents: 1200, Contents: contents})

	items := s.Items()
	require.Len(t, items, 2)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1, items[0].Quantity)
	require.NotNil(t, items[0].Box)
	assert.Equal(t, 6, items[0].Box.Capacity)
}

func TestTotals(t *testing.T) {
	s, _ := newTestStore(t)

	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 3})
	s.AddBox(BoxInput{ProductID: "box12", Name: "Dozen", UnitPriceCents: 1200, Contents: BoxContents{Capacity: 12}})

	assert.Equal(t, 4, s.TotalCount())
	assert.Equal(t, int64(180*3+1200), s.TotalPriceCents())
}

func TestRemoveItemUnknownIDIsNoop(t *testing.T) {
	s, _ := newTestStore(t)

	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})
	s.RemoveItem("no-such-id")

	require.Len(t, s.Items(), 1)
}

func TestRemoveItem(t *testing.T) {
	s, _ := newTestStore(t)

	it := s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})
	s.AddDonut(DonutInput{ProductID: "p2", Name: "Boston", UnitPriceCents: 210, Quantity: 1})
	s.RemoveItem(it.ID)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "p2", items[0].ProductID)
}

func TestRestoreFromStorage(t *testing.T) {
	storage := newMemStorage()

	s := New(context.Background(), storage)
	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 2, Variant: "maple"})
	s.Close()

	restored := New(context.Background(), storage)
	defer restored.Close()

	items := restored.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ProductID)
	assert.Equal(t, "maple", items[0].Variant)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestClearThenRestoreYieldsEmptyCart(t *testing.T) {
	storage := newMemStorage()

	s := New(context.Background(), storage)
	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 2})
	s.Clear()
	s.Close()

	restored := New(context.Background(), storage)
	defer restored.Close()
	assert.Empty(t, restored.Items())
}

func TestCorruptRecordIsTreatedAsEmptyCart(t *testing.T) {
	storage := newMemStorage()
	storage.records[StorageKey] = []byte("{not json")

	s := New(context.Background(), storage)
	defer s.Close()
	assert.Empty(t, s.Items())
}

func TestStorageFailuresNeverSurface(t *testing.T) {
	storage := newMemStorage()
	storage.saveErr = errors.New("disk full")
	storage.loadErr = errors.New("disk gone")

	s := New(context.Background(), storage)
	defer s.Close()
	s.AddDonut(DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})
	s.Flush()

	// in-memory state stayed authoritative despite the failing storage
	require.Len(t, s.Items(), 1)
}
