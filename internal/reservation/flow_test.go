package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/donutshop-go/internal/cart"
	"github.com/nazeru/donutshop-go/pkg/backend"
)

type fakeWriter struct {
	reservationID  string
	reservationErr error
	itemsErr       error

	insertedFields *backend.ReservationFields
	insertedRows   []backend.ReservationItemRow
}

func (f *fakeWriter) InsertReservation(_ context.Context, fields backend.ReservationFields) (string, error) {
	if f.reservationErr != nil {
		return "", f.reservationErr
	}
	f.insertedFields = &fields
	return f.reservationID, nil
}

func (f *fakeWriter) InsertReservationItems(_ context.Context, rows []backend.ReservationItemRow) error {
	if f.itemsErr != nil {
		return f.itemsErr
	}
	f.insertedRows = rows
	return nil
}

type nopStorage struct{}

func (n *nopStorage) Save(context.Context, string, []byte) error { return nil }
func (n *nopStorage) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func newCart(t *testing.T) *cart.Store {
	t.Helper()
	s := cart.New(context.Background(), &nopStorage{})
	t.Cleanup(s.Close)
	return s
}

func futureInput() Input {
	return Input{
		StoreID:      "store-1",
		PickupAt:     time.Now().Add(2 * time.Hour),
		CustomerName: "  Dana  ",
	}
}

func TestSubmitEmptyCartFailsFast(t *testing.T) {
	c := newCart(t)
	w := &fakeWriter{reservationID: "res-1"}
	flow := NewFlow(c, w)

	_, err := flow.Submit(context.Background(), futureInput())
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Nil(t, w.insertedFields, "no remote call on validation failure")
}

func TestSubmitBlankNameFailsFast(t *testing.T) {
	c := newCart(t)
	c.AddDonut(cart.DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})
	w := &fakeWriter{reservationID: "res-1"}
	flow := NewFlow(c, w)

	in := futureInput()
	in.CustomerName = "   "
	_, err := flow.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrNameRequired)
	assert.Nil(t, w.insertedFields)
}

func TestSubmitPastPickupFailsFast(t *testing.T) {
	c := newCart(t)
	c.AddDonut(cart.DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})
	w := &fakeWriter{reservationID: "res-1"}
	flow := NewFlow(c, w)

	in := futureInput()
	in.PickupAt = time.Now().Add(-time.Minute)
	_, err := flow.Submit(context.Background(), in)
	assert.ErrorIs(t, err, ErrPastPickup)
	assert.Nil(t, w.insertedFields)
}

func TestSubmitHappyPathClearsCart(t *testing.T) {
	c := newCart(t)
	c.AddDonut(cart.DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 3, Variant: "maple"})
	c.AddBox(cart.BoxInput{ProductID: "box6", Name: "Half Dozen", UnitPriceCents: 1200, Contents: cart.BoxContents{
		Capacity:   6,
		Selections: []cart.BoxSelection{{DonutID: "p1", Quantity: 4}, {DonutID: "p2", Quantity: 2}},
	}})

	w := &fakeWriter{reservationID: "res-42"}
	flow := NewFlow(c, w)

	id, err := flow.Submit(context.Background(), futureInput())
	require.NoError(t, err)
	assert.Equal(t, "res-42", id)
	assert.Empty(t, c.Items(), "cart cleared after both writes succeed")

	require.NotNil(t, w.insertedFields)
	assert.Equal(t, "Dana", w.insertedFields.CustomerName, "name is trimmed")
	assert.Equal(t, int64(180*3+1200), w.insertedFields.TotalCents)

	require.Len(t, w.insertedRows, 2)
	// cart is most-recent-first, so the box line comes first
	box := w.insertedRows[0]
	assert.Equal(t, "res-42", box.ReservationID)
	assert.Equal(t, "box", box.Kind)
	assert.JSONEq(t,
		`{"box_size":6,"donuts":[{"donut_id":"p1","qty":4},{"donut_id":"p2","qty":2}]}`,
		string(box.BoxPayload))

	donut := w.insertedRows[1]
	assert.Equal(t, "donut", donut.Kind)
	assert.Equal(t, "maple", donut.Variant)
	assert.Equal(t, 3, donut.Quantity)
	assert.Empty(t, donut.BoxPayload)
}

func TestSubmitReservationWriteFailure(t *testing.T) {
	c := newCart(t)
	c.AddDonut(cart.DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 1})

	w := &fakeWriter{reservationErr: errors.New("backend unavailable")}
	flow := NewFlow(c, w)

	_, err := flow.Submit(context.Background(), futureInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
	assert.Len(t, c.Items(), 1, "cart untouched")
	assert.Nil(t, w.insertedRows, "items write never attempted")
}

func TestSubmitItemsWriteFailureLeavesOrphanAndKeepsCart(t *testing.T) {
	c := newCart(t)
	c.AddDonut(cart.DonutInput{ProductID: "p1", Name: "Glazed", UnitPriceCents: 180, Quantity: 2})

	w := &fakeWriter{reservationID: "res-7", itemsErr: errors.New("items insert failed")}
	flow := NewFlow(c, w)

	_, err := flow.Submit(context.Background(), futureInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items insert failed")

	// the pending reservation was created and is now orphaned; the
	// cart is not cleared so the customer can retry
	assert.NotNil(t, w.insertedFields)
	assert.Len(t, c.Items(), 1)
}
