// Package reservation turns the current cart plus customer input into
// a pickup reservation: two sequential remote writes, then a cart
// clear. The writes are not transactional; if the item write fails
// after the reservation write succeeded, the pending reservation is
// left behind for backend reconciliation.
package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nazeru/donutshop-go/internal/cart"
	"github.com/nazeru/donutshop-go/pkg/backend"
	"github.com/nazeru/donutshop-go/pkg/logging"
)

var (
	ErrEmptyCart    = errors.New("empty cart")
	ErrNameRequired = errors.New("name required")
	ErrPastPickup   = errors.New("pickup time is in the past")
)

// Writer is the slice of the backend the flow needs.
type Writer interface {
	InsertReservation(ctx context.Context, fields backend.ReservationFields) (string, error)
	InsertReservationItems(ctx context.Context, rows []backend.ReservationItemRow) error
}

type Input struct {
	StoreID       string
	PickupAt      time.Time
	CustomerName  string
	CustomerPhone string
}

type Flow struct {
	cart   *cart.Store
	writer Writer
	now    func() time.Time
}

func NewFlow(c *cart.Store, w Writer) *Flow {
	return &Flow{cart: c, writer: w, now: time.Now}
}

// Submit validates locally, writes the pending reservation, writes its
// line items, then clears the cart and returns the reservation id.
// Validation failures make no remote call. A remote failure aborts at
// that step and leaves the cart intact.
func (f *Flow) Submit(ctx context.Context, in Input) (string, error) {
	items := f.cart.Items()
	if len(items) == 0 {
		return "", ErrEmptyCart
	}
	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		return "", ErrNameRequired
	}
	if in.PickupAt.Before(f.now()) {
		return "", ErrPastPickup
	}

	start := time.Now()
	reservationID, err := f.writer.InsertReservation(ctx, backend.ReservationFields{
		StoreID:       in.StoreID,
		PickupAt:      in.PickupAt,
		CustomerName:  name,
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		TotalCents:    f.cart.TotalPriceCents(),
	})
	if err != nil {
		logging.Log(logging.Fields{Service: "storefront", StoreID: in.StoreID, Step: "insert_reservation", Status: "error", Message: err.Error()})
		return "", err
	}

	rows := make([]backend.ReservationItemRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, itemRow(reservationID, it))
	}
	if err := f.writer.InsertReservationItems(ctx, rows); err != nil {
		// Заказ уже создан, но без позиций: компенсации нет, чистит бэкенд.
		logging.Log(logging.Fields{Service: "storefront", ReservationID: reservationID, StoreID: in.StoreID, Step: "insert_items", Status: "error", Message: err.Error()})
		return "", err
	}

	f.cart.Clear()
	logging.Log(logging.Fields{
		Service:       "storefront",
		ReservationID: reservationID,
		StoreID:       in.StoreID,
		Step:          "submit",
		Status:        "pending",
		DurationMS:    time.Since(start).Milliseconds(),
	})
	return reservationID, nil
}

func itemRow(reservationID string, it cart.LineItem) backend.ReservationItemRow {
	row := backend.ReservationItemRow{
		ReservationID:  reservationID,
		ProductID:      it.ProductID,
		Kind:           string(it.Kind),
		Name:           it.Name,
		Quantity:       it.Quantity,
		UnitPriceCents: it.UnitPriceCents,
		Variant:        it.Variant,
	}
	if it.Box != nil {
		row.BoxPayload = boxPayload(*it.Box)
	}
	return row
}

type boxChoice struct {
	DonutID string `json:"donut_id"`
	Qty     int    `json:"qty"`
}

type boxPayloadBody struct {
	BoxSize int         `json:"box_size"`
	Donuts  []boxChoice `json:"donuts"`
}

func boxPayload(contents cart.BoxContents) json.RawMessage {
	body := boxPayloadBody{BoxSize: contents.Capacity, Donuts: make([]boxChoice, 0, len(contents.Selections))}
	for _, sel := range contents.Selections {
		body.Donuts = append(body.Donuts, boxChoice{DonutID: sel.DonutID, Qty: sel.Quantity})
	}
	data, _ := json.Marshal(body)
	return data
}
