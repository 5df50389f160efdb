// Package backend is the storefront's view of the remote data backend:
// four logical operations over reservations, products and stores. The
// protocol behind them is owned by the reservation-service.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nazeru/donutshop-go/internal/catalog"
)

type ReservationFields struct {
	StoreID       string    `json:"store_id"`
	PickupAt      time.Time `json:"pickup_at"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	TotalCents    int64     `json:"total_cents"`
}

type ReservationItemRow struct {
	ReservationID  string          `json:"reservation_id"`
	ProductID      string          `json:"product_id"`
	Kind           string          `json:"kind"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	Variant        string          `json:"variant,omitempty"`
	BoxPayload     json.RawMessage `json:"box_payload,omitempty"`
}

type ProductFilter struct {
	Kind string
}

type StoreFilter struct {
	City string
}

type Client interface {
	InsertReservation(ctx context.Context, fields ReservationFields) (string, error)
	InsertReservationItems(ctx context.Context, rows []ReservationItemRow) error
	ReadProducts(ctx context.Context, filter ProductFilter) ([]catalog.Product, error)
	ReadStores(ctx context.Context, filter StoreFilter) ([]catalog.Store, error)
}
