package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/donutshop-go/pkg/idempotency"
)

func TestInsertReservation(t *testing.T) {
	var gotKey string
	var gotBody ReservationFields
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/reservations", r.URL.Path)
		gotKey = r.Header.Get(idempotency.Header)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"reservation_id": "res-1", "status": "pending"})
	}))
	defer srv.Close()

	client := NewHTTP(srv.URL)
	pickup := time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC)
	id, err := client.InsertReservation(context.Background(), ReservationFields{
		StoreID:      "store-1",
		PickupAt:     pickup,
		CustomerName: "Dana",
		TotalCents:   1740,
	})
	require.NoError(t, err)
	assert.Equal(t, "res-1", id)
	assert.NotEmpty(t, gotKey, "reservation inserts carry an idempotency key")
	assert.Equal(t, "store-1", gotBody.StoreID)
	assert.True(t, gotBody.PickupAt.Equal(pickup))
	assert.Equal(t, int64(1740), gotBody.TotalCents)
}

func TestInsertReservationItems(t *testing.T) {
	var got insertItemsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reservation-items", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewHTTP(srv.URL)
	err := client.InsertReservationItems(context.Background(), []ReservationItemRow{
		{ReservationID: "res-1", ProductID: "p1", Kind: "donut", Name: "Glazed", Quantity: 3, UnitPriceCents: 180},
		{ReservationID: "res-1", ProductID: "box6", Kind: "box", Name: "Half Dozen", Quantity: 1, UnitPriceCents: 1200,
			BoxPayload: json.RawMessage(`{"box_size":6,"donuts":[{"donut_id":"p1","qty":6}]}`)},
	})
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.JSONEq(t, `{"box_size":6,"donuts":[{"donut_id":"p1","qty":6}]}`, string(got.Items[1].BoxPayload))
}

func TestReadProductsSendsKindFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/products", r.URL.Path)
		require.Equal(t, "donut", r.URL.Query().Get("kind"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "p1", "kind": "donut", "name": "Glazed", "price_cents": 180},
		})
	}))
	defer srv.Close()

	client := NewHTTP(srv.URL)
	products, err := client.ReadProducts(context.Background(), ProductFilter{Kind: "donut"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Glazed", products[0].Name)
	assert.Equal(t, int64(180), products[0].PriceCents)
}

func TestErrorBodySurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "reservations table is on fire"})
	}))
	defer srv.Close()

	client := NewHTTP(srv.URL)
	_, err := client.InsertReservation(context.Background(), ReservationFields{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reservations table is on fire")
	assert.Contains(t, err.Error(), "500")
}
