package contracts

import "time"

type Event struct {
	EventID       string         `json:"event_id"`
	ReservationID string         `json:"reservation_id"`
	StoreID       string         `json:"store_id"`
	CreatedAt     time.Time      `json:"created_at"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
}

const (
	EventReservationCreated    = "reservation.created"
	EventReservationItemsAdded = "reservation.items_added"
	EventReservationReady      = "reservation.ready"
	EventReservationPickedUp   = "reservation.picked_up"
	EventReservationCancelled  = "reservation.cancelled"
)
