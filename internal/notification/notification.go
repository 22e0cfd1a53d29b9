package notification

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventRentalStarted     EventType = "RENTAL_STARTED"
	EventRentalPaused      EventType = "RENTAL_PAUSED"
	EventRentalResumed     EventType = "RENTAL_RESUMED"
	EventRentalReturned    EventType = "RENTAL_RETURNED"
	EventHiBikeAvailable   EventType = "HIBIKE_AVAILABLE"
	EventHiBikeCancelled   EventType = "HIBIKE_CANCELLED"
	EventHiBikeTransferred EventType = "HIBIKE_TRANSFERRED"
	EventStampIssued       EventType = "STAMP_ISSUED"
	EventCouponIssued      EventType = "COUPON_ISSUED"
	EventPaymentCompleted  EventType = "PAYMENT_COMPLETED"
	EventPaymentFailed     EventType = "PAYMENT_FAILED"
)

// Command is a lock instruction for the bike's IoT lock.
type Command string

const (
	CommandNone   Command = ""
	CommandLock   Command = "LOCK"
	CommandUnlock Command = "UNLOCK"
)

// Event is published after a lifecycle transaction commits.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	UserID     uuid.UUID      `json:"userId"`
	RentalID   uuid.UUID      `json:"rentalId"`
	BikeID     uuid.UUID      `json:"bikeId"`
	Command    Command        `json:"-"`
	Title      string         `json:"title,omitempty"`
	Body       string         `json:"body,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Pushable reports whether the event should reach the user's devices.
func (e *Event) Pushable() bool {
	return e.Title != ""
}

type DeviceToken struct {
	Token    string    `json:"token" db:"token"`
	Platform string    `json:"platform" db:"platform"`
	LastUsed time.Time `json:"last_used" db:"last_used"`
}
