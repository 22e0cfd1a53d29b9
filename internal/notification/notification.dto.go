package notification

import (
	"time"

	"github.com/google/uuid"
)

type RegisterDeviceRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

// FeedMessage is the payload written to live rental feed subscribers.
type FeedMessage struct {
	Action    string         `json:"action"`
	Type      EventType      `json:"type"`
	RentalID  uuid.UUID      `json:"rentalId"`
	BikeID    uuid.UUID      `json:"bikeId"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewFeedMessage(e *Event) FeedMessage {
	msg := e.Body
	if msg == "" {
		msg = e.Title
	}
	return FeedMessage{
		Action:    "rental_event",
		Type:      e.Type,
		RentalID:  e.RentalID,
		BikeID:    e.BikeID,
		Message:   msg,
		Data:      e.Data,
		Timestamp: e.OccurredAt,
	}
}
