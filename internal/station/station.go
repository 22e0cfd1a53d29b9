package station

import "github.com/google/uuid"

// Hub groups stations that share return eligibility.
type Hub struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`
}

type Station struct {
	ID        uuid.UUID `json:"id" db:"id"`
	HubID     uuid.UUID `json:"hubId" db:"hub_id"`
	HubName   string    `json:"hubName" db:"hub_name"`
	Name      string    `json:"name" db:"name"`
	Capacity  int       `json:"capacity" db:"capacity"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
}

// Accepts reports whether a bike homed at hubID may be docked here.
func (s *Station) Accepts(hubID uuid.UUID) bool {
	return s.HubID == hubID
}
