package bike

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusParked           Status = "PARKED"
	StatusInUse            Status = "IN_USE"
	StatusTemporaryLocked  Status = "TEMPORARY_LOCKED"
	StatusTemporaryStation Status = "TEMPORARY_STATION"
	StatusMaintenance      Status = "MAINTENANCE"
	StatusLowBattery       Status = "LOW_BATTERY"
	StatusOutOfService     Status = "OUT_OF_SERVICE"
)

type HiBikeStatus string

const (
	HiBikeNone             HiBikeStatus = "NONE"
	HiBikeAvailableForRent HiBikeStatus = "AVAILABLE_FOR_RENT"
	HiBikeTransferred      HiBikeStatus = "TRANSFERRED"
)

// MinRentableBattery is the lowest battery level accepted at rent time.
const MinRentableBattery = 20

type Bike struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	QRCode           string       `json:"qrCode" db:"qr_code"`
	Status           Status       `json:"status" db:"status"`
	HiBikeStatus     HiBikeStatus `json:"hiBikeStatus" db:"hibike_status"`
	BatteryLevel     int          `json:"batteryLevel" db:"battery_level"`
	Latitude         float64      `json:"latitude" db:"latitude"`
	Longitude        float64      `json:"longitude" db:"longitude"`
	CurrentStationID *uuid.UUID   `json:"currentStationId,omitempty" db:"current_station_id"`
	CurrentDockID    *int         `json:"currentDockId,omitempty" db:"current_dock_id"`
	HomeHubID        uuid.UUID    `json:"homeHubId" db:"home_hub_id"`
	UpdatedAt        time.Time    `json:"updatedAt" db:"updated_at"`
}

// Rentable reports whether a new rental may start on b, ignoring battery.
func (b *Bike) Rentable() bool {
	return b.Status == StatusParked ||
		(b.HiBikeStatus == HiBikeAvailableForRent && b.Status == StatusTemporaryLocked)
}

// IsAvailableHiBike reports whether b is offered for a second rider.
func (b *Bike) IsAvailableHiBike() bool {
	return b.HiBikeStatus == HiBikeAvailableForRent && b.Status == StatusTemporaryLocked
}

func (b *Bike) MoveTo(lat, lon float64) {
	b.Latitude = lat
	b.Longitude = lon
}

// Consistent checks the status / hiBikeStatus pairing.
func (b *Bike) Consistent() bool {
	switch b.HiBikeStatus {
	case HiBikeNone:
		return true
	case HiBikeAvailableForRent:
		return b.Status == StatusTemporaryLocked
	case HiBikeTransferred:
		return b.Status == StatusInUse || b.Status == StatusTemporaryLocked
	}
	return false
}
