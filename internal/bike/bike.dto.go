package bike

import "github.com/google/uuid"

type BikeView struct {
	ID               uuid.UUID    `json:"bikeId"`
	QRCode           string       `json:"qrCode"`
	Status           Status       `json:"bikeStatus"`
	HiBikeStatus     HiBikeStatus `json:"hiBikeStatus"`
	BatteryLevel     int          `json:"batteryLevel"`
	Latitude         float64      `json:"latitude"`
	Longitude        float64      `json:"longitude"`
	CurrentStationID *uuid.UUID   `json:"currentStationId,omitempty"`
	CurrentDockID    *int         `json:"currentDockId,omitempty"`
	Rentable         bool         `json:"rentable"`
}

func NewBikeView(b *Bike) *BikeView {
	return &BikeView{
		ID:               b.ID,
		QRCode:           b.QRCode,
		Status:           b.Status,
		HiBikeStatus:     b.HiBikeStatus,
		BatteryLevel:     b.BatteryLevel,
		Latitude:         b.Latitude,
		Longitude:        b.Longitude,
		CurrentStationID: b.CurrentStationID,
		CurrentDockID:    b.CurrentDockID,
		Rentable:         b.Rentable() && b.BatteryLevel >= MinRentableBattery,
	}
}
