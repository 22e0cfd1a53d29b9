package rental

import (
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/coupon"
	"domadoAPI/internal/payment"

	"github.com/google/uuid"
)

type LocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// OptionalLocationRequest is a body that may leave out the rider's position.
type OptionalLocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type ReturnRequest struct {
	StationID uuid.UUID  `json:"stationId" validate:"required"`
	DockID    int        `json:"dockId" validate:"gt=0"`
	Latitude  *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	CouponID  *uuid.UUID `json:"couponId,omitempty"`
}

type RentalView struct {
	RentalID     uuid.UUID         `json:"rentalId"`
	BikeID       uuid.UUID         `json:"bikeId"`
	StartTime    time.Time         `json:"startTime"`
	BikeStatus   bike.Status       `json:"bikeStatus"`
	HiBikeStatus bike.HiBikeStatus `json:"hiBikeStatus"`
	Message      string            `json:"message"`
}

type PauseView struct {
	RentalID          uuid.UUID   `json:"rentalId"`
	BikeStatus        bike.Status `json:"bikeStatus"`
	PauseTime         time.Time   `json:"pauseTime"`
	TotalPauseMinutes int         `json:"totalPauseMinutes"`
	Message           string      `json:"message"`
}

type ResumeView struct {
	RentalID          uuid.UUID   `json:"rentalId"`
	BikeStatus        bike.Status `json:"bikeStatus"`
	ResumeTime        time.Time   `json:"resumeTime"`
	PauseMinutes      int         `json:"pauseMinutes"`
	TotalPauseMinutes int         `json:"totalPauseMinutes"`
	Message           string      `json:"message"`
}

type ReturnView struct {
	RentalID     uuid.UUID             `json:"rentalId"`
	BikeID       uuid.UUID             `json:"bikeId"`
	EndTime      time.Time             `json:"endTime"`
	UsageMinutes int                   `json:"usageMinutes"`
	PauseMinutes int                   `json:"pauseMinutes"`
	Payment      *payment.PaymentView  `json:"payment"`
	BikeStatus   bike.Status           `json:"bikeStatus"`
	HiBikeStatus bike.HiBikeStatus     `json:"hiBikeStatus"`
	StationID    *uuid.UUID            `json:"stationId,omitempty"`
	StampInfo    *coupon.StampIssuance `json:"stampInfo,omitempty"`
	Message      string                `json:"message"`
}

type HiBikeView struct {
	RentalID     uuid.UUID         `json:"rentalId"`
	BikeID       uuid.UUID         `json:"bikeId"`
	BikeStatus   bike.Status       `json:"bikeStatus"`
	HiBikeStatus bike.HiBikeStatus `json:"hiBikeStatus"`
	Message      string            `json:"message"`
}

// ListFilter narrows a user's rental history.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}
