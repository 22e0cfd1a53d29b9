package rental

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInProgress    Status = "IN_PROGRESS"
	StatusPaused        Status = "PAUSED"
	StatusCompleted     Status = "COMPLETED"
	StatusOverdue       Status = "OVERDUE"
	StatusForciblyEnded Status = "FORCIBLY_ENDED"
)

type Rental struct {
	ID                 uuid.UUID  `json:"rentalId" db:"id"`
	UserID             uuid.UUID  `json:"userId" db:"user_id"`
	BikeID             uuid.UUID  `json:"bikeId" db:"bike_id"`
	StartTime          time.Time  `json:"startTime" db:"start_time"`
	EndTime            *time.Time `json:"endTime,omitempty" db:"end_time"`
	UsageMinutes       int        `json:"usageMinutes" db:"usage_minutes"`
	PauseMinutes       int        `json:"pauseMinutes" db:"pause_minutes"`
	LastPauseStartTime *time.Time `json:"lastPauseStartTime,omitempty" db:"last_pause_start_time"`
	Status             Status     `json:"status" db:"status"`
	CouponApplied      bool       `json:"couponApplied" db:"coupon_applied"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time  `json:"updatedAt" db:"updated_at"`
}

func New(userID, bikeID uuid.UUID, now time.Time) *Rental {
	return &Rental{
		ID:        uuid.New(),
		UserID:    userID,
		BikeID:    bikeID,
		StartTime: now,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Rental) Paused() bool { return r.LastPauseStartTime != nil }

// FoldPause adds the current pause cycle, truncated to whole minutes, to
// PauseMinutes and clears the pause marker. It returns the cycle's minutes.
func (r *Rental) FoldPause(now time.Time) int {
	if r.LastPauseStartTime == nil {
		return 0
	}
	cycle := WholeMinutes(*r.LastPauseStartTime, now)
	r.PauseMinutes += cycle
	r.LastPauseStartTime = nil
	return cycle
}

// Close folds any open pause and ends the rental at now.
func (r *Rental) Close(now time.Time) error {
	if !CanTransition(r.Status, StatusCompleted) {
		return illegal(r.Status, StatusCompleted)
	}
	r.FoldPause(now)
	end := now
	r.EndTime = &end
	r.UsageMinutes = WholeMinutes(r.StartTime, now)
	r.Status = StatusCompleted
	r.UpdatedAt = now
	return nil
}

// WholeMinutes is the truncated number of minutes between from and to.
func WholeMinutes(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
