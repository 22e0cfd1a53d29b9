package coupon

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusUsed    Status = "USED"
	StatusExpired Status = "EXPIRED"
)

const (
	StampsPerCoupon = 5
	DiscountMinutes = 30
	ValidFor        = 30 * 24 * time.Hour
)

type Coupon struct {
	ID              uuid.UUID  `json:"couponId" db:"id"`
	UserID          uuid.UUID  `json:"userId" db:"user_id"`
	DiscountMinutes int        `json:"discountMinutes" db:"discount_minutes"`
	Status          Status     `json:"status" db:"status"`
	ExpireDate      time.Time  `json:"expireDate" db:"expire_date"`
	UsedAt          *time.Time `json:"usedAt,omitempty" db:"used_at"`
	UsedPaymentID   *uuid.UUID `json:"usedPaymentId,omitempty" db:"used_payment_id"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
}

// Usable reports whether c can be applied to a payment at now.
func (c *Coupon) Usable(userID uuid.UUID, now time.Time) bool {
	return c.UserID == userID && c.Status == StatusActive && c.ExpireDate.After(now)
}

type Stamp struct {
	ID                uuid.UUID  `json:"stampId" db:"id"`
	UserID            uuid.UUID  `json:"userId" db:"user_id"`
	RentalID          uuid.UUID  `json:"rentalId" db:"rental_id"`
	IsUsed            bool       `json:"isUsed" db:"is_used"`
	ExchangedCouponID *uuid.UUID `json:"exchangedCouponId,omitempty" db:"exchanged_coupon_id"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
}

// StampIssuance summarises a stamp award for the return response.
type StampIssuance struct {
	Issued            bool       `json:"isIssued"`
	StampID           uuid.UUID  `json:"stampId"`
	TotalUnusedStamps int        `json:"totalUnusedStamps"`
	CouponIssued      bool       `json:"couponIssued"`
	IssuedCouponID    *uuid.UUID `json:"issuedCouponId,omitempty"`
}
