package payment

import (
	"time"

	"github.com/google/uuid"
)

type PaymentView struct {
	PaymentID      uuid.UUID  `json:"paymentId"`
	RentalID       uuid.UUID  `json:"rentalId"`
	Amount         int        `json:"amount"`
	OriginalAmount int        `json:"originalAmount"`
	DiscountAmount int        `json:"discountAmount"`
	Status         Status     `json:"status"`
	TransactionID  *string    `json:"transactionId,omitempty"`
	FailureReason  *string    `json:"failureReason,omitempty"`
	CouponID       *uuid.UUID `json:"couponId,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func NewPaymentView(p *Payment) *PaymentView {
	return &PaymentView{
		PaymentID:      p.ID,
		RentalID:       p.RentalID,
		Amount:         p.Amount,
		OriginalAmount: p.OriginalAmount,
		DiscountAmount: p.DiscountAmount,
		Status:         p.Status,
		TransactionID:  p.TransactionID,
		FailureReason:  p.FailureReason,
		CouponID:       p.CouponID,
		UpdatedAt:      p.UpdatedAt,
	}
}

// GatewayEvent is an asynchronous charge outcome reported by the gateway.
type GatewayEvent struct {
	PaymentID     uuid.UUID
	Succeeded     bool
	TransactionID string
	Reason        string
}
