package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

type Payment struct {
	ID              uuid.UUID  `json:"paymentId" db:"id"`
	UserID          uuid.UUID  `json:"userId" db:"user_id"`
	RentalID        uuid.UUID  `json:"rentalId" db:"rental_id"`
	PaymentMethodID *uuid.UUID `json:"paymentMethodId,omitempty" db:"payment_method_id"`
	Amount          int        `json:"amount" db:"amount"`
	OriginalAmount  int        `json:"originalAmount" db:"original_amount"`
	DiscountAmount  int        `json:"discountAmount" db:"discount_amount"`
	Status          Status     `json:"status" db:"status"`
	TransactionID   *string    `json:"transactionId,omitempty" db:"transaction_id"`
	FailureReason   *string    `json:"failureReason,omitempty" db:"failure_reason"`
	CouponID        *uuid.UUID `json:"couponId,omitempty" db:"coupon_id"`
	Attempts        int        `json:"attempts" db:"attempts"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

// MoveTo applies a status transition checked against the payment table.
func (p *Payment) MoveTo(to Status, now time.Time) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("payment %s cannot move from %s to %s", p.ID, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Complete(transactionID string, now time.Time) error {
	if err := p.MoveTo(StatusCompleted, now); err != nil {
		return err
	}
	p.TransactionID = &transactionID
	p.FailureReason = nil
	return nil
}

func (p *Payment) Fail(reason string, now time.Time) error {
	if err := p.MoveTo(StatusFailed, now); err != nil {
		return err
	}
	p.FailureReason = &reason
	return nil
}

// NewTransactionID builds a locally issued transaction reference for payments
// that never reach the gateway.
func NewTransactionID(now time.Time) string {
	return "TR" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + fmt.Sprint(now.UnixMilli())
}

type MethodStatus string

const (
	MethodActive   MethodStatus = "ACTIVE"
	MethodInactive MethodStatus = "INACTIVE"
	MethodExpired  MethodStatus = "EXPIRED"
)

// Method is a stored card reference. Card details live with the provider.
type Method struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	UserID           uuid.UUID    `json:"userId" db:"user_id"`
	ProviderCustomer string       `json:"-" db:"provider_customer_id"`
	ProviderMethod   string       `json:"-" db:"provider_method_id"`
	CardLast4        string       `json:"cardLast4" db:"card_last4"`
	Status           MethodStatus `json:"status" db:"status"`
	IsDefault        bool         `json:"isDefault" db:"is_default"`
	CreatedAt        time.Time    `json:"createdAt" db:"created_at"`
}
