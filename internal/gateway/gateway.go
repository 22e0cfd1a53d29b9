package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"domadoAPI/internal/payment"

	"github.com/google/uuid"
)

var ErrNoPaymentMethod = errors.New("gateway: no active payment method")

type ChargeRequest struct {
	PaymentID uuid.UUID
	UserID    uuid.UUID
	Amount    int
	Method    *payment.Method
	Attempt   int
}

// IdempotencyKey is unique per payment attempt.
func (r ChargeRequest) IdempotencyKey() string {
	return fmt.Sprintf("%s-%d", r.PaymentID, r.Attempt)
}

type ChargeResult struct {
	TransactionID string
	// Pending is set when the gateway accepted the charge but reports the
	// outcome asynchronously.
	Pending bool
}

// DeclinedError is a definitive refusal by the gateway.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string { return "gateway declined: " + e.Reason }

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// Reconciler reports the current outcome of an earlier charge. Lookup answers
// like Charge: a Pending result while the gateway is still deciding, a
// DeclinedError once it refused.
type Reconciler interface {
	Lookup(ctx context.Context, transactionID string) (*ChargeResult, error)
}

// NoopGateway accepts every charge. Used in development.
type NoopGateway struct{}

func (NoopGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Method == nil {
		return nil, ErrNoPaymentMethod
	}
	return &ChargeResult{TransactionID: payment.NewTransactionID(time.Now())}, nil
}

func (NoopGateway) Lookup(ctx context.Context, transactionID string) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ChargeResult{TransactionID: transactionID}, nil
}
