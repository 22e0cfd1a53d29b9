package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway confirms an off-session PaymentIntent against the rider's
// saved card. Amounts are KRW, a zero-decimal currency.
type StripeGateway struct {
	client *client.API
	logger *slog.Logger
}

func NewStripeGateway(secretKey string, logger *slog.Logger) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{client: sc, logger: logger}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Method == nil {
		return nil, ErrNoPaymentMethod
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(req.Amount)),
		Currency:      stripe.String(string(stripe.CurrencyKRW)),
		Customer:      stripe.String(req.Method.ProviderCustomer),
		PaymentMethod: stripe.String(req.Method.ProviderMethod),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey())
	params.AddMetadata("payment_id", req.PaymentID.String())
	params.AddMetadata("user_id", req.UserID.String())

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return nil, &DeclinedError{Reason: stripeErr.Msg}
		}
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	g.logger.Debug("stripe payment intent", "payment_id", req.PaymentID, "intent", pi.ID, "status", pi.Status)
	return intentResult(pi)
}

func (g *StripeGateway) Lookup(ctx context.Context, transactionID string) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.client.PaymentIntents.Get(transactionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	g.logger.Debug("stripe payment intent lookup", "intent", pi.ID, "status", pi.Status)
	return intentResult(pi)
}

func intentResult(pi *stripe.PaymentIntent) (*ChargeResult, error) {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &ChargeResult{TransactionID: pi.ID}, nil
	case stripe.PaymentIntentStatusProcessing:
		return &ChargeResult{TransactionID: pi.ID, Pending: true}, nil
	default:
		return nil, &DeclinedError{Reason: fmt.Sprintf("payment intent %s", pi.Status)}
	}
}
