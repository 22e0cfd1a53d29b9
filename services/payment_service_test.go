package services

import (
	"context"
	"testing"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/coupon"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/gateway"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// declineFirst declines the first n charges and approves the rest.
func declineFirst(n int) func(context.Context, gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	calls := 0
	return func(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		calls++
		if calls <= n {
			return nil, &gateway.DeclinedError{Reason: "card declined"}
		}
		return &gateway.ChargeResult{TransactionID: "pi_" + req.IdempotencyKey()}, nil
	}
}

func returnAfter(t *testing.T, f *fixture, userID uuid.UUID, ride time.Duration, couponID *uuid.UUID) (*rental.ReturnView, error) {
	t.Helper()
	view := f.rent(t, userID, "QR-1")
	f.clock.Advance(ride)
	req := f.returnRequest()
	req.CouponID = couponID
	return f.rentals.Return(context.Background(), view.RentalID, userID, req)
}

func TestDeclinedPaymentKeepsTheReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	f.gateway.charge = declineFirst(1)
	userID := f.addUser(t)
	bikeID := f.addBike(t, "QR-1", 80)

	ret, err := returnAfter(t, f, userID, 10*time.Minute, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.PaymentFailed)
	assert.Contains(t, errs.MessageOf(err), "card declined")

	require.NotNil(t, ret)
	assert.Equal(t, payment.StatusFailed, ret.Payment.Status)
	require.NotNil(t, ret.Payment.FailureReason)
	assert.Equal(t, "card declined", *ret.Payment.FailureReason)
	assert.Equal(t, rental.StatusCompleted, f.rental(t, ret.RentalID).Status)
	assert.Equal(t, bike.StatusParked, f.bike(t, bikeID).Status)

	failed := f.events.Find(notification.EventPaymentFailed)
	require.NotNil(t, failed)
	assert.True(t, failed.Pushable())

	retried, err := f.payments.Retry(ctx, ret.Payment.PaymentID, userID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, retried.Status)
	assert.Nil(t, retried.FailureReason)

	p, err := f.store.GetPayment(ctx, ret.Payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Attempts)
	require.NotNil(t, p.TransactionID)
	assert.Equal(t, "pi_"+p.ID.String()+"-2", *p.TransactionID)

	_, err = f.payments.Retry(ctx, p.ID, userID)
	assert.ErrorIs(t, err, errs.PaymentNotRetryable)
}

func TestRetryOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	f.gateway.charge = declineFirst(1)
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)

	ret, err := returnAfter(t, f, userID, 10*time.Minute, nil)
	require.ErrorIs(t, err, errs.PaymentFailed)

	_, err = f.payments.Retry(ctx, ret.Payment.PaymentID, f.addUser(t))
	assert.ErrorIs(t, err, errs.PaymentNotOwned)

	_, err = f.payments.Retry(ctx, uuid.New(), userID)
	assert.ErrorIs(t, err, errs.PaymentNotFound)
}

func TestGatewayTimeoutFailsThePayment(t *testing.T) {
	f := newFixture(t, at(10, 0))
	f.payments.timeout = 20 * time.Millisecond
	f.gateway.charge = func(ctx context.Context, _ gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)

	ret, err := returnAfter(t, f, userID, 10*time.Minute, nil)
	assert.ErrorIs(t, err, errs.PaymentFailed)
	require.NotNil(t, ret)
	assert.Equal(t, payment.StatusFailed, ret.Payment.Status)
	require.NotNil(t, ret.Payment.FailureReason)
	assert.Equal(t, "payment gateway timed out", *ret.Payment.FailureReason)
}

func TestCancelledRequestStillSettles(t *testing.T) {
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)
	view := f.rent(t, userID, "QR-1")
	f.clock.Advance(10 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.charge = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &gateway.ChargeResult{TransactionID: "pi_" + req.IdempotencyKey()}, nil
	}

	ret, err := f.rentals.Return(ctx, view.RentalID, userID, f.returnRequest())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, ret.Payment.Status)
}

func TestPendingChargeSettledByGatewayEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	f.gateway.charge = func(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
		return &gateway.ChargeResult{TransactionID: "pi_async", Pending: true}, nil
	}
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)

	ret, err := returnAfter(t, f, userID, 10*time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, ret.Payment.Status)
	require.NotNil(t, ret.Payment.TransactionID)
	assert.Equal(t, "pi_async", *ret.Payment.TransactionID)
	assert.Nil(t, f.events.Find(notification.EventPaymentCompleted))

	ev := payment.GatewayEvent{PaymentID: ret.Payment.PaymentID, Succeeded: true, TransactionID: "pi_async"}
	require.NoError(t, f.payments.HandleGatewayEvent(ctx, ev))

	p, err := f.store.GetPayment(ctx, ret.Payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.NotNil(t, f.events.Find(notification.EventPaymentCompleted))

	// Redelivery and late failures are ignored.
	require.NoError(t, f.payments.HandleGatewayEvent(ctx, ev))
	require.NoError(t, f.payments.HandleGatewayEvent(ctx, payment.GatewayEvent{PaymentID: p.ID, Reason: "late"}))
	p, err = f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)

	assert.NoError(t, f.payments.HandleGatewayEvent(ctx, payment.GatewayEvent{PaymentID: uuid.New(), Succeeded: true}))
}

func TestCouponConsumedOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	f.gateway.charge = declineFirst(1)
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)
	couponID := uuid.New()
	f.store.SeedCoupon(coupon.Coupon{
		ID:              couponID,
		UserID:          userID,
		DiscountMinutes: coupon.DiscountMinutes,
		Status:          coupon.StatusActive,
		ExpireDate:      at(10, 0).Add(coupon.ValidFor),
		CreatedAt:       at(10, 0),
	})

	ret, err := returnAfter(t, f, userID, 40*time.Minute, &couponID)
	require.ErrorIs(t, err, errs.PaymentFailed)
	require.NotNil(t, ret.Payment.CouponID)

	cs, err := f.coupons.ListCoupons(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, coupon.StatusActive, cs[0].Status)

	// While the failed payment holds it, the coupon cannot go on another ride.
	_, err = returnAfter(t, f, userID, 5*time.Minute, &couponID)
	assert.ErrorIs(t, err, errs.InvalidCoupon)

	_, err = f.payments.Retry(ctx, ret.Payment.PaymentID, userID)
	require.NoError(t, err)

	cs, err = f.coupons.ListCoupons(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusUsed, cs[0].Status)
	require.NotNil(t, cs[0].UsedPaymentID)
	assert.Equal(t, ret.Payment.PaymentID, *cs[0].UsedPaymentID)
}

func TestSweepStaleRetriesPendingPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)

	stale := &payment.Payment{
		ID:        uuid.New(),
		UserID:    userID,
		RentalID:  uuid.New(),
		Amount:    400,
		Status:    payment.StatusPending,
		CreatedAt: at(9, 0),
		UpdatedAt: at(9, 0),
	}
	fresh := &payment.Payment{
		ID:        uuid.New(),
		UserID:    userID,
		RentalID:  uuid.New(),
		Amount:    400,
		Status:    payment.StatusPending,
		CreatedAt: at(9, 58),
		UpdatedAt: at(9, 58),
	}
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertPayment(ctx, stale); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, fresh)
	}))

	n, err := f.payments.SweepStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := f.store.GetPayment(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.Equal(t, 1, p.Attempts)

	p, err = f.store.GetPayment(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
}

func TestSweepReconcilesPendingChargeWithoutWebhook(t *testing.T) {
	tests := []struct {
		name    string
		lookup  func(context.Context, string) (*gateway.ChargeResult, error)
		status  payment.Status
		swept   int
		reason  string
		retried bool
	}{
		{
			name:   "gateway settled the charge",
			status: payment.StatusCompleted,
			swept:  1,
		},
		{
			name: "gateway refused the charge",
			lookup: func(context.Context, string) (*gateway.ChargeResult, error) {
				return nil, &gateway.DeclinedError{Reason: "payment intent canceled"}
			},
			status:  payment.StatusFailed,
			swept:   1,
			reason:  "payment intent canceled",
			retried: true,
		},
		{
			name: "gateway still processing",
			lookup: func(_ context.Context, id string) (*gateway.ChargeResult, error) {
				return &gateway.ChargeResult{TransactionID: id, Pending: true}, nil
			},
			status: payment.StatusProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, at(10, 0))
			f.gateway.charge = func(context.Context, gateway.ChargeRequest) (*gateway.ChargeResult, error) {
				return &gateway.ChargeResult{TransactionID: "pi_async", Pending: true}, nil
			}
			f.gateway.lookup = tt.lookup
			userID := f.addUser(t)
			f.addBike(t, "QR-1", 80)

			ret, err := returnAfter(t, f, userID, 10*time.Minute, nil)
			require.NoError(t, err)
			require.Equal(t, payment.StatusProcessing, ret.Payment.Status)

			// No webhook arrives.
			f.clock.Advance(48 * time.Hour)
			n, err := f.payments.SweepStale(ctx, 10*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.swept, n)
			assert.Equal(t, []string{"pi_async"}, f.gateway.lookups)

			p, err := f.store.GetPayment(ctx, ret.Payment.PaymentID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, p.Status)
			if tt.reason != "" {
				require.NotNil(t, p.FailureReason)
				assert.Equal(t, tt.reason, *p.FailureReason)
			}

			if tt.retried {
				f.gateway.charge = nil
				view, err := f.payments.Retry(ctx, p.ID, userID)
				require.NoError(t, err)
				assert.Equal(t, payment.StatusCompleted, view.Status)
			}
		})
	}
}

func TestSweepFailsProcessingPaymentWithUnknownOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)

	// The charge went out but its outcome was never written back.
	lost := &payment.Payment{
		ID:        uuid.New(),
		UserID:    userID,
		RentalID:  uuid.New(),
		Amount:    400,
		Status:    payment.StatusProcessing,
		Attempts:  1,
		CreatedAt: at(9, 0),
		UpdatedAt: at(9, 0),
	}
	inFlight := &payment.Payment{
		ID:        uuid.New(),
		UserID:    userID,
		RentalID:  uuid.New(),
		Amount:    400,
		Status:    payment.StatusProcessing,
		Attempts:  1,
		CreatedAt: at(9, 59),
		UpdatedAt: at(9, 59),
	}
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertPayment(ctx, lost); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, inFlight)
	}))

	_, err := f.payments.Retry(ctx, lost.ID, userID)
	assert.ErrorIs(t, err, errs.PaymentNotRetryable)

	n, err := f.payments.SweepStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.gateway.lookups)

	p, err := f.store.GetPayment(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "gateway outcome unknown", *p.FailureReason)
	assert.NotNil(t, f.events.Find(notification.EventPaymentFailed))

	view, err := f.payments.Retry(ctx, lost.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, view.Status)

	p, err = f.store.GetPayment(ctx, inFlight.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, p.Status)
}

func TestListPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)

	for _i := 0; _i < 3; _i++ {
		_, err := returnAfter(t, f, userID, 10*time.Minute, nil)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	views, err := f.payments.List(ctx, userID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, views, 2)

	views, err = f.payments.List(ctx, userID, 0, 2)
	require.NoError(t, err)
	assert.Len(t, views, 1)

	other, err := f.payments.List(ctx, f.addUser(t), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}
