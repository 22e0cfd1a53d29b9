package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"domadoAPI/internal/coupon"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/gateway"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/store"

	"github.com/google/uuid"
)

const defaultGatewayTimeout = 10 * time.Second

type PaymentService struct {
	store   store.Store
	fees    *FeeCalculator
	ledger  *LoyaltyLedger
	gateway gateway.Gateway
	events  EventPublisher
	clock   Clock
	timeout time.Duration
	logger  *slog.Logger
}

func NewPaymentService(
	s store.Store,
	fees *FeeCalculator,
	ledger *LoyaltyLedger,
	gw gateway.Gateway,
	events EventPublisher,
	clock Clock,
	timeout time.Duration,
	logger *slog.Logger,
) *PaymentService {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &PaymentService{
		store:   s,
		fees:    fees,
		ledger:  ledger,
		gateway: gw,
		events:  events,
		clock:   clock,
		timeout: timeout,
		logger:  logger,
	}
}

// CreateForRental prices a closed rental and inserts its payment inside the
// caller's unit of work. Amounts below the gateway threshold are completed on
// the spot together with the coupon they consume.
func (s *PaymentService) CreateForRental(ctx context.Context, tx store.Tx, r *rental.Rental, cp *coupon.Coupon, now time.Time) (*payment.Payment, error) {
	if r.EndTime == nil {
		return nil, errs.WithMessage(errs.IllegalTransition, "rental %s is not closed", r.ID)
	}

	in := FeeInput{
		Start:        r.StartTime,
		End:          *r.EndTime,
		UsageMinutes: r.UsageMinutes,
		At:           now,
	}
	if cp != nil {
		in.CouponMinutes = cp.DiscountMinutes
	}
	fee := s.fees.Calculate(in)

	p := &payment.Payment{
		ID:             uuid.New(),
		UserID:         r.UserID,
		RentalID:       r.ID,
		Amount:         fee.FinalAmount,
		OriginalAmount: fee.OriginalAmount,
		DiscountAmount: fee.DiscountAmount,
		Status:         payment.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cp != nil {
		p.CouponID = &cp.ID
	}

	m, err := tx.DefaultPaymentMethod(ctx, r.UserID)
	switch {
	case err == nil:
		p.PaymentMethodID = &m.ID
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to load payment method: %w", err)
	}

	local := !s.fees.GatewayRequired(fee.FinalAmount)
	if local {
		if err := p.Complete(payment.NewTransactionID(now), now); err != nil {
			return nil, err
		}
	}

	if err := tx.InsertPayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errs.ConcurrentChange
		}
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	if local && cp != nil {
		if err := s.ledger.ConsumeCoupon(ctx, tx, cp.ID, p.ID, now); err != nil {
			return nil, err
		}
	}

	s.logger.Info("payment created",
		"payment_id", p.ID, "rental_id", r.ID, "amount", p.Amount,
		"original", p.OriginalAmount, "discount", p.DiscountAmount, "status", p.Status)
	return p, nil
}

// Settled must be called after the creating unit of work committed.
func (s *PaymentService) Settled(p *payment.Payment) {
	if p.Status == payment.StatusCompleted || p.Status == payment.StatusFailed {
		paymentsSettled.WithLabelValues(string(p.Status)).Inc()
	}
}

// Attempt charges a PENDING or FAILED payment through the gateway. A declined
// charge returns the failed payment together with errs.PaymentFailed.
func (s *PaymentService) Attempt(ctx context.Context, paymentID uuid.UUID) (*payment.Payment, error) {
	// A dropped client must not strand the payment in PROCESSING.
	ctx = context.WithoutCancel(ctx)

	var (
		p      *payment.Payment
		method *payment.Method
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.LockPayment(ctx, paymentID)
		if err != nil {
			return notFound(err, errs.PaymentNotFound, "payment")
		}
		if !payment.Retryable(p.Status) {
			return errs.WithMessage(errs.PaymentNotRetryable, "payment is %s", p.Status)
		}

		method, err = tx.DefaultPaymentMethod(ctx, p.UserID)
		switch {
		case err == nil:
			p.PaymentMethodID = &method.ID
		case errors.Is(err, store.ErrNotFound):
			method = nil
		default:
			return fmt.Errorf("failed to load payment method: %w", err)
		}

		if err := p.MoveTo(payment.StatusProcessing, s.clock()); err != nil {
			return errs.Wrap(errs.IllegalTransition, err)
		}
		p.Attempts++
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	res, chargeErr := s.gateway.Charge(chargeCtx, gateway.ChargeRequest{
		PaymentID: p.ID,
		UserID:    p.UserID,
		Amount:    p.Amount,
		Method:    method,
		Attempt:   p.Attempts,
	})
	cancel()

	if chargeErr == nil && res.Pending {
		if err := s.recordPending(ctx, p.ID, res.TransactionID); err != nil {
			return nil, err
		}
		s.logger.Info("payment pending at gateway", "payment_id", p.ID, "transaction_id", res.TransactionID)
		p.TransactionID = &res.TransactionID
		return p, nil
	}

	outcome := payment.GatewayEvent{PaymentID: p.ID, Succeeded: chargeErr == nil}
	if chargeErr == nil {
		outcome.TransactionID = res.TransactionID
	} else {
		outcome.Reason = failureReason(chargeErr)
		s.logger.Warn("payment charge failed", "payment_id", p.ID, "attempt", p.Attempts, "error", chargeErr)
	}

	settled, err := s.settle(ctx, outcome)
	if err != nil {
		return nil, err
	}
	if settled.Status == payment.StatusFailed {
		return settled, errs.WithMessage(errs.PaymentFailed, "payment failed: %s", deref(settled.FailureReason))
	}
	return settled, nil
}

// Retry starts a new gateway attempt for a payment the caller owns.
func (s *PaymentService) Retry(ctx context.Context, paymentID, userID uuid.UUID) (*payment.PaymentView, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, notFound(err, errs.PaymentNotFound, "payment")
	}
	if p.UserID != userID {
		return nil, errs.PaymentNotOwned
	}
	if !payment.Retryable(p.Status) {
		return nil, errs.WithMessage(errs.PaymentNotRetryable, "payment is %s", p.Status)
	}

	p, err = s.Attempt(ctx, paymentID)
	if p == nil {
		return nil, err
	}
	return payment.NewPaymentView(p), err
}

// HandleGatewayEvent reconciles an asynchronous gateway outcome. Events for
// payments that are no longer PROCESSING are ignored.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, ev payment.GatewayEvent) error {
	_, err := s.settle(ctx, ev)
	if errors.Is(err, errs.PaymentNotFound) {
		s.logger.Warn("gateway event for unknown payment", "payment_id", ev.PaymentID)
		return nil
	}
	return err
}

func (s *PaymentService) settle(ctx context.Context, ev payment.GatewayEvent) (*payment.Payment, error) {
	var (
		p       *payment.Payment
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.LockPayment(ctx, ev.PaymentID)
		if err != nil {
			return notFound(err, errs.PaymentNotFound, "payment")
		}
		if p.Status != payment.StatusProcessing {
			return nil
		}

		now := s.clock()
		if ev.Succeeded {
			if err := p.Complete(ev.TransactionID, now); err != nil {
				return errs.Wrap(errs.IllegalTransition, err)
			}
			if p.CouponID != nil {
				if err := s.ledger.ConsumeCoupon(ctx, tx, *p.CouponID, p.ID, now); err != nil {
					return err
				}
			}
		} else {
			if err := p.Fail(ev.Reason, now); err != nil {
				return errs.Wrap(errs.IllegalTransition, err)
			}
		}
		changed = true
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.Settled(p)
		s.publishOutcome(ctx, p)
	}
	return p, nil
}

func (s *PaymentService) recordPending(ctx context.Context, paymentID uuid.UUID, transactionID string) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return notFound(err, errs.PaymentNotFound, "payment")
		}
		if p.Status != payment.StatusProcessing {
			return nil
		}
		p.TransactionID = &transactionID
		p.UpdatedAt = s.clock()
		return tx.UpdatePayment(ctx, p)
	})
}

func (s *PaymentService) publishOutcome(ctx context.Context, p *payment.Payment) {
	evt := newEvent(notification.EventPaymentCompleted, p.UserID, p.RentalID, uuid.Nil, p.UpdatedAt)
	evt.Data = map[string]any{"paymentId": p.ID.String(), "amount": p.Amount}
	if p.Status == payment.StatusFailed {
		evt.Type = notification.EventPaymentFailed
		evt.Title = "Payment failed"
		evt.Body = fmt.Sprintf("We could not charge %d KRW for your ride. Please retry from the app.", p.Amount)
	}
	s.events.Publish(ctx, evt)
}

func (s *PaymentService) Get(ctx context.Context, paymentID, userID uuid.UUID) (*payment.PaymentView, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, notFound(err, errs.PaymentNotFound, "payment")
	}
	if p.UserID != userID {
		return nil, errs.PaymentNotOwned
	}
	return payment.NewPaymentView(p), nil
}

func (s *PaymentService) GetByRental(ctx context.Context, rentalID, userID uuid.UUID) (*payment.PaymentView, error) {
	r, err := s.store.GetRental(ctx, rentalID)
	if err != nil {
		return nil, notFound(err, errs.RentalNotFound, "rental")
	}
	if r.UserID != userID {
		return nil, errs.RentalNotOwned
	}
	p, err := s.store.GetPaymentByRental(ctx, rentalID)
	if err != nil {
		return nil, notFound(err, errs.PaymentNotFound, "payment")
	}
	return payment.NewPaymentView(p), nil
}

func (s *PaymentService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]payment.PaymentView, error) {
	ps, err := s.store.ListPayments(ctx, userID, clampLimit(limit), max(0, offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	views := make([]payment.PaymentView, 0, len(ps))
	for i := range ps {
		views = append(views, *payment.NewPaymentView(&ps[i]))
	}
	return views, nil
}

// SweepStale settles payments left unsettled past olderThan. PENDING payments
// whose post-commit attempt never ran are charged; PROCESSING payments whose
// outcome was never recorded are reconciled.
func (s *PaymentService) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.ListStalePayments(ctx, s.clock().Add(-olderThan), 50)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale payments: %w", err)
	}
	swept := 0
	for i := range stale {
		if ctx.Err() != nil {
			break
		}
		p := &stale[i]
		if p.Status == payment.StatusProcessing {
			settled, err := s.reconcile(ctx, p)
			if err != nil {
				s.logger.Error("stale payment reconcile failed", "payment_id", p.ID, "error", err)
				continue
			}
			if settled {
				swept++
			}
			continue
		}
		if _, err := s.Attempt(ctx, p.ID); err != nil && !errors.Is(err, errs.PaymentFailed) {
			s.logger.Error("stale payment attempt failed", "payment_id", p.ID, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

// reconcile settles a PROCESSING payment from the gateway's current view of
// its charge. Without a charge to look up the payment is failed, which makes
// it retryable.
func (s *PaymentService) reconcile(ctx context.Context, p *payment.Payment) (bool, error) {
	ev := payment.GatewayEvent{PaymentID: p.ID, Reason: "gateway outcome unknown"}

	rec, ok := s.gateway.(gateway.Reconciler)
	if ok && p.TransactionID != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := rec.Lookup(lookupCtx, *p.TransactionID)
		cancel()

		var declined *gateway.DeclinedError
		switch {
		case err == nil && res.Pending:
			s.logger.Info("payment still pending at gateway", "payment_id", p.ID, "transaction_id", *p.TransactionID)
			return false, nil
		case err == nil:
			ev.Succeeded = true
			ev.TransactionID = res.TransactionID
		case errors.As(err, &declined):
			ev.Reason = declined.Reason
		default:
			return false, fmt.Errorf("failed to look up charge: %w", err)
		}
	}

	settled, err := s.settle(ctx, ev)
	if err != nil {
		return false, err
	}
	s.logger.Warn("stale payment reconciled", "payment_id", p.ID, "status", settled.Status)
	return settled.Status != payment.StatusProcessing, nil
}

// failureReason turns a gateway error into a message safe to store and show.
func failureReason(err error) string {
	var declined *gateway.DeclinedError
	switch {
	case errors.As(err, &declined):
		return declined.Reason
	case errors.Is(err, gateway.ErrNoPaymentMethod):
		return "no active payment method"
	case errors.Is(err, context.DeadlineExceeded):
		return "payment gateway timed out"
	}
	return "payment gateway error"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return min(limit, 100)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
