package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/store"

	"github.com/google/uuid"
)

// HiBikeService lets a paused rider offer the bike to someone else. When a
// second rider rents it, the first rental is closed and billed.
type HiBikeService struct {
	store    store.Store
	payments *PaymentService
	events   EventPublisher
	clock    Clock
	logger   *slog.Logger

	// charges tracks transfer payments still at the gateway.
	charges sync.WaitGroup
}

func NewHiBikeService(s store.Store, payments *PaymentService, events EventPublisher, clock Clock, logger *slog.Logger) *HiBikeService {
	return &HiBikeService{
		store:    s,
		payments: payments,
		events:   events,
		clock:    clock,
		logger:   logger,
	}
}

// Transfer is the outcome of a second rent on an available HiBike.
type Transfer struct {
	Previous *rental.Rental
	Payment  *payment.Payment
}

func (s *HiBikeService) MakeHiBike(ctx context.Context, rentalID, userID uuid.UUID, lat, lon float64) (*rental.HiBikeView, error) {
	if err := checkCoordinates(lat, lon); err != nil {
		return nil, err
	}

	now := s.clock()
	var sc *rentalScope
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sc, err = lockRentalScope(ctx, tx, rentalID, userID)
		if err != nil {
			return err
		}
		r, b := sc.rental, sc.bike

		if r.Status != rental.StatusInProgress {
			return errs.RentalNotInProgress
		}
		if b.Status != bike.StatusTemporaryLocked || !r.Paused() {
			return errs.WithMessage(errs.BikeNotLocked, "bike must be paused before it can be offered as a HiBike")
		}
		if b.HiBikeStatus != bike.HiBikeNone {
			return errs.AlreadyHiBike
		}
		if err := moveHiBike(b, bike.HiBikeAvailableForRent, now); err != nil {
			return err
		}
		b.MoveTo(lat, lon)
		return updateBike(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("hibike offered", "rental_id", rentalID, "bike_id", sc.bike.ID)
	s.events.Publish(ctx, newEvent(notification.EventHiBikeAvailable, userID, rentalID, sc.bike.ID, now))

	return &rental.HiBikeView{
		RentalID:     rentalID,
		BikeID:       sc.bike.ID,
		BikeStatus:   sc.bike.Status,
		HiBikeStatus: sc.bike.HiBikeStatus,
		Message:      "Your bike is now offered as a HiBike. You will be charged until someone else rents it.",
	}, nil
}

// CancelHiBike withdraws the offer. The bike position is refreshed only when
// both coordinates are given.
func (s *HiBikeService) CancelHiBike(ctx context.Context, rentalID, userID uuid.UUID, lat, lon *float64) (*rental.HiBikeView, error) {
	if (lat == nil) != (lon == nil) {
		return nil, errs.InvalidCoordinates
	}
	if lat != nil {
		if err := checkCoordinates(*lat, *lon); err != nil {
			return nil, err
		}
	}

	now := s.clock()
	var sc *rentalScope
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sc, err = lockRentalScope(ctx, tx, rentalID, userID)
		if err != nil {
			return err
		}
		r, b := sc.rental, sc.bike

		if r.Status != rental.StatusInProgress {
			return errs.RentalNotInProgress
		}
		if b.HiBikeStatus != bike.HiBikeAvailableForRent {
			return errs.NotHiBike
		}
		if err := moveHiBike(b, bike.HiBikeNone, now); err != nil {
			return err
		}
		if lat != nil {
			b.MoveTo(*lat, *lon)
		}
		return updateBike(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, newEvent(notification.EventHiBikeCancelled, userID, rentalID, sc.bike.ID, now))

	return &rental.HiBikeView{
		RentalID:     rentalID,
		BikeID:       sc.bike.ID,
		BikeStatus:   sc.bike.Status,
		HiBikeStatus: sc.bike.HiBikeStatus,
		Message:      "HiBike offer withdrawn.",
	}, nil
}

// TransferOnSecondRent closes and bills the open rental of an available
// HiBike. The caller holds the bike lock and persists b afterwards.
func (s *HiBikeService) TransferOnSecondRent(ctx context.Context, tx store.Tx, b *bike.Bike, now time.Time) (*Transfer, error) {
	prev, err := tx.LockOpenRentalByBike(ctx, b.ID)
	if errors.Is(err, store.ErrNotFound) {
		integrityViolations.WithLabelValues(string(errs.CodeHiBikeRentalMissing)).Inc()
		s.logger.Error("available hibike has no open rental", "bike_id", b.ID)
		return nil, errs.HiBikeRentalMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock hibike rental: %w", err)
	}

	if err := prev.Close(now); err != nil {
		return nil, err
	}
	if err := tx.UpdateRental(ctx, prev); err != nil {
		return nil, fmt.Errorf("failed to close hibike rental: %w", err)
	}

	p, err := s.payments.CreateForRental(ctx, tx, prev, nil, now)
	if err != nil {
		return nil, err
	}

	if err := moveHiBike(b, bike.HiBikeTransferred, now); err != nil {
		return nil, err
	}
	return &Transfer{Previous: prev, Payment: p}, nil
}

// completeTransfer runs the post-commit side of a transfer.
func (s *HiBikeService) completeTransfer(ctx context.Context, t *Transfer) {
	hiBikeTransfers.Inc()
	rentalsReturned.WithLabelValues("hibike").Inc()
	s.payments.Settled(t.Payment)

	evt := newEvent(notification.EventHiBikeTransferred, t.Previous.UserID, t.Previous.ID, t.Previous.BikeID, *t.Previous.EndTime)
	evt.Title = "Your HiBike was picked up"
	evt.Body = fmt.Sprintf("Your rental ended after %d minutes. %d KRW will be charged.", t.Previous.UsageMinutes, t.Payment.Amount)
	evt.Data = map[string]any{"paymentId": t.Payment.ID.String(), "amount": t.Payment.Amount}
	s.events.Publish(ctx, evt)

	if t.Payment.Status != payment.StatusPending {
		return
	}

	// The previous rider is charged off the second rider's request.
	chargeCtx := context.WithoutCancel(ctx)
	paymentID := t.Payment.ID
	s.charges.Add(1)
	go func() {
		defer s.charges.Done()
		if _, err := s.payments.Attempt(chargeCtx, paymentID); err != nil {
			s.logger.Warn("hibike payment attempt failed", "payment_id", paymentID, "error", err)
		}
	}()
}

// Wait blocks until every transfer charge started so far has settled or failed.
func (s *HiBikeService) Wait() { s.charges.Wait() }

func updateBike(ctx context.Context, tx store.Tx, b *bike.Bike) error {
	if !b.Consistent() {
		integrityViolations.WithLabelValues(string(errs.CodeIllegalTransition)).Inc()
		return errs.WithMessage(errs.IllegalTransition, "bike %s would be left %s with hibike status %s", b.ID, b.Status, b.HiBikeStatus)
	}
	if err := tx.UpdateBike(ctx, b); err != nil {
		return fmt.Errorf("failed to update bike: %w", err)
	}
	return nil
}
