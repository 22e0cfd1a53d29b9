package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/coupon"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/store"

	"github.com/google/uuid"
)

type RentalService struct {
	store    store.Store
	ledger   *LoyaltyLedger
	hibike   *HiBikeService
	payments *PaymentService
	events   EventPublisher
	clock    Clock
	logger   *slog.Logger
}

func NewRentalService(
	s store.Store,
	ledger *LoyaltyLedger,
	hibike *HiBikeService,
	payments *PaymentService,
	events EventPublisher,
	clock Clock,
	logger *slog.Logger,
) *RentalService {
	return &RentalService{
		store:    s,
		ledger:   ledger,
		hibike:   hibike,
		payments: payments,
		events:   events,
		clock:    clock,
		logger:   logger,
	}
}

// Rent starts a rental on the bike behind qrCode. Renting an available
// HiBike closes and bills the previous rider's rental in the same unit of work.
func (s *RentalService) Rent(ctx context.Context, userID uuid.UUID, qrCode string) (*rental.RentalView, error) {
	qrCode = strings.TrimSpace(qrCode)
	if qrCode == "" {
		return nil, errs.WithMessage(errs.InvalidInput, "qrCode is required")
	}

	now := s.clock()
	var (
		r        *rental.Rental
		b        *bike.Bike
		transfer *Transfer
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return notFound(err, errs.UserNotFound, "user")
		}
		if err := checkUserStatus(u); err != nil {
			return err
		}

		b, err = tx.LockBikeByQRCode(ctx, qrCode)
		if err != nil {
			return notFound(err, errs.BikeNotFound, "bike")
		}
		if !b.Rentable() {
			return errs.WithMessage(errs.BikeNotAvailable, "bike is %s and cannot be rented", b.Status)
		}
		if b.BatteryLevel < bike.MinRentableBattery {
			return errs.WithMessage(errs.LowBattery, "bike battery is at %d%%, at least %d%% is required", b.BatteryLevel, bike.MinRentableBattery)
		}

		hasMethod, err := tx.HasActivePaymentMethod(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("failed to check payment methods: %w", err)
		}
		if !hasMethod {
			return errs.NoPaymentMethod
		}
		unfinished, err := tx.HasUnfinishedRental(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("failed to check unfinished rentals: %w", err)
		}
		if unfinished {
			return errs.ActiveRentalExists
		}

		if b.IsAvailableHiBike() {
			transfer, err = s.hibike.TransferOnSecondRent(ctx, tx, b, now)
			if err != nil {
				return err
			}
		}

		if err := moveBike(b, bike.StatusInUse, now); err != nil {
			return err
		}
		b.CurrentStationID = nil
		b.CurrentDockID = nil

		r = rental.New(u.ID, b.ID, now)
		if err := tx.InsertRental(ctx, r); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return errs.ConcurrentChange
			}
			return fmt.Errorf("failed to insert rental: %w", err)
		}
		return updateBike(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}

	rentalsStarted.Inc()
	s.logger.Info("rental started", "rental_id", r.ID, "user_id", userID, "bike_id", b.ID, "hibike_transfer", transfer != nil)

	started := newEvent(notification.EventRentalStarted, userID, r.ID, b.ID, now)
	started.Command = notification.CommandUnlock
	s.events.Publish(ctx, started)

	msg := "Rental started. Have a safe ride!"
	if transfer != nil {
		s.hibike.completeTransfer(ctx, transfer)
		msg = "HiBike rental started. Have a safe ride!"
	}

	return &rental.RentalView{
		RentalID:     r.ID,
		BikeID:       b.ID,
		StartTime:    r.StartTime,
		BikeStatus:   b.Status,
		HiBikeStatus: b.HiBikeStatus,
		Message:      msg,
	}, nil
}

func (s *RentalService) Pause(ctx context.Context, rentalID, userID uuid.UUID, lat, lon float64) (*rental.PauseView, error) {
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
		if b.Status == bike.StatusTemporaryLocked {
			return errs.BikeAlreadyLocked
		}
		if err := moveBike(b, bike.StatusTemporaryLocked, now); err != nil {
			return err
		}
		b.MoveTo(lat, lon)

		start := now
		r.LastPauseStartTime = &start
		r.UpdatedAt = now
		if err := tx.UpdateRental(ctx, r); err != nil {
			return fmt.Errorf("failed to update rental: %w", err)
		}
		return updateBike(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}

	paused := newEvent(notification.EventRentalPaused, userID, rentalID, sc.bike.ID, now)
	paused.Command = notification.CommandLock
	s.events.Publish(ctx, paused)

	return &rental.PauseView{
		RentalID:          rentalID,
		BikeStatus:        sc.bike.Status,
		PauseTime:         now,
		TotalPauseMinutes: sc.rental.PauseMinutes,
		Message:           "Bike locked. The rental keeps running while paused.",
	}, nil
}

// Resume ends the current pause. An outstanding HiBike offer is withdrawn.
func (s *RentalService) Resume(ctx context.Context, rentalID, userID uuid.UUID, lat, lon float64) (*rental.ResumeView, error) {
	if err := checkCoordinates(lat, lon); err != nil {
		return nil, err
	}

	now := s.clock()
	var (
		sc        *rentalScope
		cycle     int
		withdrawn bool
	)
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
		if b.Status != bike.StatusTemporaryLocked {
			return errs.BikeNotLocked
		}
		if !r.Paused() {
			return errs.BikeNotInPause
		}

		if b.HiBikeStatus == bike.HiBikeAvailableForRent {
			if err := moveHiBike(b, bike.HiBikeNone, now); err != nil {
				return err
			}
			withdrawn = true
		}
		if err := moveBike(b, bike.StatusInUse, now); err != nil {
			return err
		}
		b.MoveTo(lat, lon)

		cycle = r.FoldPause(now)
		r.UpdatedAt = now
		if err := tx.UpdateRental(ctx, r); err != nil {
			return fmt.Errorf("failed to update rental: %w", err)
		}
		return updateBike(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}

	resumed := newEvent(notification.EventRentalResumed, userID, rentalID, sc.bike.ID, now)
	resumed.Command = notification.CommandUnlock
	events := []*notification.Event{resumed}
	if withdrawn {
		events = append(events, newEvent(notification.EventHiBikeCancelled, userID, rentalID, sc.bike.ID, now))
	}
	s.events.Publish(ctx, events...)

	return &rental.ResumeView{
		RentalID:          rentalID,
		BikeStatus:        sc.bike.Status,
		ResumeTime:        now,
		PauseMinutes:      cycle,
		TotalPauseMinutes: sc.rental.PauseMinutes,
		Message:           "Bike unlocked. Enjoy the rest of your ride!",
	}, nil
}

// Return docks the bike, closes the rental and bills it. A payment failure
// does not undo the return: the view is returned alongside errs.PaymentFailed.
func (s *RentalService) Return(ctx context.Context, rentalID, userID uuid.UUID, req rental.ReturnRequest) (*rental.ReturnView, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return nil, errs.InvalidCoordinates
	}
	if err := checkCoordinates(*req.Latitude, *req.Longitude); err != nil {
		return nil, err
	}
	if req.StationID == uuid.Nil || req.DockID <= 0 {
		return nil, errs.WithMessage(errs.InvalidInput, "stationId and a positive dockId are required")
	}

	now := s.clock()
	var (
		sc    *rentalScope
		p     *payment.Payment
		stamp *coupon.StampIssuance
	)
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
		st, err := tx.GetStation(ctx, req.StationID)
		if err != nil {
			return notFound(err, errs.StationNotFound, "station")
		}
		if !st.Accepts(b.HomeHubID) {
			return errs.InvalidReturnHub
		}

		var cp *coupon.Coupon
		if req.CouponID != nil {
			cp, err = s.ledger.ReserveCoupon(ctx, tx, *req.CouponID, userID, now)
			if err != nil {
				return err
			}
		}

		transferred := b.HiBikeStatus == bike.HiBikeTransferred
		if err := moveBike(b, bike.StatusParked, now); err != nil {
			return err
		}
		if b.HiBikeStatus != bike.HiBikeNone {
			if err := moveHiBike(b, bike.HiBikeNone, now); err != nil {
				return err
			}
		}
		b.MoveTo(*req.Latitude, *req.Longitude)
		stationID, dockID := st.ID, req.DockID
		b.CurrentStationID = &stationID
		b.CurrentDockID = &dockID

		if err := r.Close(now); err != nil {
			return err
		}
		r.CouponApplied = cp != nil
		if err := tx.UpdateRental(ctx, r); err != nil {
			return fmt.Errorf("failed to update rental: %w", err)
		}
		if err := updateBike(ctx, tx, b); err != nil {
			return err
		}

		p, err = s.payments.CreateForRental(ctx, tx, r, cp, now)
		if err != nil {
			return err
		}

		if transferred {
			stamp, err = s.ledger.IssueStamp(ctx, tx, userID, r.ID, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r, b := sc.rental, sc.bike
	rentalsReturned.WithLabelValues("dock").Inc()
	s.payments.Settled(p)
	s.logger.Info("rental returned",
		"rental_id", r.ID, "user_id", userID, "bike_id", b.ID,
		"usage_minutes", r.UsageMinutes, "amount", p.Amount, "stamp", stamp != nil)

	s.events.Publish(ctx, s.returnEvents(r, stamp, now)...)

	view := &rental.ReturnView{
		RentalID:     r.ID,
		BikeID:       b.ID,
		EndTime:      *r.EndTime,
		UsageMinutes: r.UsageMinutes,
		PauseMinutes: r.PauseMinutes,
		BikeStatus:   b.Status,
		HiBikeStatus: b.HiBikeStatus,
		StationID:    b.CurrentStationID,
		StampInfo:    stamp,
		Message:      returnMessage(stamp),
	}

	var payErr error
	if p.Status == payment.StatusPending {
		settled, err := s.payments.Attempt(ctx, p.ID)
		if settled != nil {
			p = settled
		}
		payErr = err
	}
	view.Payment = payment.NewPaymentView(p)
	if payErr != nil {
		if !errors.Is(payErr, errs.PaymentFailed) {
			s.logger.Error("payment attempt after return failed", "payment_id", p.ID, "error", payErr)
			payErr = errs.Wrap(errs.PaymentFailed, payErr)
		}
		return view, payErr
	}
	return view, nil
}

func (s *RentalService) returnEvents(r *rental.Rental, stamp *coupon.StampIssuance, now time.Time) []*notification.Event {
	returned := newEvent(notification.EventRentalReturned, r.UserID, r.ID, r.BikeID, now)
	returned.Command = notification.CommandLock
	events := []*notification.Event{returned}
	if stamp == nil {
		return events
	}

	stamped := newEvent(notification.EventStampIssued, r.UserID, r.ID, r.BikeID, now)
	stamped.Data = map[string]any{"stampId": stamp.StampID.String(), "totalUnusedStamps": stamp.TotalUnusedStamps}
	events = append(events, stamped)

	if stamp.CouponIssued {
		issued := newEvent(notification.EventCouponIssued, r.UserID, r.ID, r.BikeID, now)
		issued.Title = "You earned a free ride coupon"
		issued.Body = fmt.Sprintf("%d stamps collected. Your %d minute coupon is valid for %d days.",
			coupon.StampsPerCoupon, coupon.DiscountMinutes, int(coupon.ValidFor.Hours()/24))
		issued.Data = map[string]any{"couponId": stamp.IssuedCouponID.String()}
		events = append(events, issued)
	}
	return events
}

func returnMessage(stamp *coupon.StampIssuance) string {
	msg := "Bike returned. Thank you for riding!"
	if stamp == nil {
		return msg
	}
	msg += " A stamp was added for your HiBike ride."
	if stamp.CouponIssued {
		msg += fmt.Sprintf(" %d stamps collected, a free ride coupon was issued.", coupon.StampsPerCoupon)
	}
	return msg
}

func (s *RentalService) GetRental(ctx context.Context, rentalID, userID uuid.UUID) (*rental.Rental, error) {
	r, err := s.store.GetRental(ctx, rentalID)
	if err != nil {
		return nil, notFound(err, errs.RentalNotFound, "rental")
	}
	if r.UserID != userID {
		return nil, errs.RentalNotOwned
	}
	return r, nil
}

func (s *RentalService) ListRentals(ctx context.Context, userID uuid.UUID, f rental.ListFilter) ([]rental.Rental, error) {
	f.Limit = clampLimit(f.Limit)
	f.Offset = max(0, f.Offset)
	rs, err := s.store.ListRentals(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list rentals: %w", err)
	}
	return rs, nil
}
