package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"domadoAPI/internal/coupon"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/store"

	"github.com/google/uuid"
)

// LoyaltyLedger owns the stamp pool and coupon inventory of each user. All
// methods taking a store.Tx expect the caller to hold the user's row lock.
type LoyaltyLedger struct {
	logger *slog.Logger
}

func NewLoyaltyLedger(logger *slog.Logger) *LoyaltyLedger {
	return &LoyaltyLedger{logger: logger}
}

// IssueStamp records a stamp for rentalID and exchanges the oldest stamps for
// a coupon when the unused count lands on a multiple of StampsPerCoupon.
func (l *LoyaltyLedger) IssueStamp(ctx context.Context, tx store.Tx, userID, rentalID uuid.UUID, now time.Time) (*coupon.StampIssuance, error) {
	unused, err := tx.LockUnusedStamps(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stamps: %w", err)
	}

	stamp := &coupon.Stamp{
		ID:        uuid.New(),
		UserID:    userID,
		RentalID:  rentalID,
		CreatedAt: now,
	}
	if err := tx.InsertStamp(ctx, stamp); err != nil {
		return nil, fmt.Errorf("failed to insert stamp: %w", err)
	}
	unused = append(unused, *stamp)
	stampsIssued.Inc()

	info := &coupon.StampIssuance{
		Issued:            true,
		StampID:           stamp.ID,
		TotalUnusedStamps: len(unused),
	}

	c, err := l.maybeIssueCoupon(ctx, tx, userID, unused, now)
	if err != nil {
		return nil, err
	}
	if c != nil {
		info.CouponIssued = true
		info.IssuedCouponID = &c.ID
		info.TotalUnusedStamps -= coupon.StampsPerCoupon
	}

	l.logger.Info("stamp issued",
		"user_id", userID, "rental_id", rentalID, "stamp_id", stamp.ID,
		"unused", info.TotalUnusedStamps, "coupon_issued", info.CouponIssued)
	return info, nil
}

// maybeIssueCoupon expects unused ordered oldest first.
func (l *LoyaltyLedger) maybeIssueCoupon(ctx context.Context, tx store.Tx, userID uuid.UUID, unused []coupon.Stamp, now time.Time) (*coupon.Coupon, error) {
	count := len(unused)
	if count < coupon.StampsPerCoupon || count%coupon.StampsPerCoupon != 0 {
		return nil, nil
	}

	c := &coupon.Coupon{
		ID:              uuid.New(),
		UserID:          userID,
		DiscountMinutes: coupon.DiscountMinutes,
		Status:          coupon.StatusActive,
		ExpireDate:      now.Add(coupon.ValidFor),
		CreatedAt:       now,
	}
	if err := tx.InsertCoupon(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to insert coupon: %w", err)
	}

	for _, s := range unused[:coupon.StampsPerCoupon] {
		s.IsUsed = true
		s.ExchangedCouponID = &c.ID
		if err := tx.UpdateStamp(ctx, &s); err != nil {
			return nil, fmt.Errorf("failed to exchange stamp %s: %w", s.ID, err)
		}
	}

	couponsIssued.Inc()
	return c, nil
}

// ReserveCoupon checks that couponID can be applied to a new payment of userID.
func (l *LoyaltyLedger) ReserveCoupon(ctx context.Context, tx store.Tx, couponID, userID uuid.UUID, now time.Time) (*coupon.Coupon, error) {
	c, err := tx.LockCoupon(ctx, couponID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.WithMessage(errs.InvalidCoupon, "coupon not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock coupon: %w", err)
	}
	if !c.Usable(userID, now) {
		return nil, errs.InvalidCoupon
	}

	inFlight, err := tx.CouponInFlight(ctx, couponID)
	if err != nil {
		return nil, fmt.Errorf("failed to check coupon reservations: %w", err)
	}
	if inFlight {
		return nil, errs.WithMessage(errs.InvalidCoupon, "coupon is already attached to an unsettled payment")
	}
	return c, nil
}

// ConsumeCoupon marks the coupon used by paymentID.
func (l *LoyaltyLedger) ConsumeCoupon(ctx context.Context, tx store.Tx, couponID, paymentID uuid.UUID, now time.Time) error {
	c, err := tx.LockCoupon(ctx, couponID)
	if err != nil {
		return fmt.Errorf("failed to lock coupon: %w", err)
	}
	if c.Status != coupon.StatusActive {
		// The discount is already on the payment; keep the link regardless.
		l.logger.Warn("consuming non-active coupon", "coupon_id", c.ID, "status", c.Status, "payment_id", paymentID)
	}
	c.Status = coupon.StatusUsed
	c.UsedAt = &now
	c.UsedPaymentID = &paymentID
	if err := tx.UpdateCoupon(ctx, c); err != nil {
		return fmt.Errorf("failed to update coupon: %w", err)
	}
	return nil
}

// ExpireCoupons retires ACTIVE coupons past their expire date.
func (l *LoyaltyLedger) ExpireCoupons(ctx context.Context, s store.Store, now time.Time) (int64, error) {
	n, err := s.ExpireCoupons(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire coupons: %w", err)
	}
	if n > 0 {
		l.logger.Info("expired coupons", "count", n)
	}
	return n, nil
}
