package services

import (
	"context"
	"fmt"
	"time"

	"domadoAPI/internal/coupon"
	"domadoAPI/internal/store"

	"github.com/google/uuid"
)

type CouponService struct {
	store  store.Store
	ledger *LoyaltyLedger
	clock  Clock
}

func NewCouponService(s store.Store, ledger *LoyaltyLedger, clock Clock) *CouponService {
	return &CouponService{store: s, ledger: ledger, clock: clock}
}

func (s *CouponService) ListCoupons(ctx context.Context, userID uuid.UUID) ([]coupon.Coupon, error) {
	cs, err := s.store.ListCoupons(ctx, userID, store.CouponFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	return cs, nil
}

// ListAvailableCoupons returns the coupons that can be applied at return now.
func (s *CouponService) ListAvailableCoupons(ctx context.Context, userID uuid.UUID) ([]coupon.Coupon, error) {
	now := s.clock()
	cs, err := s.store.ListCoupons(ctx, userID, store.CouponFilter{AvailableAt: &now})
	if err != nil {
		return nil, fmt.Errorf("failed to list available coupons: %w", err)
	}
	return cs, nil
}

type StampSummary struct {
	Unused          int            `json:"unusedStamps"`
	UntilNextCoupon int            `json:"untilNextCoupon"`
	Stamps          []coupon.Stamp `json:"stamps"`
}

func (s *CouponService) ListStamps(ctx context.Context, userID uuid.UUID) (*StampSummary, error) {
	stamps, err := s.store.ListStamps(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stamps: %w", err)
	}
	unused := 0
	for _, st := range stamps {
		if !st.IsUsed {
			unused++
		}
	}
	return &StampSummary{
		Unused:          unused,
		UntilNextCoupon: coupon.StampsPerCoupon - unused%coupon.StampsPerCoupon,
		Stamps:          stamps,
	}, nil
}

func (s *CouponService) ExpireCoupons(ctx context.Context, now time.Time) (int64, error) {
	return s.ledger.ExpireCoupons(ctx, s.store, now)
}
