package services

import (
	"context"
	"testing"
	"time"

	"domadoAPI/internal/coupon"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) issueStamp(t *testing.T, userID uuid.UUID) *coupon.StampIssuance {
	t.Helper()
	var info *coupon.StampIssuance
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		info, err = f.ledger.IssueStamp(ctx, tx, userID, uuid.New(), f.clock.Now())
		return err
	})
	require.NoError(t, err)
	return info
}

func TestStampsExchangeForCouponEveryFifth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)

	var couponIDs []uuid.UUID
	for i := 1; i <= 10; i++ {
		f.clock.Advance(time.Minute)
		info := f.issueStamp(t, userID)
		assert.True(t, info.Issued)

		if i%coupon.StampsPerCoupon == 0 {
			require.True(t, info.CouponIssued, "stamp %d", i)
			require.NotNil(t, info.IssuedCouponID)
			assert.Zero(t, info.TotalUnusedStamps)
			couponIDs = append(couponIDs, *info.IssuedCouponID)
			continue
		}
		assert.False(t, info.CouponIssued, "stamp %d", i)
		assert.Equal(t, i%coupon.StampsPerCoupon, info.TotalUnusedStamps)
	}

	cs, err := f.coupons.ListCoupons(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	for _, c := range cs {
		assert.Equal(t, coupon.StatusActive, c.Status)
		assert.Equal(t, coupon.DiscountMinutes, c.DiscountMinutes)
		assert.Equal(t, c.CreatedAt.Add(coupon.ValidFor), c.ExpireDate)
	}

	summary, err := f.coupons.ListStamps(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, summary.Unused)
	assert.Equal(t, coupon.StampsPerCoupon, summary.UntilNextCoupon)
	require.Len(t, summary.Stamps, 10)

	// Newest first; the oldest five paid for the first coupon.
	for i, st := range summary.Stamps {
		assert.True(t, st.IsUsed)
		require.NotNil(t, st.ExchangedCouponID)
		want := couponIDs[1]
		if i >= coupon.StampsPerCoupon {
			want = couponIDs[0]
		}
		assert.Equal(t, want, *st.ExchangedCouponID)
	}
}

func TestSurplusStampsAreNotExchangedRetroactively(t *testing.T) {
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	for _i := 0; _i < 7; _i++ {
		f.store.SeedStamp(coupon.Stamp{ID: uuid.New(), UserID: userID, RentalID: uuid.New(), CreatedAt: at(9, 0)})
	}

	info := f.issueStamp(t, userID)
	assert.False(t, info.CouponIssued)
	assert.Equal(t, 8, info.TotalUnusedStamps)

	f.issueStamp(t, userID)
	info = f.issueStamp(t, userID)
	assert.True(t, info.CouponIssued)
	assert.Equal(t, 5, info.TotalUnusedStamps)
}

func TestReserveCoupon(t *testing.T) {
	f := newFixture(t, at(10, 0))
	owner := f.addUser(t)

	active := coupon.Coupon{ID: uuid.New(), UserID: owner, DiscountMinutes: 30, Status: coupon.StatusActive, ExpireDate: at(12, 0)}
	expired := coupon.Coupon{ID: uuid.New(), UserID: owner, DiscountMinutes: 30, Status: coupon.StatusActive, ExpireDate: at(9, 0)}
	used := coupon.Coupon{ID: uuid.New(), UserID: owner, DiscountMinutes: 30, Status: coupon.StatusUsed, ExpireDate: at(12, 0)}
	for _, c := range []coupon.Coupon{active, expired, used} {
		f.store.SeedCoupon(c)
	}

	reserve := func(couponID, userID uuid.UUID) error {
		return f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := f.ledger.ReserveCoupon(ctx, tx, couponID, userID, f.clock.Now())
			return err
		})
	}

	assert.NoError(t, reserve(active.ID, owner))
	assert.ErrorIs(t, reserve(active.ID, f.addUser(t)), errs.InvalidCoupon)
	assert.ErrorIs(t, reserve(expired.ID, owner), errs.InvalidCoupon)
	assert.ErrorIs(t, reserve(used.ID, owner), errs.InvalidCoupon)
	assert.ErrorIs(t, reserve(uuid.New(), owner), errs.InvalidCoupon)
}

func TestCouponExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	f.store.SeedCoupon(coupon.Coupon{ID: uuid.New(), UserID: userID, DiscountMinutes: 30, Status: coupon.StatusActive, ExpireDate: at(11, 0)})
	f.store.SeedCoupon(coupon.Coupon{ID: uuid.New(), UserID: userID, DiscountMinutes: 30, Status: coupon.StatusActive, ExpireDate: at(13, 0)})

	available, err := f.coupons.ListAvailableCoupons(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, available, 2)

	f.clock.Set(at(12, 0))
	available, err = f.coupons.ListAvailableCoupons(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, available, 1)

	n, err := f.coupons.ExpireCoupons(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.coupons.ExpireCoupons(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := f.coupons.ListCoupons(ctx, userID)
	require.NoError(t, err)
	statuses := []coupon.Status{all[0].Status, all[1].Status}
	assert.ElementsMatch(t, []coupon.Status{coupon.StatusActive, coupon.StatusExpired}, statuses)
}
