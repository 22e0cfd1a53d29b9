package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/coupon"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/station"
	"domadoAPI/internal/store"
	"domadoAPI/internal/user"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRentAndReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	bikeID := f.addBike(t, "QR-1", 80)
	started := testutil.ToFloat64(rentalsStarted)

	view := f.rent(t, userID, "QR-1")
	assert.Equal(t, bikeID, view.BikeID)
	assert.Equal(t, bike.StatusInUse, view.BikeStatus)
	assert.Equal(t, bike.HiBikeNone, view.HiBikeStatus)
	assert.Equal(t, at(10, 0), view.StartTime)
	assert.Equal(t, started+1, testutil.ToFloat64(rentalsStarted))

	b := f.bike(t, bikeID)
	assert.Nil(t, b.CurrentStationID)
	assert.Nil(t, b.CurrentDockID)

	f.clock.Advance(10 * time.Minute)
	ret, err := f.rentals.Return(ctx, view.RentalID, userID, f.returnRequest())
	require.NoError(t, err)

	assert.Equal(t, 10, ret.UsageMinutes)
	assert.Equal(t, 0, ret.PauseMinutes)
	assert.Equal(t, bike.StatusParked, ret.BikeStatus)
	assert.Nil(t, ret.StampInfo)
	require.NotNil(t, ret.Payment)
	assert.Equal(t, 400, ret.Payment.Amount)
	assert.Equal(t, payment.StatusCompleted, ret.Payment.Status)
	assert.Equal(t, 1, f.gateway.Calls())

	r := f.rental(t, view.RentalID)
	assert.Equal(t, rental.StatusCompleted, r.Status)
	require.NotNil(t, r.EndTime)
	assert.Equal(t, at(10, 10), *r.EndTime)

	b = f.bike(t, bikeID)
	assert.Equal(t, bike.StatusParked, b.Status)
	require.NotNil(t, b.CurrentStationID)
	assert.Equal(t, f.stationID, *b.CurrentStationID)
	require.NotNil(t, b.CurrentDockID)
	assert.Equal(t, 3, *b.CurrentDockID)

	assert.Equal(t, []notification.EventType{
		notification.EventRentalStarted,
		notification.EventRentalReturned,
		notification.EventPaymentCompleted,
	}, f.events.Types())
	assert.Equal(t, notification.CommandUnlock, f.events.Find(notification.EventRentalStarted).Command)
	assert.Equal(t, notification.CommandLock, f.events.Find(notification.EventRentalReturned).Command)

	// The rider is free to rent again.
	f.rent(t, userID, "QR-1")
}

func TestPauseCyclesAreTruncatedSeparately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)
	view := f.rent(t, userID, "QR-1")

	f.clock.Advance(time.Minute)
	f.pause(t, view.RentalID, userID)
	f.clock.Advance(time.Minute + 59*time.Second)
	first, err := f.rentals.Resume(ctx, view.RentalID, userID, f.lat, f.lon)
	require.NoError(t, err)
	assert.Equal(t, 1, first.PauseMinutes)
	assert.Equal(t, bike.StatusInUse, first.BikeStatus)

	f.clock.Advance(time.Minute)
	f.pause(t, view.RentalID, userID)
	f.clock.Advance(90 * time.Second)
	second, err := f.rentals.Resume(ctx, view.RentalID, userID, f.lat, f.lon)
	require.NoError(t, err)
	assert.Equal(t, 1, second.PauseMinutes)
	assert.Equal(t, 2, second.TotalPauseMinutes)

	r := f.rental(t, view.RentalID)
	assert.Nil(t, r.LastPauseStartTime)
	assert.Equal(t, rental.StatusInProgress, r.Status)
}

func TestPauseAndResumeGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)
	view := f.rent(t, userID, "QR-1")

	_, err := f.rentals.Resume(ctx, view.RentalID, userID, f.lat, f.lon)
	assert.ErrorIs(t, err, errs.BikeNotLocked)

	f.pause(t, view.RentalID, userID)
	_, err = f.rentals.Pause(ctx, view.RentalID, userID, f.lat, f.lon)
	assert.ErrorIs(t, err, errs.BikeAlreadyLocked)

	_, err = f.rentals.Pause(ctx, view.RentalID, userID, 91, f.lon)
	assert.ErrorIs(t, err, errs.InvalidCoordinates)

	other := f.addUser(t)
	_, err = f.rentals.Resume(ctx, view.RentalID, other, f.lat, f.lon)
	assert.ErrorIs(t, err, errs.RentalNotOwned)

	_, err = f.rentals.Pause(ctx, uuid.New(), userID, f.lat, f.lon)
	assert.ErrorIs(t, err, errs.RentalNotFound)
}

func TestReturnWhilePausedFoldsThePause(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	bikeID := f.addBike(t, "QR-1", 80)
	view := f.rent(t, userID, "QR-1")

	f.clock.Advance(2 * time.Minute)
	f.pause(t, view.RentalID, userID)
	f.clock.Advance(5*time.Minute + 30*time.Second)

	ret, err := f.rentals.Return(ctx, view.RentalID, userID, f.returnRequest())
	require.NoError(t, err)
	assert.Equal(t, 7, ret.UsageMinutes)
	assert.Equal(t, 5, ret.PauseMinutes)

	r := f.rental(t, view.RentalID)
	assert.Nil(t, r.LastPauseStartTime)
	assert.Equal(t, bike.StatusParked, f.bike(t, bikeID).Status)
}

func TestReturnToAnotherHubChangesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	bikeID := f.addBike(t, "QR-1", 80)
	view := f.rent(t, userID, "QR-1")

	foreign := uuid.New()
	f.store.SeedStation(station.Station{ID: foreign, HubID: uuid.New(), HubName: "Harbor", Name: "Harbor 1", Capacity: 10})

	f.clock.Advance(10 * time.Minute)
	req := f.returnRequest()
	req.StationID = foreign
	_, err := f.rentals.Return(ctx, view.RentalID, userID, req)
	assert.ErrorIs(t, err, errs.InvalidReturnHub)

	req.StationID = uuid.New()
	_, err = f.rentals.Return(ctx, view.RentalID, userID, req)
	assert.ErrorIs(t, err, errs.StationNotFound)

	r := f.rental(t, view.RentalID)
	assert.Equal(t, rental.StatusInProgress, r.Status)
	assert.Nil(t, r.EndTime)
	assert.Equal(t, bike.StatusInUse, f.bike(t, bikeID).Status)

	_, err = f.store.GetPaymentByRental(ctx, view.RentalID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, f.gateway.Calls())
}

func TestReturnValidatesRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)
	view := f.rent(t, userID, "QR-1")

	req := f.returnRequest()
	req.Latitude = nil
	_, err := f.rentals.Return(ctx, view.RentalID, userID, req)
	assert.ErrorIs(t, err, errs.InvalidCoordinates)

	req = f.returnRequest()
	req.DockID = 0
	_, err = f.rentals.Return(ctx, view.RentalID, userID, req)
	assert.ErrorIs(t, err, errs.InvalidInput)

	f.clock.Advance(time.Minute)
	_, err = f.rentals.Return(ctx, view.RentalID, userID, f.returnRequest())
	require.NoError(t, err)

	_, err = f.rentals.Return(ctx, view.RentalID, userID, f.returnRequest())
	assert.ErrorIs(t, err, errs.RentalNotInProgress)
}

func TestRentRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) (uuid.UUID, string)
		want  *errs.Error
	}{
		{
			name: "empty qr code",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, string) {
				return f.addUser(t), "  "
			},
			want: errs.InvalidInput,
		},
		{
			name: "unknown bike",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, string) {
				return f.addUser(t), "QR-MISSING"
			},
			want: errs.BikeNotFound,
		},
		{
			name: "unknown user",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, string) {
				f.addBike(t, "QR-1", 80)
				return uuid.New(), "QR-1"
			},
			want: errs.UserNotFound,
		},
		{
			name: "suspended account",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, string) {
				f.addBike(t, "QR-1", 80)
				return f.addUserWithStatus(t, user.StatusSuspended), "QR-1"
			},
			want: errs.AccountSuspended,
		},
		{
			name: "no payment method",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, string) {
				f.addBike(t, "QR-1", 80)
				return f.addUserWithStatus(t, user.StatusActive), "QR-1"
			},
			want: errs.NoPaymentMethod,
		},
		{
			name: "low battery",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, string) {
				f.addBike(t, "QR-1", bike.MinRentableBattery-1)
				return f.addUser(t), "QR-1"
			},
			want: errs.LowBattery,
		},
		{
			name: "bike in use",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, string) {
				f.addBike(t, "QR-1", 80)
				f.rent(t, f.addUser(t), "QR-1")
				return f.addUser(t), "QR-1"
			},
			want: errs.BikeNotAvailable,
		},
		{
			name: "rider already has a rental",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, string) {
				f.addBike(t, "QR-1", 80)
				f.addBike(t, "QR-2", 80)
				userID := f.addUser(t)
				f.rent(t, userID, "QR-1")
				return userID, "QR-2"
			},
			want: errs.ActiveRentalExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, at(10, 0))
			userID, qr := tt.setup(t, f)

			_, err := f.rentals.Rent(context.Background(), userID, qr)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.want.Code, errs.CodeOf(err))
		})
	}
}

func TestConcurrentRentsOnOneBike(t *testing.T) {
	f := newFixture(t, at(10, 0))
	bikeID := f.addBike(t, "QR-1", 80)

	const riders = 8
	users := make([]uuid.UUID, riders)
	for i := range users {
		users[i] = f.addUser(t)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for _, id := range users {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.rentals.Rent(context.Background(), id, "QR-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case assert.ErrorIs(t, err, errs.BikeNotAvailable):
				rejected++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, riders-1, rejected)
	assert.Equal(t, bike.StatusInUse, f.bike(t, bikeID).Status)
}

func TestConcurrentReturnsBillOnce(t *testing.T) {
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)
	view := f.rent(t, userID, "QR-1")
	f.clock.Advance(10 * time.Minute)

	errsCh := make(chan error, 2)
	var wg sync.WaitGroup
	for _i := 0; _i < 2; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rentals.Return(context.Background(), view.RentalID, userID, f.returnRequest())
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)

	var ok, conflict int
	for err := range errsCh {
		if err == nil {
			ok++
		} else if assert.ErrorIs(t, err, errs.RentalNotInProgress) {
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)
	assert.Equal(t, 1, f.gateway.Calls())
}

func TestReturnWithCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
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

	view := f.rent(t, userID, "QR-1")
	f.clock.Advance(40 * time.Minute)

	req := f.returnRequest()
	req.CouponID = &couponID
	ret, err := f.rentals.Return(ctx, view.RentalID, userID, req)
	require.NoError(t, err)

	// 100 + 40*30 = 1300, minus 30 minutes at the day rate.
	assert.Equal(t, 1300, ret.Payment.OriginalAmount)
	assert.Equal(t, 900, ret.Payment.DiscountAmount)
	assert.Equal(t, 400, ret.Payment.Amount)
	assert.Equal(t, payment.StatusCompleted, ret.Payment.Status)
	assert.True(t, f.rental(t, view.RentalID).CouponApplied)

	cs, err := f.coupons.ListCoupons(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, coupon.StatusUsed, cs[0].Status)
	require.NotNil(t, cs[0].UsedPaymentID)
	assert.Equal(t, ret.Payment.PaymentID, *cs[0].UsedPaymentID)

	// A used coupon cannot be applied twice.
	view = f.rent(t, userID, "QR-1")
	f.clock.Advance(5 * time.Minute)
	_, err = f.rentals.Return(ctx, view.RentalID, userID, req)
	assert.ErrorIs(t, err, errs.InvalidCoupon)
	assert.Equal(t, rental.StatusInProgress, f.rental(t, view.RentalID).Status)
}

func TestSmallAmountsSettleLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(8, 50))
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)
	couponID := uuid.New()
	f.store.SeedCoupon(coupon.Coupon{
		ID:              couponID,
		UserID:          userID,
		DiscountMinutes: coupon.DiscountMinutes,
		Status:          coupon.StatusActive,
		ExpireDate:      at(8, 50).Add(coupon.ValidFor),
		CreatedAt:       at(8, 50),
	})

	view := f.rent(t, userID, "QR-1")
	f.clock.Advance(10 * time.Minute)

	req := f.returnRequest()
	req.CouponID = &couponID
	ret, err := f.rentals.Return(ctx, view.RentalID, userID, req)
	require.NoError(t, err)

	assert.Equal(t, 140, ret.Payment.OriginalAmount)
	assert.Zero(t, ret.Payment.Amount)
	assert.Equal(t, payment.StatusCompleted, ret.Payment.Status)
	require.NotNil(t, ret.Payment.TransactionID)
	assert.Regexp(t, `^TR`, *ret.Payment.TransactionID)
	assert.Zero(t, f.gateway.Calls())

	cs, err := f.coupons.ListAvailableCoupons(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestListAndGetRentals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, at(10, 0))
	userID := f.addUser(t)
	f.addBike(t, "QR-1", 80)

	first := f.rent(t, userID, "QR-1")
	f.clock.Advance(5 * time.Minute)
	_, err := f.rentals.Return(ctx, first.RentalID, userID, f.returnRequest())
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second := f.rent(t, userID, "QR-1")

	all, err := f.rentals.ListRentals(ctx, userID, rental.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.RentalID, all[0].ID)

	status := rental.StatusCompleted
	done, err := f.rentals.ListRentals(ctx, userID, rental.ListFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, first.RentalID, done[0].ID)

	got, err := f.rentals.GetRental(ctx, second.RentalID, userID)
	require.NoError(t, err)
	assert.Equal(t, rental.StatusInProgress, got.Status)

	_, err = f.rentals.GetRental(ctx, second.RentalID, f.addUser(t))
	assert.ErrorIs(t, err, errs.RentalNotOwned)
}
