package store

import (
	"context"
	"errors"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/coupon"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/station"
	"domadoAPI/internal/user"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict reports a violated uniqueness constraint, e.g. a second open
	// rental for the same bike.
	ErrConflict = errors.New("store: unique constraint violated")
)

// Store is the persistence boundary of the service. Lifecycle commands run
// through WithinTx; everything else is a plain read or a single-row write.
type Store interface {
	// WithinTx runs fn in one serializable unit of work. The transaction is
	// committed when fn returns nil and rolled back on error or panic.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error

	FindUserByClerkID(ctx context.Context, clerkID string) (*user.User, error)
	InsertUser(ctx context.Context, u *user.User) error
	UpdateUserStatusByClerkID(ctx context.Context, clerkID string, status user.Status) error

	GetBikeByQRCode(ctx context.Context, qrCode string) (*bike.Bike, error)
	GetRental(ctx context.Context, id uuid.UUID) (*rental.Rental, error)
	ListRentals(ctx context.Context, userID uuid.UUID, f rental.ListFilter) ([]rental.Rental, error)

	GetPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	GetPaymentByRental(ctx context.Context, rentalID uuid.UUID) (*payment.Payment, error)
	ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]payment.Payment, error)
	// ListStalePayments returns PENDING and PROCESSING payments last touched
	// before the cutoff, oldest first.
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]payment.Payment, error)

	ListCoupons(ctx context.Context, userID uuid.UUID, f CouponFilter) ([]coupon.Coupon, error)
	ListStamps(ctx context.Context, userID uuid.UUID) ([]coupon.Stamp, error)
	// ExpireCoupons marks ACTIVE coupons whose expire date passed as EXPIRED.
	ExpireCoupons(ctx context.Context, now time.Time) (int64, error)

	DeviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error)
	// UpsertDeviceToken registers a push token or refreshes its last use.
	UpsertDeviceToken(ctx context.Context, userID uuid.UUID, t notification.DeviceToken) error
}

// CouponFilter restricts coupon listings. A non-nil AvailableAt keeps only
// ACTIVE coupons that are still valid at that instant.
type CouponFilter struct {
	AvailableAt *time.Time
}

// Tx exposes the reads and writes a lifecycle command needs. Lock* methods
// take an exclusive row lock held until the unit of work ends. Callers lock in
// the order user, bike, rental, payment, coupon, stamps.
type Tx interface {
	GetUser(ctx context.Context, id uuid.UUID) (*user.User, error)
	LockUser(ctx context.Context, id uuid.UUID) (*user.User, error)

	HasActivePaymentMethod(ctx context.Context, userID uuid.UUID) (bool, error)
	DefaultPaymentMethod(ctx context.Context, userID uuid.UUID) (*payment.Method, error)

	LockBike(ctx context.Context, id uuid.UUID) (*bike.Bike, error)
	LockBikeByQRCode(ctx context.Context, qrCode string) (*bike.Bike, error)
	UpdateBike(ctx context.Context, b *bike.Bike) error

	GetRental(ctx context.Context, id uuid.UUID) (*rental.Rental, error)
	LockRental(ctx context.Context, id uuid.UUID) (*rental.Rental, error)
	// LockOpenRentalByBike locks the IN_PROGRESS rental of a bike.
	LockOpenRentalByBike(ctx context.Context, bikeID uuid.UUID) (*rental.Rental, error)
	HasUnfinishedRental(ctx context.Context, userID uuid.UUID) (bool, error)
	InsertRental(ctx context.Context, r *rental.Rental) error
	UpdateRental(ctx context.Context, r *rental.Rental) error

	GetStation(ctx context.Context, id uuid.UUID) (*station.Station, error)

	InsertPayment(ctx context.Context, p *payment.Payment) error
	LockPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	UpdatePayment(ctx context.Context, p *payment.Payment) error

	LockCoupon(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error)
	// CouponInFlight reports whether an unsettled payment already carries the coupon.
	CouponInFlight(ctx context.Context, couponID uuid.UUID) (bool, error)
	InsertCoupon(ctx context.Context, c *coupon.Coupon) error
	UpdateCoupon(ctx context.Context, c *coupon.Coupon) error

	// LockUnusedStamps returns the user's unused stamps, oldest first.
	LockUnusedStamps(ctx context.Context, userID uuid.UUID) ([]coupon.Stamp, error)
	InsertStamp(ctx context.Context, s *coupon.Stamp) error
	UpdateStamp(ctx context.Context, s *coupon.Stamp) error
}
