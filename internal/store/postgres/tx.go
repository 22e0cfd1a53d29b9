package postgres

import (
	"context"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/coupon"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/station"
	"domadoAPI/internal/store"
	"domadoAPI/internal/user"

	"github.com/google/uuid"
)

const (
	userCols    = `id, clerk_id, email, username, status, created_at, updated_at`
	methodCols  = `id, user_id, provider_customer_id, provider_method_id, card_last4, status, is_default, created_at`
	bikeCols    = `id, qr_code, status, hibike_status, battery_level, latitude, longitude, current_station_id, current_dock_id, home_hub_id, updated_at`
	rentalCols  = `id, user_id, bike_id, start_time, end_time, usage_minutes, pause_minutes, last_pause_start_time, status, coupon_applied, created_at, updated_at`
	paymentCols = `id, user_id, rental_id, payment_method_id, amount, original_amount, discount_amount, status, transaction_id, failure_reason, coupon_id, attempts, created_at, updated_at`
	couponCols  = `id, user_id, discount_minutes, status, expire_date, used_at, used_payment_id, created_at`
	stampCols   = `id, user_id, rental_id, is_used, exchanged_coupon_id, created_at`

	unfinishedRental = `('IN_PROGRESS', 'PAUSED', 'OVERDUE')`
)

type tx struct {
	q querier
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return getOne[user.User](ctx, t.q, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
}

func (t *tx) LockUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return getOne[user.User](ctx, t.q, `SELECT `+userCols+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) HasActivePaymentMethod(ctx context.Context, userID uuid.UUID) (bool, error) {
	return exists(ctx, t.q, `
		SELECT EXISTS (SELECT 1 FROM payment_methods WHERE user_id = $1 AND status = 'ACTIVE')`, userID)
}

func (t *tx) DefaultPaymentMethod(ctx context.Context, userID uuid.UUID) (*payment.Method, error) {
	return getOne[payment.Method](ctx, t.q, `
		SELECT `+methodCols+` FROM payment_methods
		WHERE user_id = $1 AND status = 'ACTIVE'
		ORDER BY is_default DESC, created_at DESC
		LIMIT 1`, userID)
}

func (t *tx) LockBike(ctx context.Context, id uuid.UUID) (*bike.Bike, error) {
	return getOne[bike.Bike](ctx, t.q, `SELECT `+bikeCols+` FROM bikes WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) LockBikeByQRCode(ctx context.Context, qrCode string) (*bike.Bike, error) {
	return getOne[bike.Bike](ctx, t.q, `SELECT `+bikeCols+` FROM bikes WHERE qr_code = $1 FOR UPDATE`, qrCode)
}

func (t *tx) UpdateBike(ctx context.Context, b *bike.Bike) error {
	return execOne(ctx, t.q, `
		UPDATE bikes SET
			status = $2, hibike_status = $3, battery_level = $4,
			latitude = $5, longitude = $6,
			current_station_id = $7, current_dock_id = $8, updated_at = $9
		WHERE id = $1`,
		b.ID, b.Status, b.HiBikeStatus, b.BatteryLevel,
		b.Latitude, b.Longitude,
		b.CurrentStationID, b.CurrentDockID, b.UpdatedAt)
}

func (t *tx) GetRental(ctx context.Context, id uuid.UUID) (*rental.Rental, error) {
	return getOne[rental.Rental](ctx, t.q, `SELECT `+rentalCols+` FROM rentals WHERE id = $1`, id)
}

func (t *tx) LockRental(ctx context.Context, id uuid.UUID) (*rental.Rental, error) {
	return getOne[rental.Rental](ctx, t.q, `SELECT `+rentalCols+` FROM rentals WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) LockOpenRentalByBike(ctx context.Context, bikeID uuid.UUID) (*rental.Rental, error) {
	return getOne[rental.Rental](ctx, t.q, `
		SELECT `+rentalCols+` FROM rentals
		WHERE bike_id = $1 AND status = 'IN_PROGRESS'
		FOR UPDATE`, bikeID)
}

func (t *tx) HasUnfinishedRental(ctx context.Context, userID uuid.UUID) (bool, error) {
	return exists(ctx, t.q, `
		SELECT EXISTS (SELECT 1 FROM rentals WHERE user_id = $1 AND status IN `+unfinishedRental+`)`, userID)
}

func (t *tx) InsertRental(ctx context.Context, r *rental.Rental) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO rentals (`+rentalCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.UserID, r.BikeID, r.StartTime, r.EndTime, r.UsageMinutes, r.PauseMinutes,
		r.LastPauseStartTime, r.Status, r.CouponApplied, r.CreatedAt, r.UpdatedAt)
	return mapErr(err)
}

func (t *tx) UpdateRental(ctx context.Context, r *rental.Rental) error {
	return execOne(ctx, t.q, `
		UPDATE rentals SET
			end_time = $2, usage_minutes = $3, pause_minutes = $4,
			last_pause_start_time = $5, status = $6, coupon_applied = $7, updated_at = $8
		WHERE id = $1`,
		r.ID, r.EndTime, r.UsageMinutes, r.PauseMinutes,
		r.LastPauseStartTime, r.Status, r.CouponApplied, r.UpdatedAt)
}

func (t *tx) GetStation(ctx context.Context, id uuid.UUID) (*station.Station, error) {
	return getOne[station.Station](ctx, t.q, `
		SELECT s.id, s.hub_id, h.name AS hub_name, s.name, s.capacity, s.latitude, s.longitude
		FROM stations s
		JOIN hubs h ON h.id = s.hub_id
		WHERE s.id = $1`, id)
}

func (t *tx) InsertPayment(ctx context.Context, p *payment.Payment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payments (`+paymentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.UserID, p.RentalID, p.PaymentMethodID, p.Amount, p.OriginalAmount, p.DiscountAmount,
		p.Status, p.TransactionID, p.FailureReason, p.CouponID, p.Attempts, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (t *tx) LockPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return getOne[payment.Payment](ctx, t.q, `SELECT `+paymentCols+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) UpdatePayment(ctx context.Context, p *payment.Payment) error {
	return execOne(ctx, t.q, `
		UPDATE payments SET
			payment_method_id = $2, status = $3, transaction_id = $4,
			failure_reason = $5, attempts = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, p.PaymentMethodID, p.Status, p.TransactionID,
		p.FailureReason, p.Attempts, p.UpdatedAt)
}

func (t *tx) LockCoupon(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	return getOne[coupon.Coupon](ctx, t.q, `SELECT `+couponCols+` FROM coupons WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) CouponInFlight(ctx context.Context, couponID uuid.UUID) (bool, error) {
	return exists(ctx, t.q, `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE coupon_id = $1 AND status IN ('PENDING', 'PROCESSING', 'FAILED')
		)`, couponID)
}

func (t *tx) InsertCoupon(ctx context.Context, c *coupon.Coupon) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO coupons (`+couponCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.DiscountMinutes, c.Status, c.ExpireDate, c.UsedAt, c.UsedPaymentID, c.CreatedAt)
	return mapErr(err)
}

func (t *tx) UpdateCoupon(ctx context.Context, c *coupon.Coupon) error {
	return execOne(ctx, t.q, `
		UPDATE coupons SET status = $2, used_at = $3, used_payment_id = $4
		WHERE id = $1`,
		c.ID, c.Status, c.UsedAt, c.UsedPaymentID)
}

func (t *tx) LockUnusedStamps(ctx context.Context, userID uuid.UUID) ([]coupon.Stamp, error) {
	return getMany[coupon.Stamp](ctx, t.q, `
		SELECT `+stampCols+` FROM stamps
		WHERE user_id = $1 AND NOT is_used
		ORDER BY created_at, id
		FOR UPDATE`, userID)
}

func (t *tx) InsertStamp(ctx context.Context, s *coupon.Stamp) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO stamps (`+stampCols+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.RentalID, s.IsUsed, s.ExchangedCouponID, s.CreatedAt)
	return mapErr(err)
}

func (t *tx) UpdateStamp(ctx context.Context, s *coupon.Stamp) error {
	return execOne(ctx, t.q, `
		UPDATE stamps SET is_used = $2, exchanged_coupon_id = $3
		WHERE id = $1`,
		s.ID, s.IsUsed, s.ExchangedCouponID)
}
