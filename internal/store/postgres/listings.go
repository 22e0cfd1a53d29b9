package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"domadoAPI/internal/coupon"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/store"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
)

const dialectPostgres = "postgres"

func columns(list string) []any {
	parts := strings.Split(list, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func page(ds *goqu.SelectDataset, limit, offset int) *goqu.SelectDataset {
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	if offset > 0 {
		ds = ds.Offset(uint(offset))
	}
	return ds
}

func rentalsQuery(userID uuid.UUID, f rental.ListFilter) *goqu.SelectDataset {
	ds := goqu.Dialect(dialectPostgres).
		From("rentals").
		Select(columns(rentalCols)...).
		Where(goqu.C("user_id").Eq(userID.String())).
		Order(goqu.C("start_time").Desc())
	if f.Status != nil {
		ds = ds.Where(goqu.C("status").Eq(string(*f.Status)))
	}
	return page(ds, f.Limit, f.Offset).Prepared(true)
}

func (s *Store) ListRentals(ctx context.Context, userID uuid.UUID, f rental.ListFilter) ([]rental.Rental, error) {
	sql, args, err := rentalsQuery(userID, f).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build rental listing: %w", err)
	}
	return getMany[rental.Rental](ctx, s.pool, sql, args...)
}

func (s *Store) ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]payment.Payment, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("payments").
		Select(columns(paymentCols)...).
		Where(goqu.C("user_id").Eq(userID.String())).
		Order(goqu.C("created_at").Desc())

	sql, args, err := page(ds, limit, offset).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build payment listing: %w", err)
	}
	return getMany[payment.Payment](ctx, s.pool, sql, args...)
}

func (s *Store) ListStalePayments(ctx context.Context, before time.Time, limit int) ([]payment.Payment, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("payments").
		Select(columns(paymentCols)...).
		Where(
			goqu.C("status").In(string(payment.StatusPending), string(payment.StatusProcessing)),
			goqu.C("updated_at").Lt(before),
		).
		Order(goqu.C("updated_at").Asc())

	sql, args, err := page(ds, limit, 0).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build stale payment listing: %w", err)
	}
	return getMany[payment.Payment](ctx, s.pool, sql, args...)
}

func (s *Store) ListCoupons(ctx context.Context, userID uuid.UUID, f store.CouponFilter) ([]coupon.Coupon, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("coupons").
		Select(columns(couponCols)...).
		Where(goqu.C("user_id").Eq(userID.String()))
	if f.AvailableAt != nil {
		ds = ds.Where(
			goqu.C("status").Eq(string(coupon.StatusActive)),
			goqu.C("expire_date").Gt(*f.AvailableAt),
		).Order(goqu.C("expire_date").Asc())
	} else {
		ds = ds.Order(goqu.C("created_at").Desc())
	}

	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build coupon listing: %w", err)
	}
	return getMany[coupon.Coupon](ctx, s.pool, sql, args...)
}

func (s *Store) ListStamps(ctx context.Context, userID uuid.UUID) ([]coupon.Stamp, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("stamps").
		Select(columns(stampCols)...).
		Where(goqu.C("user_id").Eq(userID.String())).
		Order(goqu.C("created_at").Desc())

	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build stamp listing: %w", err)
	}
	return getMany[coupon.Stamp](ctx, s.pool, sql, args...)
}
