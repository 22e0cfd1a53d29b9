// Package postgres implements store.Store on a pgx connection pool. Lifecycle
// commands take row locks with SELECT ... FOR UPDATE inside one transaction.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/store"
	"domadoAPI/internal/user"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL with the service's pool settings.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := pgTx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *Store) FindUserByClerkID(ctx context.Context, clerkID string) (*user.User, error) {
	return getOne[user.User](ctx, s.pool, `SELECT `+userCols+` FROM users WHERE clerk_id = $1`, clerkID)
}

func (s *Store) InsertUser(ctx context.Context, u *user.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, clerk_id, email, username, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.ClerkID, u.Email, u.Username, u.Status, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (s *Store) UpdateUserStatusByClerkID(ctx context.Context, clerkID string, status user.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = NOW() WHERE clerk_id = $1`, clerkID, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetBikeByQRCode(ctx context.Context, qrCode string) (*bike.Bike, error) {
	return getOne[bike.Bike](ctx, s.pool, `SELECT `+bikeCols+` FROM bikes WHERE qr_code = $1`, qrCode)
}

func (s *Store) GetRental(ctx context.Context, id uuid.UUID) (*rental.Rental, error) {
	return getOne[rental.Rental](ctx, s.pool, `SELECT `+rentalCols+` FROM rentals WHERE id = $1`, id)
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return getOne[payment.Payment](ctx, s.pool, `SELECT `+paymentCols+` FROM payments WHERE id = $1`, id)
}

func (s *Store) GetPaymentByRental(ctx context.Context, rentalID uuid.UUID) (*payment.Payment, error) {
	return getOne[payment.Payment](ctx, s.pool, `SELECT `+paymentCols+` FROM payments WHERE rental_id = $1`, rentalID)
}

func (s *Store) ExpireCoupons(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE coupons SET status = 'EXPIRED'
		WHERE status = 'ACTIVE' AND expire_date <= $1`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error) {
	return getMany[notification.DeviceToken](ctx, s.pool, `
		SELECT token, platform, last_used FROM device_tokens
		WHERE user_id = $1 ORDER BY last_used DESC`, userID)
}

func (s *Store) UpsertDeviceToken(ctx context.Context, userID uuid.UUID, t notification.DeviceToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_tokens (user_id, token, platform, last_used)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, token) DO UPDATE
		SET platform = EXCLUDED.platform, last_used = EXCLUDED.last_used`,
		userID, t.Token, t.Platform, t.LastUsed)
	return mapErr(err)
}

func getOne[T any](ctx context.Context, q querier, sql string, args ...any) (*T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[T])
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func getMany[T any](ctx context.Context, q querier, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func exists(ctx context.Context, q querier, sql string, args ...any) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, sql, args...).Scan(&ok); err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

func execOne(ctx context.Context, q querier, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
