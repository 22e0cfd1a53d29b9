package postgres

import (
	"errors"
	"fmt"
	"testing"

	"domadoAPI/internal/rental"
	"domadoAPI/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(pgx.ErrNoRows), store.ErrNotFound)
	assert.ErrorIs(t, mapErr(fmt.Errorf("query: %w", pgx.ErrNoRows)), store.ErrNotFound)

	unique := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "rentals_open_bike_uidx"}
	err := mapErr(unique)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Contains(t, err.Error(), "rentals_open_bike_uidx")

	other := errors.New("connection reset")
	assert.Equal(t, other, mapErr(other))
}

func TestRentalsQuery(t *testing.T) {
	userID := uuid.New()
	status := rental.StatusCompleted

	sql, args, err := rentalsQuery(userID, rental.ListFilter{Status: &status, Limit: 10, Offset: 20}).ToSQL()
	require.NoError(t, err)

	assert.Contains(t, sql, `FROM "rentals"`)
	assert.Contains(t, sql, `"user_id" = $1`)
	assert.Contains(t, sql, `"status" = $2`)
	assert.Contains(t, sql, `ORDER BY "start_time" DESC`)
	assert.Contains(t, sql, "LIMIT")
	assert.Contains(t, sql, "OFFSET")
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, userID.String(), args[0])
	assert.Equal(t, string(status), args[1])
}

func TestColumns(t *testing.T) {
	cols := columns(stampCols)
	assert.Equal(t, []any{"id", "user_id", "rental_id", "is_used", "exchanged_coupon_id", "created_at"}, cols)
}
