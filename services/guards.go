package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/store"
	"domadoAPI/internal/user"

	"github.com/google/uuid"
)

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

// EventPublisher receives events after the unit of work that produced them has
// committed.
type EventPublisher interface {
	Publish(ctx context.Context, events ...*notification.Event)
}

// rentalScope is the locked working set of a command addressed by rental id.
type rentalScope struct {
	user   *user.User
	bike   *bike.Bike
	rental *rental.Rental
}

// lockRentalScope reads the rental without a lock to learn its owner and bike,
// then locks user, bike and rental in that order.
func lockRentalScope(ctx context.Context, tx store.Tx, rentalID, callerID uuid.UUID) (*rentalScope, error) {
	r, err := tx.GetRental(ctx, rentalID)
	if err != nil {
		return nil, notFound(err, errs.RentalNotFound, "rental")
	}
	if r.UserID != callerID {
		return nil, errs.RentalNotOwned
	}

	u, err := tx.LockUser(ctx, r.UserID)
	if err != nil {
		return nil, notFound(err, errs.UserNotFound, "user")
	}
	b, err := tx.LockBike(ctx, r.BikeID)
	if err != nil {
		return nil, notFound(err, errs.BikeNotFound, "bike")
	}
	r, err = tx.LockRental(ctx, rentalID)
	if err != nil {
		return nil, notFound(err, errs.RentalNotFound, "rental")
	}
	if r.BikeID != b.ID || r.UserID != u.ID {
		return nil, errs.ConcurrentChange
	}
	return &rentalScope{user: u, bike: b, rental: r}, nil
}

func checkUserStatus(u *user.User) error {
	switch u.Status {
	case user.StatusActive:
		return nil
	case user.StatusLocked:
		return errs.AccountLocked
	case user.StatusSuspended:
		return errs.AccountSuspended
	case user.StatusBlocked:
		return errs.AccountBlocked
	case user.StatusWithdrawn:
		return errs.AccountWithdrawn
	}
	return errs.WithMessage(errs.AccountBlocked, "account status %s does not allow rentals", u.Status)
}

func checkCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return errs.InvalidCoordinates
	}
	return nil
}

func moveBike(b *bike.Bike, to bike.Status, now time.Time) error {
	if !bike.CanTransition(b.Status, to) {
		return errs.WithMessage(errs.IllegalTransition, "bike cannot move from %s to %s", b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

func moveHiBike(b *bike.Bike, to bike.HiBikeStatus, now time.Time) error {
	if !bike.CanTransitionHiBike(b.HiBikeStatus, to) {
		return errs.WithMessage(errs.IllegalTransition, "hibike status cannot move from %s to %s", b.HiBikeStatus, to)
	}
	b.HiBikeStatus = to
	b.UpdatedAt = now
	return nil
}

// notFound maps store.ErrNotFound to the business error and wraps anything else.
func notFound(err error, nf *errs.Error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return nf
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func newEvent(typ notification.EventType, userID, rentalID, bikeID uuid.UUID, now time.Time) *notification.Event {
	return &notification.Event{
		ID:         uuid.New(),
		Type:       typ,
		UserID:     userID,
		RentalID:   rentalID,
		BikeID:     bikeID,
		OccurredAt: now,
	}
}
