package device

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Commander delivers lock instructions to a bike's IoT lock. Delivery is best
// effort; the rental lifecycle never waits on the device.
type Commander interface {
	SendLock(ctx context.Context, bikeID uuid.UUID) error
	SendUnlock(ctx context.Context, bikeID uuid.UUID) error
}

// LogCommander only records commands. Used when no broker is configured.
type LogCommander struct {
	Logger *slog.Logger
}

func (c LogCommander) SendLock(_ context.Context, bikeID uuid.UUID) error {
	c.Logger.Info("device command", "command", "LOCK", "bike_id", bikeID)
	return nil
}

func (c LogCommander) SendUnlock(_ context.Context, bikeID uuid.UUID) error {
	c.Logger.Info("device command", "command", "UNLOCK", "bike_id", bikeID)
	return nil
}
