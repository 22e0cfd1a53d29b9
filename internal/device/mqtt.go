package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	commandQoS     = 1
	publishTimeout = 5 * time.Second
)

type commandMessage struct {
	Command  string    `json:"command"`
	BikeID   uuid.UUID `json:"bikeId"`
	IssuedAt time.Time `json:"issuedAt"`
}

// MQTTCommander publishes to bikes/{bikeId}/command.
type MQTTCommander struct {
	client mqtt.Client
	logger *slog.Logger
}

func NewMQTTCommander(brokerURL, clientID string, logger *slog.Logger) (*MQTTCommander, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "err", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", brokerURL, err)
	}

	logger.Info("mqtt connected", "broker", brokerURL)
	return &MQTTCommander{client: client, logger: logger}, nil
}

func (c *MQTTCommander) SendLock(ctx context.Context, bikeID uuid.UUID) error {
	return c.publish(ctx, bikeID, "LOCK")
}

func (c *MQTTCommander) SendUnlock(ctx context.Context, bikeID uuid.UUID) error {
	return c.publish(ctx, bikeID, "UNLOCK")
}

func (c *MQTTCommander) publish(ctx context.Context, bikeID uuid.UUID, command string) error {
	payload, err := json.Marshal(commandMessage{Command: command, BikeID: bikeID, IssuedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("mqtt: encode command: %w", err)
	}

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	token := c.client.Publish(Topic(bikeID), commandQoS, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt: publish %s to bike %s timed out", command, bikeID)
	}
	return token.Error()
}

func (c *MQTTCommander) Close() {
	c.client.Disconnect(250)
}

func Topic(bikeID uuid.UUID) string {
	return "bikes/" + bikeID.String() + "/command"
}
