package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"domadoAPI/internal/device"
	"domadoAPI/internal/notification"

	"github.com/google/uuid"
)

type PushNotificationProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

type DeviceTokenSource interface {
	DeviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error)
}

// FeedPublisher fans events out to the rider's live connections.
type FeedPublisher interface {
	Broadcast(userID uuid.UUID, msg notification.FeedMessage)
}

// NotificationDispatcher delivers committed lifecycle events to the bike lock,
// push and the live rental feed. Delivery is best effort and never blocks the
// request that produced the event for longer than the enqueue timeout.
type NotificationDispatcher struct {
	commander      device.Commander
	tokens         DeviceTokenSource
	pushProvider   PushNotificationProvider
	feed           FeedPublisher
	logger         *slog.Logger
	workers        int
	enqueueTimeout time.Duration
	jobQueue       chan *notification.Event
	stopChan       chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup

	// mu is held shared while enqueueing so Stop cannot close the queue
	// between the stopped check and the send.
	mu      sync.RWMutex
	stopped bool
}

type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
}

func NewNotificationDispatcher(cfg DispatcherConfig, commander device.Commander, tokens DeviceTokenSource, logger *slog.Logger) *NotificationDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}

	d := &NotificationDispatcher{
		commander:      commander,
		tokens:         tokens,
		logger:         logger,
		workers:        cfg.Workers,
		enqueueTimeout: cfg.EnqueueTimeout,
		jobQueue:       make(chan *notification.Event, cfg.QueueSize),
		stopChan:       make(chan struct{}),
	}
	d.startWorkers()
	return d
}

// Allow injecting the real FCM provider from main.go
func (d *NotificationDispatcher) SetPushProvider(provider PushNotificationProvider) {
	d.pushProvider = provider
}

func (d *NotificationDispatcher) SetFeed(feed FeedPublisher) {
	d.feed = feed
}

func (d *NotificationDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case evt := <-d.jobQueue:
			d.processJob(evt)
		case <-d.stopChan:
			d.drain()
			return
		}
	}
}

// drain delivers whatever is still queued at shutdown.
func (d *NotificationDispatcher) drain() {
	for {
		select {
		case evt := <-d.jobQueue:
			d.processJob(evt)
		default:
			return
		}
	}
}

// Publish queues events for delivery. Events published after Stop are dropped.
func (d *NotificationDispatcher) Publish(ctx context.Context, events ...*notification.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		dispatchFailures.WithLabelValues("stopped").Add(float64(len(events)))
		for _, evt := range events {
			d.logger.Warn("dispatcher stopped, dropping event", "event_id", evt.ID, "type", evt.Type)
		}
		return
	}

	for _, evt := range events {
		select {
		case d.jobQueue <- evt:
		case <-time.After(d.enqueueTimeout):
			dispatchFailures.WithLabelValues("queue").Inc()
			d.logger.Error("failed to queue event: queue full", "event_id", evt.ID, "type", evt.Type)
		}
	}
}

func (d *NotificationDispatcher) processJob(evt *notification.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d.sendCommand(ctx, evt)
	d.sendPush(ctx, evt)

	if d.feed != nil {
		d.feed.Broadcast(evt.UserID, notification.NewFeedMessage(evt))
	}
}

func (d *NotificationDispatcher) sendCommand(ctx context.Context, evt *notification.Event) {
	if d.commander == nil || evt.Command == notification.CommandNone {
		return
	}
	var err error
	switch evt.Command {
	case notification.CommandLock:
		err = d.commander.SendLock(ctx, evt.BikeID)
	case notification.CommandUnlock:
		err = d.commander.SendUnlock(ctx, evt.BikeID)
	}
	if err != nil {
		dispatchFailures.WithLabelValues("device").Inc()
		d.logger.Error("device command failed", "bike_id", evt.BikeID, "command", evt.Command, "error", err)
	}
}

func (d *NotificationDispatcher) sendPush(ctx context.Context, evt *notification.Event) {
	if !evt.Pushable() || d.pushProvider == nil || d.tokens == nil {
		return
	}
	tokens, err := d.tokens.DeviceTokens(ctx, evt.UserID)
	if err != nil {
		dispatchFailures.WithLabelValues("push").Inc()
		d.logger.Error("failed to load device tokens", "user_id", evt.UserID, "error", err)
		return
	}
	if len(tokens) == 0 {
		d.logger.Debug("skipping push: no device tokens", "user_id", evt.UserID, "type", evt.Type)
		return
	}
	if err := d.pushProvider.SendPush(ctx, tokens, evt.Title, evt.Body, evt.Data); err != nil {
		dispatchFailures.WithLabelValues("push").Inc()
		d.logger.Error("push failed", "user_id", evt.UserID, "type", evt.Type, "error", err)
	}
}

// Stop drains the queue and waits for the workers to exit.
func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.stopChan)
		d.mu.Unlock()
	})
	d.wg.Wait()
}
