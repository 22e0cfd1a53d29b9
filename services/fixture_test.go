package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/gateway"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/station"
	"domadoAPI/internal/store/memory"
	"domadoAPI/internal/user"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 14, hour, minute, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*notification.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...*notification.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) Types() []notification.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notification.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) Find(typ notification.EventType) *notification.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == typ {
			return e
		}
	}
	return nil
}

// fakeGateway approves every charge unless charge is set. Lookups report
// success unless lookup is set.
type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.ChargeRequest
	lookups  []string
	charge   func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error)
	lookup   func(ctx context.Context, transactionID string) (*gateway.ChargeResult, error)
}

func (g *fakeGateway) Lookup(ctx context.Context, transactionID string) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	g.lookups = append(g.lookups, transactionID)
	fn := g.lookup
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, transactionID)
	}
	return &gateway.ChargeResult{TransactionID: transactionID}, nil
}

func (g *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	fn := g.charge
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &gateway.ChargeResult{TransactionID: "pi_" + req.IdempotencyKey()}, nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fixture struct {
	store    *memory.Store
	clock    *testClock
	events   *recordingPublisher
	gateway  *fakeGateway
	ledger   *LoyaltyLedger
	fees     *FeeCalculator
	payments *PaymentService
	hibike   *HiBikeService
	rentals  *RentalService
	coupons  *CouponService

	hubID     uuid.UUID
	stationID uuid.UUID
	lat, lon  float64
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.New(),
		clock:     &testClock{now: start},
		events:    &recordingPublisher{},
		gateway:   &fakeGateway{},
		hubID:     uuid.New(),
		stationID: uuid.New(),
		lat:       37.5665,
		lon:       126.9780,
	}
	clock := Clock(f.clock.Now)
	f.ledger = NewLoyaltyLedger(testLogger)
	f.fees = NewFeeCalculator(DefaultTariff(), time.UTC)
	f.payments = NewPaymentService(f.store, f.fees, f.ledger, f.gateway, f.events, clock, time.Second, testLogger)
	f.hibike = NewHiBikeService(f.store, f.payments, f.events, clock, testLogger)
	f.rentals = NewRentalService(f.store, f.ledger, f.hibike, f.payments, f.events, clock, testLogger)
	f.coupons = NewCouponService(f.store, f.ledger, clock)

	f.store.SeedStation(station.Station{
		ID:       f.stationID,
		HubID:    f.hubID,
		HubName:  "City Hall",
		Name:     "City Hall Station 1",
		Capacity: 20,
	})
	return f
}

// addUser seeds an ACTIVE user with a default card.
func (f *fixture) addUser(t *testing.T) uuid.UUID {
	t.Helper()
	id := f.addUserWithStatus(t, user.StatusActive)
	f.store.SeedPaymentMethod(payment.Method{
		ID:               uuid.New(),
		UserID:           id,
		ProviderCustomer: "cus_" + id.String()[:8],
		ProviderMethod:   "pm_" + id.String()[:8],
		CardLast4:        "4242",
		Status:           payment.MethodActive,
		IsDefault:        true,
		CreatedAt:        f.clock.Now(),
	})
	return id
}

func (f *fixture) addUserWithStatus(t *testing.T, status user.Status) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.store.SeedUser(user.User{
		ID:        id,
		ClerkID:   "user_" + id.String()[:8],
		Email:     id.String()[:8] + "@example.com",
		Username:  "rider" + id.String()[:4],
		Status:    status,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	})
	return id
}

func (f *fixture) addBike(t *testing.T, qr string, battery int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	stationID, dock := f.stationID, 1
	f.store.SeedBike(bike.Bike{
		ID:               id,
		QRCode:           qr,
		Status:           bike.StatusParked,
		HiBikeStatus:     bike.HiBikeNone,
		BatteryLevel:     battery,
		Latitude:         f.lat,
		Longitude:        f.lon,
		CurrentStationID: &stationID,
		CurrentDockID:    &dock,
		HomeHubID:        f.hubID,
		UpdatedAt:        f.clock.Now(),
	})
	return id
}

func (f *fixture) bike(t *testing.T, id uuid.UUID) *bike.Bike {
	t.Helper()
	b, err := f.store.Bike(id)
	require.NoError(t, err)
	return b
}

func (f *fixture) rental(t *testing.T, id uuid.UUID) *rental.Rental {
	t.Helper()
	r, err := f.store.GetRental(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (f *fixture) returnRequest() rental.ReturnRequest {
	return rental.ReturnRequest{
		StationID: f.stationID,
		DockID:    3,
		Latitude:  ptr(f.lat),
		Longitude: ptr(f.lon),
	}
}

func (f *fixture) rent(t *testing.T, userID uuid.UUID, qr string) *rental.RentalView {
	t.Helper()
	view, err := f.rentals.Rent(context.Background(), userID, qr)
	require.NoError(t, err)
	return view
}

func (f *fixture) pause(t *testing.T, rentalID, userID uuid.UUID) {
	t.Helper()
	_, err := f.rentals.Pause(context.Background(), rentalID, userID, f.lat, f.lon)
	require.NoError(t, err)
}
