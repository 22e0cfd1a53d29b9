// Package memory is a process local Store. Transactions are serialized by a
// single mutex and commit by swapping in the copy they worked on, so a failed
// or panicking unit of work leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/coupon"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/payment"
	"domadoAPI/internal/rental"
	"domadoAPI/internal/station"
	"domadoAPI/internal/store"
	"domadoAPI/internal/user"

	"github.com/google/uuid"
)

type state struct {
	users    map[uuid.UUID]user.User
	methods  map[uuid.UUID]payment.Method
	bikes    map[uuid.UUID]bike.Bike
	stations map[uuid.UUID]station.Station
	rentals  []rental.Rental
	payments []payment.Payment
	coupons  []coupon.Coupon
	stamps   []coupon.Stamp
	tokens   map[uuid.UUID][]notification.DeviceToken
}

func newState() *state {
	return &state{
		users:    make(map[uuid.UUID]user.User),
		methods:  make(map[uuid.UUID]payment.Method),
		bikes:    make(map[uuid.UUID]bike.Bike),
		stations: make(map[uuid.UUID]station.Station),
		tokens:   make(map[uuid.UUID][]notification.DeviceToken),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.methods {
		c.methods[k] = v
	}
	for k, v := range s.bikes {
		c.bikes[k] = v
	}
	for k, v := range s.stations {
		c.stations[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = append([]notification.DeviceToken(nil), v...)
	}
	c.rentals = append([]rental.Rental(nil), s.rentals...)
	c.payments = append([]payment.Payment(nil), s.payments...)
	c.coupons = append([]coupon.Coupon(nil), s.coupons...)
	c.stamps = append([]coupon.Stamp(nil), s.stamps...)
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

var _ store.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// write applies fn to the live state under the store lock.
func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Seeding helpers for fleet provisioning in development mode and tests.

func (s *Store) SeedUser(u user.User) {
	_ = s.write(func(st *state) error { st.users[u.ID] = u; return nil })
}

func (s *Store) SeedPaymentMethod(m payment.Method) {
	_ = s.write(func(st *state) error { st.methods[m.ID] = m; return nil })
}

func (s *Store) SeedBike(b bike.Bike) {
	_ = s.write(func(st *state) error { st.bikes[b.ID] = b; return nil })
}

func (s *Store) SeedStation(st station.Station) {
	_ = s.write(func(cur *state) error { cur.stations[st.ID] = st; return nil })
}

func (s *Store) SeedStamp(stamp coupon.Stamp) {
	_ = s.write(func(st *state) error { st.stamps = append(st.stamps, stamp); return nil })
}

func (s *Store) SeedCoupon(c coupon.Coupon) {
	_ = s.write(func(st *state) error { st.coupons = append(st.coupons, c); return nil })
}

// Bike returns a snapshot of the bike, for assertions.
func (s *Store) Bike(id uuid.UUID) (*bike.Bike, error) {
	var out *bike.Bike
	err := s.write(func(st *state) error {
		b, ok := st.bikes[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &b
		return nil
	})
	return out, err
}

func (s *Store) FindUserByClerkID(_ context.Context, clerkID string) (*user.User, error) {
	var out *user.User
	err := s.write(func(st *state) error {
		for _, u := range st.users {
			if u.ClerkID == clerkID {
				u := u
				out = &u
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (s *Store) InsertUser(_ context.Context, u *user.User) error {
	return s.write(func(st *state) error {
		for _, existing := range st.users {
			if existing.ClerkID == u.ClerkID || existing.ID == u.ID {
				return store.ErrConflict
			}
		}
		st.users[u.ID] = *u
		return nil
	})
}

func (s *Store) UpdateUserStatusByClerkID(_ context.Context, clerkID string, status user.Status) error {
	return s.write(func(st *state) error {
		for id, u := range st.users {
			if u.ClerkID == clerkID {
				u.Status = status
				u.UpdatedAt = time.Now()
				st.users[id] = u
				return nil
			}
		}
		return store.ErrNotFound
	})
}

func (s *Store) GetBikeByQRCode(_ context.Context, qrCode string) (*bike.Bike, error) {
	var out *bike.Bike
	err := s.write(func(st *state) error {
		b, err := st.bikeByQR(qrCode)
		out = b
		return err
	})
	return out, err
}

func (s *Store) GetRental(_ context.Context, id uuid.UUID) (*rental.Rental, error) {
	var out *rental.Rental
	err := s.write(func(st *state) error {
		r, err := st.rental(id)
		out = r
		return err
	})
	return out, err
}

func (s *Store) ListRentals(_ context.Context, userID uuid.UUID, f rental.ListFilter) ([]rental.Rental, error) {
	var out []rental.Rental
	err := s.write(func(st *state) error {
		for i := len(st.rentals) - 1; i >= 0; i-- {
			r := st.rentals[i]
			if r.UserID != userID {
				continue
			}
			if f.Status != nil && r.Status != *f.Status {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return page(out, f.Limit, f.Offset), err
}

func (s *Store) GetPayment(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	var out *payment.Payment
	err := s.write(func(st *state) error {
		_, p, err := st.payment(id)
		out = p
		return err
	})
	return out, err
}

func (s *Store) GetPaymentByRental(_ context.Context, rentalID uuid.UUID) (*payment.Payment, error) {
	var out *payment.Payment
	err := s.write(func(st *state) error {
		for _, p := range st.payments {
			if p.RentalID == rentalID {
				p := p
				out = &p
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (s *Store) ListPayments(_ context.Context, userID uuid.UUID, limit, offset int) ([]payment.Payment, error) {
	var out []payment.Payment
	err := s.write(func(st *state) error {
		for i := len(st.payments) - 1; i >= 0; i-- {
			if st.payments[i].UserID == userID {
				out = append(out, st.payments[i])
			}
		}
		return nil
	})
	return page(out, limit, offset), err
}

func (s *Store) ListStalePayments(_ context.Context, before time.Time, limit int) ([]payment.Payment, error) {
	var out []payment.Payment
	err := s.write(func(st *state) error {
		for _, p := range st.payments {
			if (p.Status == payment.StatusPending || p.Status == payment.StatusProcessing) && p.UpdatedAt.Before(before) {
				out = append(out, p)
			}
		}
		return nil
	})
	return page(out, limit, 0), err
}

func (s *Store) ListCoupons(_ context.Context, userID uuid.UUID, f store.CouponFilter) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	err := s.write(func(st *state) error {
		for i := len(st.coupons) - 1; i >= 0; i-- {
			c := st.coupons[i]
			if c.UserID != userID {
				continue
			}
			if f.AvailableAt != nil && !c.Usable(userID, *f.AvailableAt) {
				continue
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

func (s *Store) ListStamps(_ context.Context, userID uuid.UUID) ([]coupon.Stamp, error) {
	var out []coupon.Stamp
	err := s.write(func(st *state) error {
		for i := len(st.stamps) - 1; i >= 0; i-- {
			if st.stamps[i].UserID == userID {
				out = append(out, st.stamps[i])
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ExpireCoupons(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.write(func(st *state) error {
		for i := range st.coupons {
			c := &st.coupons[i]
			if c.Status == coupon.StatusActive && !c.ExpireDate.After(now) {
				c.Status = coupon.StatusExpired
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) DeviceTokens(_ context.Context, userID uuid.UUID) ([]notification.DeviceToken, error) {
	var out []notification.DeviceToken
	err := s.write(func(st *state) error {
		out = append(out, st.tokens[userID]...)
		return nil
	})
	return out, err
}

func (s *Store) UpsertDeviceToken(_ context.Context, userID uuid.UUID, t notification.DeviceToken) error {
	return s.write(func(st *state) error {
		for i, cur := range st.tokens[userID] {
			if cur.Token == t.Token {
				st.tokens[userID][i] = t
				return nil
			}
		}
		st.tokens[userID] = append(st.tokens[userID], t)
		return nil
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
