package memory

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

// tx works on a private copy of the state. Locks are implicit: the whole store
// is held for the duration of WithinTx.
type tx struct {
	st *state
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (t *tx) LockUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return t.GetUser(ctx, id)
}

func (t *tx) HasActivePaymentMethod(_ context.Context, userID uuid.UUID) (bool, error) {
	for _, m := range t.st.methods {
		if m.UserID == userID && m.Status == payment.MethodActive {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) DefaultPaymentMethod(_ context.Context, userID uuid.UUID) (*payment.Method, error) {
	var best *payment.Method
	for _, m := range t.st.methods {
		if m.UserID != userID || m.Status != payment.MethodActive {
			continue
		}
		m := m
		switch {
		case best == nil:
			best = &m
		case m.IsDefault && !best.IsDefault:
			best = &m
		case m.IsDefault == best.IsDefault && m.CreatedAt.After(best.CreatedAt):
			best = &m
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (t *tx) LockBike(_ context.Context, id uuid.UUID) (*bike.Bike, error) {
	b, ok := t.st.bikes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *tx) LockBikeByQRCode(_ context.Context, qrCode string) (*bike.Bike, error) {
	return t.st.bikeByQR(qrCode)
}

func (t *tx) UpdateBike(_ context.Context, b *bike.Bike) error {
	if _, ok := t.st.bikes[b.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.bikes[b.ID] = *b
	return nil
}

func (t *tx) GetRental(_ context.Context, id uuid.UUID) (*rental.Rental, error) {
	return t.st.rental(id)
}

func (t *tx) LockRental(ctx context.Context, id uuid.UUID) (*rental.Rental, error) {
	return t.GetRental(ctx, id)
}

func (t *tx) LockOpenRentalByBike(_ context.Context, bikeID uuid.UUID) (*rental.Rental, error) {
	for _, r := range t.st.rentals {
		if r.BikeID == bikeID && r.Status == rental.StatusInProgress {
			r := r
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) HasUnfinishedRental(_ context.Context, userID uuid.UUID) (bool, error) {
	for _, r := range t.st.rentals {
		if r.UserID == userID && !rental.Terminal(r.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertRental(_ context.Context, r *rental.Rental) error {
	for _, existing := range t.st.rentals {
		open := !rental.Terminal(existing.Status)
		if existing.ID == r.ID ||
			(open && existing.BikeID == r.BikeID) ||
			(open && existing.UserID == r.UserID) {
			return store.ErrConflict
		}
	}
	t.st.rentals = append(t.st.rentals, *r)
	return nil
}

func (t *tx) UpdateRental(_ context.Context, r *rental.Rental) error {
	for i := range t.st.rentals {
		if t.st.rentals[i].ID == r.ID {
			t.st.rentals[i] = *r
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) GetStation(_ context.Context, id uuid.UUID) (*station.Station, error) {
	s, ok := t.st.stations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (t *tx) InsertPayment(_ context.Context, p *payment.Payment) error {
	for _, existing := range t.st.payments {
		if existing.ID == p.ID || existing.RentalID == p.RentalID {
			return store.ErrConflict
		}
	}
	t.st.payments = append(t.st.payments, *p)
	return nil
}

func (t *tx) LockPayment(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	_, p, err := t.st.payment(id)
	return p, err
}

func (t *tx) UpdatePayment(_ context.Context, p *payment.Payment) error {
	i, _, err := t.st.payment(p.ID)
	if err != nil {
		return err
	}
	t.st.payments[i] = *p
	return nil
}

func (t *tx) LockCoupon(_ context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	for _, c := range t.st.coupons {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CouponInFlight(_ context.Context, couponID uuid.UUID) (bool, error) {
	for _, p := range t.st.payments {
		if p.CouponID != nil && *p.CouponID == couponID &&
			(p.Status == payment.StatusPending || p.Status == payment.StatusProcessing || p.Status == payment.StatusFailed) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertCoupon(_ context.Context, c *coupon.Coupon) error {
	t.st.coupons = append(t.st.coupons, *c)
	return nil
}

func (t *tx) UpdateCoupon(_ context.Context, c *coupon.Coupon) error {
	for i := range t.st.coupons {
		if t.st.coupons[i].ID == c.ID {
			t.st.coupons[i] = *c
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) LockUnusedStamps(_ context.Context, userID uuid.UUID) ([]coupon.Stamp, error) {
	var out []coupon.Stamp
	for _, s := range t.st.stamps {
		if s.UserID == userID && !s.IsUsed {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *tx) InsertStamp(_ context.Context, s *coupon.Stamp) error {
	t.st.stamps = append(t.st.stamps, *s)
	return nil
}

func (t *tx) UpdateStamp(_ context.Context, s *coupon.Stamp) error {
	for i := range t.st.stamps {
		if t.st.stamps[i].ID == s.ID {
			t.st.stamps[i] = *s
			return nil
		}
	}
	return store.ErrNotFound
}

func (st *state) bikeByQR(qrCode string) (*bike.Bike, error) {
	for _, b := range st.bikes {
		if b.QRCode == qrCode {
			b := b
			return &b, nil
		}
	}
	return nil, store.ErrNotFound
}

func (st *state) rental(id uuid.UUID) (*rental.Rental, error) {
	for _, r := range st.rentals {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (st *state) payment(id uuid.UUID) (int, *payment.Payment, error) {
	for i, p := range st.payments {
		if p.ID == id {
			p := p
			return i, &p, nil
		}
	}
	return -1, nil, store.ErrNotFound
}
