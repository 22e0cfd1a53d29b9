package services

import (
	"time"
)

// Tariff is the KRW price table. Day minutes fall in [DayStartHour, DayEndHour).
type Tariff struct {
	UnlockFee    int
	DayRate      int
	NightRate    int
	DayStartHour int
	DayEndHour   int
}

func DefaultTariff() Tariff {
	return Tariff{
		UnlockFee:    100,
		DayRate:      30,
		NightRate:    4,
		DayStartHour: 9,
		DayEndHour:   18,
	}
}

type FeeInput struct {
	Start        time.Time
	End          time.Time
	UsageMinutes int
	// CouponMinutes is zero when no coupon applies.
	CouponMinutes int
	// At is the calculation instant. The coupon discount is priced at the rate
	// in force at this instant, not against the ride's own minutes.
	At time.Time
}

type FeeBreakdown struct {
	OriginalAmount  int
	DiscountAmount  int
	FinalAmount     int
	DayMinutes      int
	NightMinutes    int
	DiscountMinutes int
}

type FeeCalculator struct {
	tariff Tariff
	loc    *time.Location
}

func NewFeeCalculator(tariff Tariff, loc *time.Location) *FeeCalculator {
	if loc == nil {
		loc = time.Local
	}
	return &FeeCalculator{tariff: tariff, loc: loc}
}

func (c *FeeCalculator) Tariff() Tariff { return c.tariff }

func (c *FeeCalculator) Calculate(in FeeInput) FeeBreakdown {
	var out FeeBreakdown

	// Only whole minutes are billed; a trailing partial minute is free.
	original := c.tariff.UnlockFee
	for cur := in.Start; !cur.Add(time.Minute).After(in.End); cur = cur.Add(time.Minute) {
		if c.isDay(cur) {
			original += c.tariff.DayRate
			out.DayMinutes++
		} else {
			original += c.tariff.NightRate
			out.NightMinutes++
		}
	}
	out.OriginalAmount = original

	if in.CouponMinutes > 0 {
		out.DiscountMinutes = min(in.CouponMinutes, in.UsageMinutes)
		out.DiscountAmount = out.DiscountMinutes * c.rateAt(in.At)
	}

	out.FinalAmount = max(0, out.OriginalAmount-out.DiscountAmount)
	return out
}

// GatewayRequired reports whether amount must be charged through the gateway.
// Amounts below the unlock fee are settled locally.
func (c *FeeCalculator) GatewayRequired(amount int) bool {
	return amount >= c.tariff.UnlockFee
}

func (c *FeeCalculator) rateAt(t time.Time) int {
	if c.isDay(t) {
		return c.tariff.DayRate
	}
	return c.tariff.NightRate
}

func (c *FeeCalculator) isDay(t time.Time) bool {
	h := t.In(c.loc).Hour()
	return h >= c.tariff.DayStartHour && h < c.tariff.DayEndHour
}
