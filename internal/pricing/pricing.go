// Package pricing derives tariff prices and billing dates.
//
// All amounts are integer minor units. Rounding is done in integer arithmetic so
// the result never depends on float representation.
package pricing

import (
	"errors"
	"time"
)

// Period is a tariff billing period in months.
type Period int

const (
	PeriodMonthly      Period = 1
	PeriodQuarterly    Period = 3
	PeriodSemiannually Period = 6
	PeriodAnnually     Period = 12
)

var (
	ErrInvalidBasePrice = errors.New("invalid_base_price")
	ErrInvalidDiscount  = errors.New("invalid_discount")
	ErrInvalidPeriod    = errors.New("invalid_period")
	ErrInvalidCashback  = errors.New("invalid_cashback_percent")
)

var periodSlugs = map[Period]string{
	PeriodMonthly:      "monthly",
	PeriodQuarterly:    "quarterly",
	PeriodSemiannually: "semiannually",
	PeriodAnnually:     "annually",
}

func (p Period) Valid() bool {
	_, ok := periodSlugs[p]
	return ok
}

func (p Period) Slug() string {
	return periodSlugs[p]
}

func (p Period) Months() int {
	return int(p)
}

// ParsePeriod accepts a month count or a period slug.
func ParsePeriod(value string) (Period, error) {
	for period, slug := range periodSlugs {
		if slug == value {
			return period, nil
		}
	}
	switch value {
	case "1":
		return PeriodMonthly, nil
	case "3":
		return PeriodQuarterly, nil
	case "6":
		return PeriodSemiannually, nil
	case "12":
		return PeriodAnnually, nil
	}
	return 0, ErrInvalidPeriod
}

// Prices holds the values stored on a tariff row.
type Prices struct {
	PricePerMonth  int64
	PricePerPeriod int64
}

// PriceWithDiscount applies discountPercent to base and rounds half-up to a
// multiple of 10: floor(base*(100-d)/1000 + 0.5) * 10.
func PriceWithDiscount(base int64, discountPercent int) int64 {
	return ((base*int64(100-discountPercent) + 500) / 1000) * 10
}

func PricePerPeriod(pricePerMonth int64, period Period) int64 {
	return pricePerMonth * int64(period)
}

// Validate rejects tariff inputs the calculator is not defined for.
func Validate(base int64, discountPercent int, period Period) error {
	if base <= 0 {
		return ErrInvalidBasePrice
	}
	if discountPercent < 0 || discountPercent > 100 {
		return ErrInvalidDiscount
	}
	if !period.Valid() {
		return ErrInvalidPeriod
	}
	return nil
}

// Derive validates the tariff inputs and computes its stored prices.
func Derive(base int64, discountPercent int, period Period) (Prices, error) {
	if err := Validate(base, discountPercent, period); err != nil {
		return Prices{}, err
	}
	perMonth := PriceWithDiscount(base, discountPercent)
	return Prices{
		PricePerMonth:  perMonth,
		PricePerPeriod: PricePerPeriod(perMonth, period),
	}, nil
}

// CashbackAmount is the cashback accrued for one charge, truncated toward zero.
func CashbackAmount(charged int64, cashbackPercent int) int64 {
	if charged <= 0 || cashbackPercent <= 0 {
		return 0
	}
	return charged * int64(cashbackPercent) / 100
}

func ValidateCashbackPercent(percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidCashback
	}
	return nil
}

// AddMonths moves t forward by n calendar months keeping the time of day.
// The day is clamped to the last day of the target month, so Jan 31 + 1 is
// Feb 28 (or 29) rather than time.AddDate's normalized Mar 3.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	first := time.Date(year, month+time.Month(n), 1, hour, min, sec, t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NextDue returns the next charge date for a cycle starting at from. A
// positive testInterval replaces the calendar period.
func NextDue(from time.Time, period Period, testInterval time.Duration) time.Time {
	if testInterval > 0 {
		return from.Add(testInterval)
	}
	return AddMonths(from, period.Months())
}

// CashbackWindow returns the settlement window containing now: from the most
// recent cutoff (inclusive) to the next one (exclusive). Cutoffs fall at
// midnight of cutoffDay in now's location.
func CashbackWindow(now time.Time, cutoffDay int) (time.Time, time.Time) {
	year, month, day := now.Date()
	start := time.Date(year, month, cutoffDay, 0, 0, 0, 0, now.Location())
	if day < cutoffDay {
		start = time.Date(year, month-1, cutoffDay, 0, 0, 0, 0, now.Location())
	}
	end := time.Date(start.Year(), start.Month()+1, cutoffDay, 0, 0, 0, 0, now.Location())
	return start, end
}

// MonthBounds returns [first day of now's month, first day of the next month).
func MonthBounds(now time.Time) (time.Time, time.Time) {
	year, month, _ := now.Date()
	start := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 1, 0)
}
