package pto

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BUSINESS-DAY CALENDAR
// =============================================================================

// DefaultHoursPerDay is the standard working-day length used when converting
// day counts to hours.
var DefaultHoursPerDay = decimal.NewFromInt(8)

// BusinessDaysBetween counts weekdays (Mon-Fri) in [start, end], inclusive
// on both ends. Returns 0 when end is before start.
func BusinessDaysBetween(start, end time.Time) int {
	current := DateOnly(start)
	last := DateOnly(end)

	days := 0
	for !current.After(last) {
		wd := current.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			days++
		}
		current = current.AddDate(0, 0, 1)
	}
	return days
}

// HoursFromDays converts a business-day count to decimal hours.
func HoursFromDays(days int, hoursPerDay decimal.Decimal) decimal.Decimal {
	return hoursPerDay.Mul(decimal.NewFromInt(int64(days)))
}

// RequestedHours is the default hours for a request spanning [start, end]:
// business days times the standard day length.
func RequestedHours(start, end time.Time) decimal.Decimal {
	return HoursFromDays(BusinessDaysBetween(start, end), DefaultHoursPerDay)
}
