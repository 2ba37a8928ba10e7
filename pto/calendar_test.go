package pto_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fieldserve/pto-engine/pto"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBusinessDaysBetween_FullWeek(t *testing.T) {
	// GIVEN: Monday through Friday of the same week
	// WHEN: Counting business days
	// THEN: All five weekdays count, inclusive on both ends

	monday := date(2026, time.March, 2)
	friday := date(2026, time.March, 6)

	assert.Equal(t, 5, pto.BusinessDaysBetween(monday, friday))
}

func TestBusinessDaysBetween_WeekendSpan(t *testing.T) {
	// GIVEN: Friday through the following Monday
	// WHEN: Counting business days
	// THEN: Saturday and Sunday are excluded, leaving two

	friday := date(2026, time.March, 6)
	monday := date(2026, time.March, 9)

	assert.Equal(t, 2, pto.BusinessDaysBetween(friday, monday))
}

func TestBusinessDaysBetween_WeekendOnly(t *testing.T) {
	saturday := date(2026, time.March, 7)
	sunday := date(2026, time.March, 8)

	assert.Equal(t, 0, pto.BusinessDaysBetween(saturday, sunday))
}

func TestBusinessDaysBetween_SingleDay(t *testing.T) {
	wednesday := date(2026, time.March, 4)

	assert.Equal(t, 1, pto.BusinessDaysBetween(wednesday, wednesday))
}

func TestBusinessDaysBetween_EndBeforeStart(t *testing.T) {
	assert.Equal(t, 0, pto.BusinessDaysBetween(date(2026, time.March, 6), date(2026, time.March, 2)))
}

func TestBusinessDaysBetween_IgnoresTimeOfDay(t *testing.T) {
	// GIVEN: Timestamps late Monday and early Friday
	// WHEN: Counting business days
	// THEN: Comparison is date-granular, so all five days count

	start := time.Date(2026, time.March, 2, 23, 30, 0, 0, time.UTC)
	end := time.Date(2026, time.March, 6, 0, 15, 0, 0, time.UTC)

	assert.Equal(t, 5, pto.BusinessDaysBetween(start, end))
}

func TestRequestedHours_FullWeek(t *testing.T) {
	// A Monday-Friday request defaults to 40 hours at 8 hours/day.
	hours := pto.RequestedHours(date(2026, time.March, 2), date(2026, time.March, 6))
	assert.True(t, hours.Equal(decimal.NewFromInt(40)), "got %s", hours)
}
