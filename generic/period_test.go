package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/generic"
)

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

// =============================================================================
// EFFECTIVE PERIOD
// =============================================================================

func TestEffectivePeriod_CoversBoundaries(t *testing.T) {
	p := generic.ClosedPeriod(date("2025-01-01"), date("2025-03-31"))

	assert.False(t, p.Covers(date("2024-12-31")), "before From")
	assert.True(t, p.Covers(date("2025-01-01")), "From is inclusive")
	assert.True(t, p.Covers(date("2025-02-15")))
	assert.True(t, p.Covers(date("2025-03-31")), "lapse check accepts the end date itself")
	assert.False(t, p.Covers(date("2025-04-01")))
}

func TestEffectivePeriod_OpenEnded(t *testing.T) {
	p := generic.OpenPeriod(date("2025-01-01"))

	assert.True(t, p.IsOpenEnded())
	assert.True(t, p.Covers(date("2099-01-01")))
	assert.Equal(t, "[2025-01-01, ∞)", p.String())
}

func TestEffectivePeriod_Overlaps(t *testing.T) {
	jan := generic.ClosedPeriod(date("2025-01-01"), date("2025-02-01"))
	feb := generic.OpenPeriod(date("2025-02-01"))
	midJan := generic.OpenPeriod(date("2025-01-15"))

	assert.False(t, jan.Overlaps(feb), "half-open periods that touch do not overlap")
	assert.False(t, feb.Overlaps(jan))
	assert.True(t, jan.Overlaps(midJan))
	assert.True(t, feb.Overlaps(midJan), "two open-ended periods always overlap")
}

func TestEffectivePeriod_Validate(t *testing.T) {
	assert.NoError(t, generic.OpenPeriod(date("2025-01-01")).Validate())

	err := generic.ClosedPeriod(date("2025-01-01"), date("2025-01-01")).Validate()
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	err = generic.EffectivePeriod{}.Validate()
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

// =============================================================================
// CLOCK TIME
// =============================================================================

func TestParseClockTime(t *testing.T) {
	valid := map[string]int{
		"00:00": 0,
		"6:00":  360,
		"06:30": 390,
		"23:59": 1439,
	}
	for in, want := range valid {
		ct, err := generic.ParseClockTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, ct.Minutes(), in)
	}

	for _, in := range []string{"", "24:00", "12:60", "1200", "12:5", "ab:cd", "-1:00", "123:00"} {
		_, err := generic.ParseClockTime(in)
		assert.ErrorIs(t, err, generic.ErrInvalidClockTime, in)
		assert.True(t, generic.IsClientError(err), in)
	}
}

func TestClockAt_Wraps(t *testing.T) {
	assert.Equal(t, generic.MustParseClockTime("00:30"), generic.ClockAt(1470))
	assert.Equal(t, generic.MustParseClockTime("23:00"), generic.ClockAt(-60))
	assert.Equal(t, "07:05", generic.ClockAt(425).String())
}

// =============================================================================
// CLOCK INTERVAL
// =============================================================================

func interval(t *testing.T, start, end string) generic.ClockInterval {
	t.Helper()
	i, err := generic.ParseClockInterval(start, end)
	require.NoError(t, err)
	return i
}

func TestClockInterval_Length(t *testing.T) {
	assert.Equal(t, 600, interval(t, "08:00", "18:00").Minutes)
	assert.Equal(t, 480, interval(t, "22:00", "06:00").Minutes, "end before start crosses midnight")
	assert.Equal(t, 1440, interval(t, "09:00", "09:00").Minutes, "equal start and end is a full day")
}

func TestClockInterval_ContainsAcrossMidnight(t *testing.T) {
	// GIVEN: a night window 20:00-06:00
	night := interval(t, "20:00", "06:00")

	// THEN: both the evening and the post-midnight part match
	assert.True(t, night.CrossesMidnight())
	assert.True(t, night.Contains(generic.MustParseClockTime("20:00")))
	assert.True(t, night.Contains(generic.MustParseClockTime("23:59")))
	assert.True(t, night.Contains(generic.MustParseClockTime("00:00")))
	assert.True(t, night.Contains(generic.MustParseClockTime("05:59")))
	assert.False(t, night.Contains(generic.MustParseClockTime("06:00")), "end is exclusive")
	assert.False(t, night.Contains(generic.MustParseClockTime("12:00")))

	assert.Equal(t, 360, night.MinutesUntilEnd(generic.MustParseClockTime("00:00")))
	assert.Equal(t, "20:00-06:00", night.String())
}

func TestClockInterval_OverlapsAndIntersect(t *testing.T) {
	day := interval(t, "06:00", "18:00")
	evening := interval(t, "17:00", "23:00")
	night := interval(t, "22:00", "06:00")

	assert.True(t, day.Overlaps(evening))
	assert.Equal(t, 60, day.Intersect(evening))

	assert.False(t, day.Overlaps(night), "touching at 06:00 is not overlapping")
	assert.Equal(t, 0, day.Intersect(night))

	assert.True(t, evening.Overlaps(night))
	assert.Equal(t, 60, night.Intersect(evening))

	// both arcs cross midnight
	late := interval(t, "20:00", "06:00")
	assert.Equal(t, 480, late.Intersect(night))
	assert.Equal(t, 480, night.Intersect(late))

	// a full day shares every minute of the other arc
	full := interval(t, "03:00", "03:00")
	assert.Equal(t, 480, full.Intersect(night))
	assert.Equal(t, 480, night.Intersect(full))
}

func TestClockInterval_ContainsForward(t *testing.T) {
	night := interval(t, "22:00", "06:00")

	assert.True(t, night.ContainsForward(generic.MustParseClockTime("22:00")))
	assert.True(t, night.ContainsForward(generic.MustParseClockTime("23:59")))
	assert.False(t, night.ContainsForward(generic.MustParseClockTime("02:00")), "cursor is not wrapped")
	assert.True(t, night.Contains(generic.MustParseClockTime("02:00")))
	assert.Equal(t, 480, night.MinutesUntilEnd(generic.MustParseClockTime("22:00")))

	day := interval(t, "06:00", "18:00")
	assert.True(t, day.ContainsForward(generic.MustParseClockTime("06:00")))
	assert.False(t, day.ContainsForward(generic.MustParseClockTime("18:00")))
}

// =============================================================================
// WEEKDAYS
// =============================================================================

func TestWeekdaySet(t *testing.T) {
	weekend, err := generic.ParseWeekdaySet([]string{"Saturday", "sunday"})
	require.NoError(t, err)

	assert.True(t, weekend.Allows(time.Saturday))
	assert.False(t, weekend.Allows(time.Tuesday))
	assert.Equal(t, []string{"sunday", "saturday"}, weekend.Names())

	var every generic.WeekdaySet
	assert.True(t, every.Allows(time.Tuesday), "empty set applies every day")
	assert.True(t, every.Shares(weekend))

	weekdays := generic.NewWeekdaySet(time.Monday, time.Friday)
	assert.False(t, weekdays.Shares(weekend))

	_, err = generic.ParseWeekdaySet([]string{"funday"})
	assert.ErrorIs(t, err, generic.ErrInvalidValue)
}

func TestParseDate(t *testing.T) {
	tp, err := generic.ParseDate("2025-03-11")
	require.NoError(t, err)
	assert.Equal(t, time.Tuesday, tp.Weekday())
	assert.Equal(t, "2025-03-11", tp.String())

	_, err = generic.ParseDate("11/03/2025")
	assert.True(t, errors.Is(err, generic.ErrInvalidDate))
}

func TestTimePoint_ComparesCalendarDays(t *testing.T) {
	morning := generic.TimePoint{Time: time.Date(2025, 3, 11, 8, 30, 0, 0, time.UTC)}
	evening := generic.TimePoint{Time: time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC)}

	assert.True(t, morning.Equal(evening), "clock part is ignored")
	assert.False(t, morning.Before(evening))
	assert.Equal(t, "2025-03-11", evening.String())
	assert.True(t, generic.DateOf(evening.Time).Equal(generic.MustParseDate("2025-03-11")))
	assert.Equal(t, "2025-03-12", morning.AddDays(1).String())
}
