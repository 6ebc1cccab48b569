package generic

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// EFFECTIVE PERIOD - Validity window of a versioned record
// =============================================================================

// EffectivePeriod is the [From, To) window during which a version applies.
// A nil To means the version is open-ended.
type EffectivePeriod struct {
	From TimePoint
	To   *TimePoint
}

// OpenPeriod starts at from and never ends.
func OpenPeriod(from TimePoint) EffectivePeriod {
	return EffectivePeriod{From: from}
}

// ClosedPeriod runs from from until (excluding) to.
func ClosedPeriod(from, to TimePoint) EffectivePeriod {
	return EffectivePeriod{From: from, To: &to}
}

func (p EffectivePeriod) IsOpenEnded() bool { return p.To == nil }

// StartedBy reports whether the period has begun on asOf (From <= asOf).
func (p EffectivePeriod) StartedBy(asOf TimePoint) bool {
	return p.From.BeforeOrEqual(asOf)
}

// StillValidOn reports whether the period has not yet lapsed on asOf.
// The end date itself still counts: a version whose To equals asOf is
// accepted, and a newer version starting that day wins on ordering.
func (p EffectivePeriod) StillValidOn(asOf TimePoint) bool {
	return p.To == nil || p.To.AfterOrEqual(asOf)
}

// Covers is StartedBy && StillValidOn.
func (p EffectivePeriod) Covers(asOf TimePoint) bool {
	return p.StartedBy(asOf) && p.StillValidOn(asOf)
}

// Overlaps reports whether two periods share a day under [From, To) rules.
func (p EffectivePeriod) Overlaps(other EffectivePeriod) bool {
	startsBeforeOtherEnds := other.To == nil || p.From.Before(*other.To)
	otherStartsBeforeEnd := p.To == nil || other.From.Before(*p.To)
	return startsBeforeOtherEnds && otherStartsBeforeEnd
}

func (p EffectivePeriod) Validate() error {
	if p.From.IsZero() {
		return fmt.Errorf("%w: missing effective_from", ErrInvalidPeriod)
	}
	if p.To != nil && !p.To.After(p.From) {
		return fmt.Errorf("%w: effective_to %s is not after effective_from %s", ErrInvalidPeriod, p.To, p.From)
	}
	return nil
}

func (p EffectivePeriod) String() string {
	if p.To == nil {
		return "[" + p.From.String() + ", ∞)"
	}
	return "[" + p.From.String() + ", " + p.To.String() + ")"
}

// =============================================================================
// CLOCK TIME - Minutes since midnight
// =============================================================================

const MinutesPerDay = 24 * 60

// ClockTime is a wall-clock instant in minutes since midnight, 0..1439.
type ClockTime int

// ParseClockTime parses "HH:MM" (or "H:MM") on a 24-hour clock.
func ParseClockTime(s string) (ClockTime, error) {
	raw := strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 {
		return 0, &InvalidValueError{Field: "time", Value: s, Err: ErrInvalidClockTime}
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, &InvalidValueError{Field: "time", Value: s, Err: ErrInvalidClockTime}
	}
	return ClockTime(h*60 + m), nil
}

func MustParseClockTime(s string) ClockTime {
	ct, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return ct
}

// ClockAt wraps an absolute minute offset onto the 24-hour clock.
func ClockAt(minutes int) ClockTime {
	m := minutes % MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return ClockTime(m)
}

func (c ClockTime) Minutes() int { return int(c) }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// =============================================================================
// CLOCK INTERVAL - Wrap-aware wall-clock interval
// =============================================================================

// ClockInterval is a wall-clock arc starting at Start and lasting Minutes.
// An end at or before the start crosses midnight; an end equal to the
// start spans the full 24 hours.
type ClockInterval struct {
	Start   ClockTime
	Minutes int // 1..MinutesPerDay
}

// NewClockInterval builds the arc from start to end.
func NewClockInterval(start, end ClockTime) ClockInterval {
	length := (int(end) - int(start) + MinutesPerDay) % MinutesPerDay
	if length == 0 {
		length = MinutesPerDay
	}
	return ClockInterval{Start: start, Minutes: length}
}

// ParseClockInterval parses a pair of "HH:MM" strings.
func ParseClockInterval(start, end string) (ClockInterval, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return ClockInterval{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return ClockInterval{}, err
	}
	return NewClockInterval(s, e), nil
}

func (i ClockInterval) End() ClockTime { return ClockAt(int(i.Start) + i.Minutes) }

// CrossesMidnight reports whether the arc runs past 24:00.
func (i ClockInterval) CrossesMidnight() bool { return int(i.Start)+i.Minutes > MinutesPerDay }

// offset is how far t lies past Start, walking forward on the clock.
func (i ClockInterval) offset(t ClockTime) int {
	return (int(t) - int(i.Start) + MinutesPerDay) % MinutesPerDay
}

// Contains reports whether t falls in [Start, End) on the wrapped clock.
func (i ClockInterval) Contains(t ClockTime) bool {
	return i.offset(t) < i.Minutes
}

// ContainsForward reports whether t falls in [Start, Start+Minutes)
// without wrapping t. Only the pre-midnight part of a crossing arc (and
// everything from Start onward) matches; 02:00 is not in 22:00-06:00.
func (i ClockInterval) ContainsForward(t ClockTime) bool {
	return int(i.Start) <= int(t) && int(t) < int(i.Start)+i.Minutes
}

// MinutesUntilEnd is the number of minutes from t to the arc's end.
// Only meaningful when Contains(t).
func (i ClockInterval) MinutesUntilEnd(t ClockTime) int {
	return i.Minutes - i.offset(t)
}

// Overlaps reports whether two arcs share at least one minute.
func (i ClockInterval) Overlaps(other ClockInterval) bool {
	return i.Intersect(other) > 0
}

// Intersect returns the minutes shared by two arcs. Other is lifted one
// day back and forward so a crossing arc is compared on both sides of
// midnight.
func (i ClockInterval) Intersect(other ClockInterval) int {
	lo, hi := int(i.Start), int(i.Start)+i.Minutes
	shared := 0
	for _, shift := range []int{-MinutesPerDay, 0, MinutesPerDay} {
		olo := int(other.Start) + shift
		ohi := olo + other.Minutes
		if n := min(hi, ohi) - max(lo, olo); n > 0 {
			shared += n
		}
	}
	return shared
}

func (i ClockInterval) String() string {
	return i.Start.String() + "-" + i.End().String()
}
