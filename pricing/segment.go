package pricing

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/rates"
)

// =============================================================================
// TIME-BASED RATE WINDOWS
// =============================================================================

// FallbackLabel names the closing segment priced at the flat fallback rate.
const FallbackLabel = "Standard"

// TimeBasedRate is a wall-clock window with its own pay and bill rates.
// EndTime at or before StartTime means the window crosses midnight.
type TimeBasedRate struct {
	StartTime         string
	EndTime           string
	SubcontractorRate decimal.Decimal
	ClientRate        decimal.Decimal
	Description       string
	// ApplicableDays gates the window by weekday; empty means every day.
	ApplicableDays generic.WeekdaySet
}

type window struct {
	rate     TimeBasedRate
	interval generic.ClockInterval
	label    string
}

// compileWindows parses clock strings and orders windows by start time.
// The sort is stable so equal starts keep their input order.
func compileWindows(defs []TimeBasedRate) ([]window, error) {
	compiled := make([]window, 0, len(defs))
	for _, r := range defs {
		interval, err := generic.ParseClockInterval(r.StartTime, r.EndTime)
		if err != nil {
			return nil, err
		}
		if r.SubcontractorRate.IsNegative() || r.ClientRate.IsNegative() {
			return nil, &generic.InvalidValueError{Field: "window_rate", Value: interval.String()}
		}
		label := interval.String()
		if r.Description != "" {
			label += " (" + r.Description + ")"
		}
		compiled = append(compiled, window{rate: r, interval: interval, label: label})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].interval.Start < compiled[j].interval.Start
	})
	return compiled, nil
}

// =============================================================================
// SEGMENT - Split a shift across rate windows
// =============================================================================

type SegmentInput struct {
	StartTime          string
	EndTime            string
	Windows            []TimeBasedRate
	FallbackSubRate    decimal.Decimal
	FallbackClientRate decimal.Decimal
	// Date of the shift start; only used for ApplicableDays gating.
	Date *generic.TimePoint
}

// BreakdownEntry is one priced slice of a shift.
type BreakdownEntry struct {
	Label      string
	Minutes    int
	Hours      decimal.Decimal
	SubRate    decimal.Decimal
	ClientRate decimal.Decimal
	SubCost    decimal.Decimal
	ClientCost decimal.Decimal
}

type TimeRangeCalculation struct {
	TotalHours        decimal.Decimal
	SubcontractorCost decimal.Decimal
	ClientBill        decimal.Decimal
	Breakdown         []BreakdownEntry
}

// Segment prices the interval StartTime..EndTime against the windows.
//
// An end at or before the start crosses midnight, so equal start and end
// is a full 24-hour shift.
//
// Walking from the start, the first window in start-time order whose
// [start, start+length) range holds the clock minute of the cursor and
// that passes day gating prices the minutes up to its end; then the walk
// re-evaluates from the new position. The cursor is not wrapped back onto
// a window, so a shift starting at 02:00 does not match a 22:00-06:00
// window. A window
// rejected by day gating is skipped and scanning continues. When no window
// applies, every remaining minute goes to one closing fallback entry and
// the walk stops. Entries with the same label are never merged.
func Segment(in SegmentInput) (TimeRangeCalculation, error) {
	shift, err := generic.ParseClockInterval(in.StartTime, in.EndTime)
	if err != nil {
		return TimeRangeCalculation{}, err
	}
	if in.FallbackSubRate.IsNegative() || in.FallbackClientRate.IsNegative() {
		return TimeRangeCalculation{}, &generic.InvalidValueError{Field: "fallback_rate", Value: shift.String()}
	}
	windows, err := compileWindows(in.Windows)
	if err != nil {
		return TimeRangeCalculation{}, err
	}

	gated := in.Date != nil
	var weekday time.Weekday
	if gated {
		weekday = in.Date.Weekday()
	}

	var breakdown []BreakdownEntry
	subTotal, clientTotal := decimal.Zero, decimal.Zero
	cursor, remaining := int(shift.Start), shift.Minutes
	for remaining > 0 {
		now := generic.ClockAt(cursor)

		w, ok := firstApplicable(windows, now, gated, weekday)
		if !ok {
			entry := newEntry(FallbackLabel, remaining, in.FallbackSubRate, in.FallbackClientRate)
			breakdown = append(breakdown, entry)
			subTotal = subTotal.Add(entry.SubCost)
			clientTotal = clientTotal.Add(entry.ClientCost)
			break
		}

		take := min(remaining, w.interval.MinutesUntilEnd(now))
		entry := newEntry(w.label, take, w.rate.SubcontractorRate, w.rate.ClientRate)
		breakdown = append(breakdown, entry)
		subTotal = subTotal.Add(entry.SubCost)
		clientTotal = clientTotal.Add(entry.ClientCost)

		cursor += take
		remaining -= take
	}

	return TimeRangeCalculation{
		TotalHours:        generic.RoundMoney(generic.MinutesToHours(shift.Minutes)),
		SubcontractorCost: generic.RoundMoney(subTotal),
		ClientBill:        generic.RoundMoney(clientTotal),
		Breakdown:         breakdown,
	}, nil
}

// firstApplicable returns the earliest-starting window reaching now from
// its start that is not gated out on weekday.
func firstApplicable(windows []window, now generic.ClockTime, gated bool, weekday time.Weekday) (window, bool) {
	for _, w := range windows {
		if !w.interval.ContainsForward(now) {
			continue
		}
		if gated && !w.rate.ApplicableDays.Allows(weekday) {
			continue
		}
		return w, true
	}
	return window{}, false
}

func newEntry(label string, minutes int, subRate, clientRate decimal.Decimal) BreakdownEntry {
	return BreakdownEntry{
		Label:      label,
		Minutes:    minutes,
		Hours:      generic.MinutesToHours(minutes),
		SubRate:    subRate,
		ClientRate: clientRate,
		SubCost:    generic.CostForMinutes(minutes, subRate),
		ClientCost: generic.CostForMinutes(minutes, clientRate),
	}
}

// =============================================================================
// WINDOW VALIDATION
// =============================================================================

// FindOverlaps lists every pair of windows that cover a common minute on
// a shared applicable day. Segment still resolves such pairs by start
// order; authoring tools should reject them.
func FindOverlaps(windows []TimeBasedRate) ([]*generic.WindowOverlapError, error) {
	compiled, err := compileWindows(windows)
	if err != nil {
		return nil, err
	}
	var overlaps []*generic.WindowOverlapError
	for i := 0; i < len(compiled); i++ {
		for j := i + 1; j < len(compiled); j++ {
			a, b := compiled[i], compiled[j]
			if !a.rate.ApplicableDays.Shares(b.rate.ApplicableDays) || a.interval.Intersect(b.interval) == 0 {
				continue
			}
			overlaps = append(overlaps, &generic.WindowOverlapError{
				First:  a.label,
				Second: b.label,
				Days:   sharedDays(a.rate.ApplicableDays, b.rate.ApplicableDays).Names(),
			})
		}
	}
	return overlaps, nil
}

// ValidateWindows fails on malformed or overlapping windows.
func ValidateWindows(windows []TimeBasedRate) error {
	overlaps, err := FindOverlaps(windows)
	if err != nil {
		return err
	}
	errs := make([]error, len(overlaps))
	for i, o := range overlaps {
		errs[i] = o
	}
	return errors.Join(errs...)
}

func sharedDays(a, b generic.WeekdaySet) generic.WeekdaySet {
	switch {
	case a.IsEmpty():
		return b
	case b.IsEmpty():
		return a
	}
	return a & b
}

// =============================================================================
// TIME RANGE → PRICE CALCULATION
// =============================================================================

// FromTimeRange expresses a segmented result in the PriceCalculation shape.
// The fallback rates reported are the resolved base rates.
func FromTimeRange(trc TimeRangeCalculation, sub, client rates.ResolvedRate, shiftType rates.ShiftType) (PriceCalculation, error) {
	currency, err := sharedCurrency(sub, client)
	if err != nil {
		return PriceCalculation{}, err
	}
	calc := PriceCalculation{
		ShiftType:        shiftType,
		SubBaseRate:      sub.BaseRate,
		SubOTRate:        decimal.Zero,
		ClientBillRate:   client.BaseRate,
		ClientOTBillRate: decimal.Zero,
		Currency:         currency,
	}
	calc.applyTotals(trc.SubcontractorCost, trc.ClientBill)
	return calc, nil
}
