/*
Package rates holds rate cards and resolves the version effective on a date.

PURPOSE:
  A rate card is a versioned, dated record of what is paid to a
  subcontractor (SUBCONTRACTOR side) or charged to a client (CLIENT side)
  for a role and a shift classification. This package defines the card
  shape, the fixed shift type → rate label table, and the Resolver that
  picks the single version effective on a given date.

KEY CONCEPTS IN THIS FILE (types.go):
  - ShiftType: how a worked shift is classified by the caller
  - RateLabel: the classification used in the rate card lookup key
  - RateTerms: sum type of HourlyTerms | ShiftTerms | DailyTerms
  - RateCard: one version of a card, keyed by Key and dated by Effective
  - ResolvedRate: base/OT rate extracted from the effective version

RATE TERMS:
  Each rate mode carries only its own fields. A DAILY card cannot hold an
  hourly rate because DailyTerms has no such field:

    HourlyTerms{Rate: 20, OTRate: nil}   // OT defaults to 1.5 × Rate
    ShiftTerms{Rate: 180}                // OT forced to 0
    DailyTerms{Rate: 240}                // OT forced to 0

SEE ALSO:
  - resolver.go: Effective-dated lookup
  - store.go: Query contract consumed by the resolver
  - factory/ratecard.go: JSON/YAML authoring format → RateCard
*/
package rates

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/generic"
)

// =============================================================================
// SHIFT TYPE → RATE LABEL
// =============================================================================

type ShiftType string

const (
	ShiftWeekdayDay   ShiftType = "WEEKDAY_DAY"
	ShiftWeekdayNight ShiftType = "WEEKDAY_NIGHT"
	ShiftSaturday     ShiftType = "SATURDAY"
	ShiftSunday       ShiftType = "SUNDAY"
	ShiftBankHoliday  ShiftType = "BANK_HOLIDAY"
	ShiftFlat         ShiftType = "FLAT_SHIFT"
	ShiftDaily        ShiftType = "DAILY"
)

// AllShiftTypes lists every shift type the system accepts.
var AllShiftTypes = []ShiftType{
	ShiftWeekdayDay,
	ShiftWeekdayNight,
	ShiftSaturday,
	ShiftSunday,
	ShiftBankHoliday,
	ShiftFlat,
	ShiftDaily,
}

type RateLabel string

const (
	LabelDay         RateLabel = "DAY"
	LabelNight       RateLabel = "NIGHT"
	LabelSaturday    RateLabel = "SATURDAY"
	LabelSunday      RateLabel = "SUNDAY"
	LabelBankHoliday RateLabel = "BANK_HOLIDAY"
	LabelShift       RateLabel = "SHIFT"
	LabelDaily       RateLabel = "DAILY"
)

var AllRateLabels = []RateLabel{
	LabelDay, LabelNight, LabelSaturday, LabelSunday, LabelBankHoliday, LabelShift, LabelDaily,
}

// shiftLabels must stay total over AllShiftTypes.
var shiftLabels = map[ShiftType]RateLabel{
	ShiftWeekdayDay:   LabelDay,
	ShiftWeekdayNight: LabelNight,
	ShiftSaturday:     LabelSaturday,
	ShiftSunday:       LabelSunday,
	ShiftBankHoliday:  LabelBankHoliday,
	ShiftFlat:         LabelShift,
	ShiftDaily:        LabelDaily,
}

// LabelFor maps a shift type to its rate label. An unmapped shift type is
// an invariant violation and never defaults.
func LabelFor(st ShiftType) (RateLabel, error) {
	label, ok := shiftLabels[st]
	if !ok {
		return "", &generic.UnmappedShiftTypeError{ShiftType: string(st)}
	}
	return label, nil
}

// ParseShiftType validates caller input against the declared shift types.
func ParseShiftType(s string) (ShiftType, error) {
	st := ShiftType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllShiftTypes {
		if st == known {
			return st, nil
		}
	}
	return "", &generic.InvalidValueError{Field: "shift_type", Value: s}
}

func ParseRateLabel(s string) (RateLabel, error) {
	l := RateLabel(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllRateLabels {
		if l == known {
			return l, nil
		}
	}
	return "", &generic.InvalidValueError{Field: "rate_label", Value: s}
}

// =============================================================================
// RATE TERMS - Sum type keyed by rate mode
// =============================================================================

type RateMode string

const (
	ModeHourly RateMode = "HOURLY"
	ModeShift  RateMode = "SHIFT"
	ModeDaily  RateMode = "DAILY"
)

// IsUnitBased reports whether hours are read as a count of shifts or days.
func (m RateMode) IsUnitBased() bool { return m == ModeShift || m == ModeDaily }

var defaultOTMultiplier = decimal.NewFromFloat(1.5)

// RateTerms is implemented only by HourlyTerms, ShiftTerms and DailyTerms.
type RateTerms interface {
	Mode() RateMode
	// Rates returns the base rate and the overtime rate.
	Rates() (base, ot decimal.Decimal)
	validate() error
}

// HourlyTerms prices by the hour. A nil OTRate means 1.5 × Rate.
type HourlyTerms struct {
	Rate   decimal.Decimal
	OTRate *decimal.Decimal
}

func (HourlyTerms) Mode() RateMode { return ModeHourly }

func (t HourlyTerms) Rates() (decimal.Decimal, decimal.Decimal) {
	if t.OTRate != nil {
		return t.Rate, *t.OTRate
	}
	return t.Rate, t.Rate.Mul(defaultOTMultiplier)
}

func (t HourlyTerms) validate() error {
	if t.Rate.IsNegative() {
		return fmt.Errorf("%w: negative hourly rate", generic.ErrInvalidRateCard)
	}
	if t.OTRate != nil && t.OTRate.IsNegative() {
		return fmt.Errorf("%w: negative overtime rate", generic.ErrInvalidRateCard)
	}
	return nil
}

// ShiftTerms prices one flat amount per shift.
type ShiftTerms struct {
	Rate decimal.Decimal
}

func (ShiftTerms) Mode() RateMode { return ModeShift }
func (t ShiftTerms) Rates() (decimal.Decimal, decimal.Decimal) { return t.Rate, decimal.Zero }

func (t ShiftTerms) validate() error {
	if t.Rate.IsNegative() {
		return fmt.Errorf("%w: negative shift rate", generic.ErrInvalidRateCard)
	}
	return nil
}

// DailyTerms prices one flat amount per day.
type DailyTerms struct {
	Rate decimal.Decimal
}

func (DailyTerms) Mode() RateMode { return ModeDaily }
func (t DailyTerms) Rates() (decimal.Decimal, decimal.Decimal) { return t.Rate, decimal.Zero }

func (t DailyTerms) validate() error {
	if t.Rate.IsNegative() {
		return fmt.Errorf("%w: negative daily rate", generic.ErrInvalidRateCard)
	}
	return nil
}

// =============================================================================
// RATE CARD
// =============================================================================

// Key identifies the version chain a rate card belongs to.
type Key struct {
	CompanyID  generic.CompanyID
	TargetType generic.TargetType
	TargetID   generic.PartyID
	RoleID     generic.RoleID
	RateLabel  RateLabel
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.CompanyID, k.TargetType, k.TargetID, k.RoleID, k.RateLabel)
}

func (k Key) validate() error {
	switch {
	case k.CompanyID == "":
		return &generic.InvalidValueError{Field: "company_id", Value: ""}
	case !k.TargetType.Valid():
		return &generic.InvalidValueError{Field: "target_type", Value: string(k.TargetType)}
	case k.TargetID == "":
		return &generic.InvalidValueError{Field: "target_id", Value: ""}
	case k.RoleID == "":
		return &generic.InvalidValueError{Field: "role_id", Value: ""}
	}
	if _, err := ParseRateLabel(string(k.RateLabel)); err != nil {
		return err
	}
	return nil
}

// RateCard is one version of a rate card. Cards are read-only to the
// calculation core.
type RateCard struct {
	ID        generic.RateCardID
	Key       Key
	Terms     RateTerms
	Effective generic.EffectivePeriod
	Currency  generic.Currency

	MinHours *decimal.Decimal

	// Carried on the card; not applied by any calculation yet.
	WeekendMultiplier *decimal.Decimal
	NightMultiplier   *decimal.Decimal

	CreatedAt time.Time
}

func (c RateCard) Mode() RateMode { return c.Terms.Mode() }

// ValidateCard checks a card before it is stored.
func ValidateCard(c RateCard) error {
	if err := c.Key.validate(); err != nil {
		return fmt.Errorf("%w: %v", generic.ErrInvalidRateCard, err)
	}
	if c.Terms == nil {
		return fmt.Errorf("%w: missing rate terms", generic.ErrInvalidRateCard)
	}
	if err := c.Terms.validate(); err != nil {
		return err
	}
	switch c.Key.RateLabel {
	case LabelShift:
		if c.Terms.Mode() != ModeShift {
			return fmt.Errorf("%w: label %s requires rate mode %s", generic.ErrInvalidRateCard, LabelShift, ModeShift)
		}
	case LabelDaily:
		if c.Terms.Mode() != ModeDaily {
			return fmt.Errorf("%w: label %s requires rate mode %s", generic.ErrInvalidRateCard, LabelDaily, ModeDaily)
		}
	}
	if err := c.Effective.Validate(); err != nil {
		return err
	}
	if c.MinHours != nil && c.MinHours.IsNegative() {
		return fmt.Errorf("%w: negative min hours", generic.ErrInvalidRateCard)
	}
	return nil
}

// =============================================================================
// RESOLVED RATE - Output of one resolution, never persisted
// =============================================================================

type ResolvedRate struct {
	Label    RateLabel
	Mode     RateMode
	BaseRate decimal.Decimal
	OTRate   decimal.Decimal // zero for SHIFT and DAILY
	Currency generic.Currency
	MinHours *decimal.Decimal

	// Source identifies the version the figures came from.
	SourceID        generic.RateCardID
	SourceKey       Key
	SourceEffective generic.EffectivePeriod
}

// Resolve extracts base and overtime rates from a card.
func (c RateCard) Resolve() ResolvedRate {
	base, ot := c.Terms.Rates()
	return ResolvedRate{
		Label:           c.Key.RateLabel,
		Mode:            c.Terms.Mode(),
		BaseRate:        base,
		OTRate:          ot,
		Currency:        c.Currency,
		MinHours:        c.MinHours,
		SourceID:        c.ID,
		SourceKey:       c.Key,
		SourceEffective: c.Effective,
	}
}

// =============================================================================
// STORED TERMS - Column form used by the SQL stores
// =============================================================================

// StoredTerms splits terms into the columns a store persists. otRate is
// nil unless an hourly card carries an explicit overtime rate.
func StoredTerms(t RateTerms) (mode RateMode, rate decimal.Decimal, otRate *decimal.Decimal) {
	switch v := t.(type) {
	case HourlyTerms:
		return ModeHourly, v.Rate, v.OTRate
	case ShiftTerms:
		return ModeShift, v.Rate, nil
	case DailyTerms:
		return ModeDaily, v.Rate, nil
	}
	return "", decimal.Zero, nil
}

// TermsFor rebuilds terms from stored columns.
func TermsFor(mode RateMode, rate decimal.Decimal, otRate *decimal.Decimal) (RateTerms, error) {
	switch mode {
	case ModeHourly:
		return HourlyTerms{Rate: rate, OTRate: otRate}, nil
	case ModeShift:
		return ShiftTerms{Rate: rate}, nil
	case ModeDaily:
		return DailyTerms{Rate: rate}, nil
	}
	return nil, &generic.InvalidValueError{Field: "rate_mode", Value: string(mode), Err: generic.ErrInvalidRateCard}
}
