/*
Package generic provides the shared value types of the billing engine.

PURPOSE:
  This package contains the domain-agnostic building blocks used by the
  rate resolver, the price calculator and the time segmenter. Nothing in
  here knows what a subcontractor or a rate card is; it only knows about
  money, hours, calendar dates and wall-clock intervals.

KEY CONCEPTS IN THIS FILE (types.go):
  - Currency: ISO-4217 code carried next to every money figure
  - Identifiers: type-safe company / party / role IDs
  - TargetType: which side of a deal a rate prices (paying vs billing)
  - RoundMoney: the single rounding rule for output figures

DESIGN PRINCIPLES:
  1. Precision: all money and hours use decimal.Decimal, never float64
  2. Round once: intermediate products are never rounded, only final figures
  3. Type Safety: strong typing for IDs prevents mixing party/role IDs

USAGE:
  hours := generic.MinutesToHours(450)          // 7.5
  cost := generic.RoundMoney(hours.Mul(rate))   // rounded once, at the end

SEE ALSO:
  - time.go: Calendar dates
  - period.go: Effective periods and wrap-aware clock intervals
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places kept on output figures.
const MoneyPlaces = 2

type Currency string

const (
	CurrencyGBP Currency = "GBP"
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)

// DefaultCurrency is used when a rate card does not name one.
const DefaultCurrency = CurrencyGBP

// NormalizeCurrency upper-cases a currency code and applies the default.
func NormalizeCurrency(c string) Currency {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return DefaultCurrency
	}
	return Currency(c)
}

// RoundMoney rounds to two decimal places, half away from zero.
// Call it on final figures only.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

var (
	minutesPerHour = decimal.NewFromInt(60)
	hundred        = decimal.NewFromInt(100)
)

// MinutesToHours converts a whole number of minutes to hours.
func MinutesToHours(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).Div(minutesPerHour)
}

// CostForMinutes prices minutes at an hourly rate without rounding.
// Multiplying before dividing keeps 20 minutes at 30/h exactly 10.
func CostForMinutes(minutes int, hourlyRate decimal.Decimal) decimal.Decimal {
	return hourlyRate.Mul(decimal.NewFromInt(int64(minutes))).Div(minutesPerHour)
}

// Percent returns part/whole*100, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(whole)
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type PartyID string // subcontractor or client, depending on TargetType
type RoleID string
type RateCardID string
type TimeLogID string

// =============================================================================
// TARGET TYPE - Which side of the deal a rate prices
// =============================================================================

type TargetType string

const (
	TargetSubcontractor TargetType = "SUBCONTRACTOR" // paying side (cost)
	TargetClient        TargetType = "CLIENT"        // billing side (bill)
)

func (t TargetType) Valid() bool {
	return t == TargetSubcontractor || t == TargetClient
}

// ParseTargetType accepts any casing of the two target types.
func ParseTargetType(s string) (TargetType, error) {
	t := TargetType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &InvalidValueError{Field: "target_type", Value: s}
	}
	return t, nil
}
