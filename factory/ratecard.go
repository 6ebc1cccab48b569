/*
Package factory converts authored rate documents into rate cards and
rate window templates.

PURPOSE:
  Rate cards are authored as JSON (admin UI, API) or YAML (files checked
  into ops repos, the ratectl CLI). The authoring shape is flat: a
  rate_mode plus whichever rate field that mode uses. The factory turns it
  into the rates.RateTerms sum type and refuses fields that do not belong
  to the mode, so a DAILY card can never carry an hourly rate.

DOCUMENT SCHEMA:
  {
    "id": "rc-nurse-day-2025",          // optional, generated when empty
    "company_id": "acme",
    "target_type": "SUBCONTRACTOR",     // or CLIENT
    "target_id": "sub-42",
    "role_id": "nurse",
    "rate_label": "DAY",
    "rate_mode": "HOURLY",              // HOURLY | SHIFT | DAILY
    "hourly_rate": 20.00,
    "ot_hourly_rate": 30.00,            // optional, defaults to 1.5 × hourly
    "currency": "GBP",
    "min_hours": 4,
    "effective_from": "2025-01-01",
    "effective_to": "2026-01-01"        // optional, exclusive
  }

  SHIFT cards carry "shift_rate", DAILY cards carry "daily_rate".

TEMPLATES:
  A rate template is a named list of time-of-day windows. Templates are
  checked for overlapping windows at parse time; Segment itself tolerates
  overlaps (first by start time wins) but authored templates must not
  rely on that.

USAGE:
  cards, err := factory.ParseRateCards(data)       // JSON or YAML
  tmpl, err := factory.ParseRateTemplate(data)
  windows := factory.StandardWindows(day, night, weekend)

SEE ALSO:
  - rates/types.go: RateCard and RateTerms
  - pricing/segment.go: TimeBasedRate and ValidateWindows
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
)

// =============================================================================
// AMOUNT - Decimal that decodes from JSON and YAML alike
// =============================================================================

// Amount accepts numbers and numeric strings in both formats.
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) *Amount { return &Amount{Decimal: d} }

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %q is not a number", node.Line, node.Value)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (interface{}, error) {
	return a.Decimal.String(), nil
}

func (a *Amount) value() *decimal.Decimal {
	if a == nil {
		return nil
	}
	d := a.Decimal
	return &d
}

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// RateCardDoc is the authoring representation of one rate card version.
type RateCardDoc struct {
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	CompanyID  string `json:"company_id" yaml:"company_id" validate:"required"`
	TargetType string `json:"target_type" yaml:"target_type" validate:"required"`
	TargetID   string `json:"target_id" yaml:"target_id" validate:"required"`
	RoleID     string `json:"role_id" yaml:"role_id" validate:"required"`
	RateLabel  string `json:"rate_label" yaml:"rate_label" validate:"required"`
	RateMode   string `json:"rate_mode,omitempty" yaml:"rate_mode,omitempty"`

	HourlyRate   *Amount `json:"hourly_rate,omitempty" yaml:"hourly_rate,omitempty"`
	OTHourlyRate *Amount `json:"ot_hourly_rate,omitempty" yaml:"ot_hourly_rate,omitempty"`
	ShiftRate    *Amount `json:"shift_rate,omitempty" yaml:"shift_rate,omitempty"`
	DailyRate    *Amount `json:"daily_rate,omitempty" yaml:"daily_rate,omitempty"`

	Currency          string  `json:"currency,omitempty" yaml:"currency,omitempty"`
	MinHours          *Amount `json:"min_hours,omitempty" yaml:"min_hours,omitempty"`
	WeekendMultiplier *Amount `json:"weekend_multiplier,omitempty" yaml:"weekend_multiplier,omitempty"`
	NightMultiplier   *Amount `json:"night_multiplier,omitempty" yaml:"night_multiplier,omitempty"`

	EffectiveFrom string `json:"effective_from" yaml:"effective_from" validate:"required"`
	EffectiveTo   string `json:"effective_to,omitempty" yaml:"effective_to,omitempty"`
}

type rateCardsDoc struct {
	RateCards []RateCardDoc `json:"rate_cards" yaml:"rate_cards"`
}

// WindowDoc is the authoring representation of one time-based rate.
type WindowDoc struct {
	StartTime         string   `json:"start_time" yaml:"start_time" validate:"required"`
	EndTime           string   `json:"end_time" yaml:"end_time" validate:"required"`
	SubcontractorRate Amount   `json:"subcontractor_rate" yaml:"subcontractor_rate"`
	ClientRate        Amount   `json:"client_rate" yaml:"client_rate"`
	Description       string   `json:"description,omitempty" yaml:"description,omitempty"`
	ApplicableDays    []string `json:"applicable_days,omitempty" yaml:"applicable_days,omitempty"`
}

type RateTemplateDoc struct {
	Name    string      `json:"name" yaml:"name"`
	Windows []WindowDoc `json:"windows" yaml:"windows"`
}

// RateTemplate is a validated, named set of windows.
type RateTemplate struct {
	Name    string
	Windows []pricing.TimeBasedRate
}

// =============================================================================
// RATE CARD FACTORY
// =============================================================================

// RateCardFactory converts documents to rate cards.
type RateCardFactory struct {
	NewID func() string
	Now   func() time.Time
}

func NewRateCardFactory() *RateCardFactory {
	return &RateCardFactory{NewID: uuid.NewString, Now: time.Now}
}

// ParseRateCard parses one card from JSON or YAML.
func ParseRateCard(data []byte) (rates.RateCard, error) {
	return NewRateCardFactory().ParseRateCard(data)
}

// ParseRateCards parses a list of cards, either bare or under "rate_cards".
func ParseRateCards(data []byte) ([]rates.RateCard, error) {
	return NewRateCardFactory().ParseRateCards(data)
}

func (f *RateCardFactory) ParseRateCard(data []byte) (rates.RateCard, error) {
	var doc RateCardDoc
	if err := decode(data, &doc); err != nil {
		return rates.RateCard{}, fmt.Errorf("failed to parse rate card: %w", err)
	}
	return f.FromDoc(doc)
}

func (f *RateCardFactory) ParseRateCards(data []byte) ([]rates.RateCard, error) {
	var docs []RateCardDoc
	if isList(data) {
		if err := decode(data, &docs); err != nil {
			return nil, fmt.Errorf("failed to parse rate cards: %w", err)
		}
	} else {
		var wrapped rateCardsDoc
		if err := decode(data, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse rate cards: %w", err)
		}
		docs = wrapped.RateCards
	}

	cards := make([]rates.RateCard, 0, len(docs))
	for i, doc := range docs {
		card, err := f.FromDoc(doc)
		if err != nil {
			return nil, fmt.Errorf("rate card %d: %w", i, err)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// FromDoc converts and validates one document.
func (f *RateCardFactory) FromDoc(doc RateCardDoc) (rates.RateCard, error) {
	targetType, err := generic.ParseTargetType(doc.TargetType)
	if err != nil {
		return rates.RateCard{}, err
	}
	label, err := rates.ParseRateLabel(doc.RateLabel)
	if err != nil {
		return rates.RateCard{}, err
	}
	terms, err := parseTerms(doc, label)
	if err != nil {
		return rates.RateCard{}, err
	}
	period, err := parsePeriod(doc.EffectiveFrom, doc.EffectiveTo)
	if err != nil {
		return rates.RateCard{}, err
	}

	id := doc.ID
	if id == "" {
		id = f.NewID()
	}
	card := rates.RateCard{
		ID: generic.RateCardID(id),
		Key: rates.Key{
			CompanyID:  generic.CompanyID(strings.TrimSpace(doc.CompanyID)),
			TargetType: targetType,
			TargetID:   generic.PartyID(strings.TrimSpace(doc.TargetID)),
			RoleID:     generic.RoleID(strings.TrimSpace(doc.RoleID)),
			RateLabel:  label,
		},
		Terms:             terms,
		Effective:         period,
		Currency:          generic.NormalizeCurrency(doc.Currency),
		MinHours:          doc.MinHours.value(),
		WeekendMultiplier: doc.WeekendMultiplier.value(),
		NightMultiplier:   doc.NightMultiplier.value(),
		CreatedAt:         f.Now().UTC(),
	}
	if err := rates.ValidateCard(card); err != nil {
		return rates.RateCard{}, err
	}
	return card, nil
}

// ToDoc converts a card back to its authoring shape.
func ToDoc(card rates.RateCard) RateCardDoc {
	doc := RateCardDoc{
		ID:                string(card.ID),
		CompanyID:         string(card.Key.CompanyID),
		TargetType:        string(card.Key.TargetType),
		TargetID:          string(card.Key.TargetID),
		RoleID:            string(card.Key.RoleID),
		RateLabel:         string(card.Key.RateLabel),
		Currency:          string(card.Currency),
		EffectiveFrom:     card.Effective.From.String(),
		MinHours:          optionalAmount(card.MinHours),
		WeekendMultiplier: optionalAmount(card.WeekendMultiplier),
		NightMultiplier:   optionalAmount(card.NightMultiplier),
	}
	if card.Effective.To != nil {
		doc.EffectiveTo = card.Effective.To.String()
	}
	switch t := card.Terms.(type) {
	case rates.HourlyTerms:
		doc.RateMode = string(rates.ModeHourly)
		doc.HourlyRate = NewAmount(t.Rate)
		doc.OTHourlyRate = optionalAmount(t.OTRate)
	case rates.ShiftTerms:
		doc.RateMode = string(rates.ModeShift)
		doc.ShiftRate = NewAmount(t.Rate)
	case rates.DailyTerms:
		doc.RateMode = string(rates.ModeDaily)
		doc.DailyRate = NewAmount(t.Rate)
	}
	return doc
}

// =============================================================================
// RATE TEMPLATES
// =============================================================================

// ParseRateTemplate parses a named window set and rejects overlapping
// windows.
func ParseRateTemplate(data []byte) (RateTemplate, error) {
	var doc RateTemplateDoc
	if err := decode(data, &doc); err != nil {
		return RateTemplate{}, fmt.Errorf("failed to parse rate template: %w", err)
	}
	windows, err := WindowsFromDocs(doc.Windows)
	if err != nil {
		return RateTemplate{}, err
	}
	if err := pricing.ValidateWindows(windows); err != nil {
		return RateTemplate{}, fmt.Errorf("rate template %q: %w", doc.Name, err)
	}
	return RateTemplate{Name: doc.Name, Windows: windows}, nil
}

// WindowsFromDocs converts window documents without checking overlaps.
func WindowsFromDocs(docs []WindowDoc) ([]pricing.TimeBasedRate, error) {
	windows := make([]pricing.TimeBasedRate, 0, len(docs))
	for i, d := range docs {
		days, err := generic.ParseWeekdaySet(d.ApplicableDays)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		if _, err := generic.ParseClockInterval(d.StartTime, d.EndTime); err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		windows = append(windows, pricing.TimeBasedRate{
			StartTime:         d.StartTime,
			EndTime:           d.EndTime,
			SubcontractorRate: d.SubcontractorRate.Decimal,
			ClientRate:        d.ClientRate.Decimal,
			Description:       d.Description,
			ApplicableDays:    days,
		})
	}
	return windows, nil
}

// WindowRates is the pay/bill pair of one preset window.
type WindowRates struct {
	Sub    decimal.Decimal
	Client decimal.Decimal
}

// StandardWindows is the common template: weekday day 06:00-20:00,
// weekday night 20:00-06:00 and all-day weekend. Shifts are gated on the
// weekday they start.
func StandardWindows(day, night, weekend WindowRates) []pricing.TimeBasedRate {
	weekdays := generic.NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
	weekendDays := generic.NewWeekdaySet(time.Saturday, time.Sunday)
	return []pricing.TimeBasedRate{
		{StartTime: "06:00", EndTime: "20:00", SubcontractorRate: day.Sub, ClientRate: day.Client, Description: "Day", ApplicableDays: weekdays},
		{StartTime: "20:00", EndTime: "06:00", SubcontractorRate: night.Sub, ClientRate: night.Client, Description: "Night", ApplicableDays: weekdays},
		{StartTime: "00:00", EndTime: "00:00", SubcontractorRate: weekend.Sub, ClientRate: weekend.Client, Description: "Weekend", ApplicableDays: weekendDays},
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// decode reads JSON when the document starts like JSON, YAML otherwise.
func decode(data []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return json.Unmarshal(trimmed, v)
	}
	return yaml.Unmarshal(trimmed, v)
}

func isList(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '-')
}

// parseTerms builds the terms for the document's mode. An empty mode is
// taken from the label: SHIFT and DAILY labels imply their modes, anything
// else is hourly.
func parseTerms(doc RateCardDoc, label rates.RateLabel) (rates.RateTerms, error) {
	mode := rates.RateMode(strings.ToUpper(strings.TrimSpace(doc.RateMode)))
	if mode == "" {
		switch label {
		case rates.LabelShift:
			mode = rates.ModeShift
		case rates.LabelDaily:
			mode = rates.ModeDaily
		default:
			mode = rates.ModeHourly
		}
	}

	switch mode {
	case rates.ModeHourly:
		if err := forbid(mode, field{"shift_rate", doc.ShiftRate}, field{"daily_rate", doc.DailyRate}); err != nil {
			return nil, err
		}
		if doc.HourlyRate == nil {
			return nil, missing(mode, "hourly_rate")
		}
		return rates.HourlyTerms{Rate: doc.HourlyRate.Decimal, OTRate: doc.OTHourlyRate.value()}, nil

	case rates.ModeShift:
		if err := forbid(mode, field{"hourly_rate", doc.HourlyRate}, field{"ot_hourly_rate", doc.OTHourlyRate}, field{"daily_rate", doc.DailyRate}); err != nil {
			return nil, err
		}
		if doc.ShiftRate == nil {
			return nil, missing(mode, "shift_rate")
		}
		return rates.ShiftTerms{Rate: doc.ShiftRate.Decimal}, nil

	case rates.ModeDaily:
		if err := forbid(mode, field{"hourly_rate", doc.HourlyRate}, field{"ot_hourly_rate", doc.OTHourlyRate}, field{"shift_rate", doc.ShiftRate}); err != nil {
			return nil, err
		}
		if doc.DailyRate == nil {
			return nil, missing(mode, "daily_rate")
		}
		return rates.DailyTerms{Rate: doc.DailyRate.Decimal}, nil
	}
	return nil, &generic.InvalidValueError{Field: "rate_mode", Value: doc.RateMode, Err: generic.ErrInvalidRateCard}
}

type field struct {
	name  string
	value *Amount
}

func forbid(mode rates.RateMode, fields ...field) error {
	for _, f := range fields {
		if f.value != nil {
			return fmt.Errorf("%w: %s is not allowed for rate mode %s", generic.ErrInvalidRateCard, f.name, mode)
		}
	}
	return nil
}

func missing(mode rates.RateMode, field string) error {
	return fmt.Errorf("%w: rate mode %s requires %s", generic.ErrInvalidRateCard, mode, field)
}

func parsePeriod(from, to string) (generic.EffectivePeriod, error) {
	start, err := generic.ParseDate(from)
	if err != nil {
		return generic.EffectivePeriod{}, err
	}
	if strings.TrimSpace(to) == "" {
		return generic.OpenPeriod(start), nil
	}
	end, err := generic.ParseDate(to)
	if err != nil {
		return generic.EffectivePeriod{}, err
	}
	return generic.ClosedPeriod(start, end), nil
}

func optionalAmount(d *decimal.Decimal) *Amount {
	if d == nil {
		return nil
	}
	return NewAmount(*d)
}
