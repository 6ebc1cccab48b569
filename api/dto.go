/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model (rates, pricing, reporting) from the wire
  contract.

NAMING CONVENTION:
  - *DTO:     Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are shopspring decimals. They are written as JSON strings
  ("20.50") and accepted as either strings or numbers, so no float ever
  touches a rate or a total.

VALIDATION:
  Request types carry go-playground/validator tags for presence and shape.
  Domain rules (known shift types, clock format, non-negative rates) are
  checked by the domain packages and surface as 400s through the error
  mapping in handlers.go.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/ratecard.go: RateCardDoc and WindowDoc authoring shapes
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
	"github.com/warp/billing-engine/reporting"
)

// =============================================================================
// RATE CARDS
// =============================================================================

// RateCardDTO is a stored rate card in its authoring shape.
type RateCardDTO struct {
	factory.RateCardDoc
	CreatedAt time.Time `json:"created_at"`
}

func toRateCardDTO(card rates.RateCard) RateCardDTO {
	return RateCardDTO{RateCardDoc: factory.ToDoc(card), CreatedAt: card.CreatedAt}
}

// CloseRateCardRequest ends a version; the successor may start that day.
type CloseRateCardRequest struct {
	EffectiveTo string `json:"effective_to" validate:"required"`
}

// ResolveRequest asks for the rate effective on a date.
type ResolveRequest struct {
	CompanyID  string `json:"company_id" validate:"required"`
	TargetType string `json:"target_type" validate:"required"`
	TargetID   string `json:"target_id" validate:"required"`
	RoleID     string `json:"role_id" validate:"required"`
	ShiftType  string `json:"shift_type" validate:"required"`
	AsOf       string `json:"as_of" validate:"required"`
}

// ResolvedRateDTO is the resolution result. Found is false, with every
// other field empty, when no version is effective.
type ResolvedRateDTO struct {
	Found         bool             `json:"found"`
	RateLabel     string           `json:"rate_label,omitempty"`
	RateMode      string           `json:"rate_mode,omitempty"`
	BaseRate      *decimal.Decimal `json:"base_rate,omitempty"`
	OTRate        *decimal.Decimal `json:"ot_rate,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	MinHours      *decimal.Decimal `json:"min_hours,omitempty"`
	RateCardID    string           `json:"rate_card_id,omitempty"`
	EffectiveFrom string           `json:"effective_from,omitempty"`
	EffectiveTo   string           `json:"effective_to,omitempty"`
}

func toResolvedRateDTO(r rates.ResolvedRate) ResolvedRateDTO {
	dto := ResolvedRateDTO{
		Found:         true,
		RateLabel:     string(r.Label),
		RateMode:      string(r.Mode),
		BaseRate:      &r.BaseRate,
		Currency:      string(r.Currency),
		MinHours:      r.MinHours,
		RateCardID:    string(r.SourceID),
		EffectiveFrom: r.SourceEffective.From.String(),
	}
	if !r.Mode.IsUnitBased() {
		dto.OTRate = &r.OTRate
	}
	if r.SourceEffective.To != nil {
		dto.EffectiveTo = r.SourceEffective.To.String()
	}
	return dto
}

// =============================================================================
// PRICING
// =============================================================================

// SideRate is a rate supplied inline to /pricing/calculate. A nil OTRate on
// an hourly side means 1.5 × BaseRate.
type SideRate struct {
	RateMode string           `json:"rate_mode" validate:"required,oneof=HOURLY SHIFT DAILY"`
	BaseRate decimal.Decimal  `json:"base_rate"`
	OTRate   *decimal.Decimal `json:"ot_rate,omitempty"`
	Currency string           `json:"currency,omitempty"`
}

// CalculateRequest prices supplied rates without resolving anything.
type CalculateRequest struct {
	ShiftType    string          `json:"shift_type" validate:"required"`
	Sub          SideRate        `json:"subcontractor"`
	Client       SideRate        `json:"client"`
	HoursRegular decimal.Decimal `json:"hours_regular"`
	HoursOT      decimal.Decimal `json:"hours_ot"`
	// MinHours pads hourly pricing only.
	MinHours *decimal.Decimal `json:"min_hours,omitempty"`
}

// SegmentRequest splits a clock interval across inline windows.
type SegmentRequest struct {
	StartTime          string              `json:"start_time" validate:"required"`
	EndTime            string              `json:"end_time" validate:"required"`
	Windows            []factory.WindowDoc `json:"windows" validate:"dive"`
	FallbackSubRate    decimal.Decimal     `json:"fallback_subcontractor_rate"`
	FallbackClientRate decimal.Decimal     `json:"fallback_client_rate"`
	// Date enables applicable_days gating when set.
	Date string `json:"date,omitempty"`
}

// QuoteRequest is one line item priced against stored rate cards. It is also
// the body of POST /api/time-logs.
type QuoteRequest struct {
	CompanyID       string `json:"company_id" validate:"required"`
	SubcontractorID string `json:"subcontractor_id" validate:"required"`
	ClientID        string `json:"client_id" validate:"required"`
	RoleID          string `json:"role_id" validate:"required"`
	ShiftType       string `json:"shift_type" validate:"required"`
	Date            string `json:"date" validate:"required"`

	StartTime    string           `json:"start_time,omitempty" validate:"required_with=EndTime"`
	EndTime      string           `json:"end_time,omitempty" validate:"required_with=StartTime"`
	HoursRegular *decimal.Decimal `json:"hours_regular,omitempty"`
	HoursOT      *decimal.Decimal `json:"hours_ot,omitempty"`
	MinHours     *decimal.Decimal `json:"min_hours,omitempty"`

	Windows []factory.WindowDoc `json:"windows,omitempty" validate:"dive"`
}

// PriceDTO mirrors pricing.PriceCalculation.
type PriceDTO struct {
	ShiftType        string          `json:"shift_type"`
	SubBaseRate      decimal.Decimal `json:"sub_base_rate"`
	SubOTRate        decimal.Decimal `json:"sub_ot_rate"`
	ClientBillRate   decimal.Decimal `json:"client_bill_rate"`
	ClientOTBillRate decimal.Decimal `json:"client_ot_bill_rate"`
	SubCost          decimal.Decimal `json:"sub_cost"`
	ClientBill       decimal.Decimal `json:"client_bill"`
	MarginValue      decimal.Decimal `json:"margin_value"`
	MarginPct        decimal.Decimal `json:"margin_pct"`
	Currency         string          `json:"currency"`
}

func toPriceDTO(p pricing.PriceCalculation) PriceDTO {
	return PriceDTO{
		ShiftType:        string(p.ShiftType),
		SubBaseRate:      p.SubBaseRate,
		SubOTRate:        p.SubOTRate,
		ClientBillRate:   p.ClientBillRate,
		ClientOTBillRate: p.ClientOTBillRate,
		SubCost:          p.SubCost,
		ClientBill:       p.ClientBill,
		MarginValue:      p.MarginValue,
		MarginPct:        p.MarginPct,
		Currency:         string(p.Currency),
	}
}

// BreakdownEntryDTO is one priced slice of a segmented shift.
type BreakdownEntryDTO struct {
	Label      string          `json:"label"`
	Minutes    int             `json:"minutes"`
	Hours      decimal.Decimal `json:"hours"`
	SubRate    decimal.Decimal `json:"sub_rate"`
	ClientRate decimal.Decimal `json:"client_rate"`
	SubCost    decimal.Decimal `json:"sub_cost"`
	ClientCost decimal.Decimal `json:"client_cost"`
}

func toBreakdownDTOs(entries []pricing.BreakdownEntry) []BreakdownEntryDTO {
	dtos := make([]BreakdownEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = BreakdownEntryDTO{
			Label:      e.Label,
			Minutes:    e.Minutes,
			Hours:      e.Hours,
			SubRate:    e.SubRate,
			ClientRate: e.ClientRate,
			SubCost:    e.SubCost,
			ClientCost: e.ClientCost,
		}
	}
	return dtos
}

// SegmentDTO is the result of /pricing/segment. Warnings lists overlapping
// window pairs; the earliest-starting window won the overlap.
type SegmentDTO struct {
	TotalHours        decimal.Decimal     `json:"total_hours"`
	SubcontractorCost decimal.Decimal     `json:"subcontractor_cost"`
	ClientBill        decimal.Decimal     `json:"client_bill"`
	Breakdown         []BreakdownEntryDTO `json:"breakdown"`
	Warnings          []string            `json:"warnings,omitempty"`
}

// QuoteDTO is a priced line item with the versions it used.
type QuoteDTO struct {
	Price            PriceDTO            `json:"price"`
	Segmented        bool                `json:"segmented"`
	HoursRegular     decimal.Decimal     `json:"hours_regular"`
	HoursOT          decimal.Decimal     `json:"hours_ot"`
	Breakdown        []BreakdownEntryDTO `json:"breakdown,omitempty"`
	SubRateCardID    string              `json:"sub_rate_card_id"`
	ClientRateCardID string              `json:"client_rate_card_id"`
	Warnings         []string            `json:"warnings,omitempty"`
}

func toQuoteDTO(q pricing.Quote) QuoteDTO {
	dto := QuoteDTO{
		Price:            toPriceDTO(q.Price),
		Segmented:        q.Segmented,
		HoursRegular:     q.HoursRegular,
		HoursOT:          q.HoursOT,
		SubRateCardID:    string(q.Sub.SourceID),
		ClientRateCardID: string(q.Client.SourceID),
	}
	if q.Segmented {
		dto.Breakdown = toBreakdownDTOs(q.Breakdown)
	}
	return dto
}

// =============================================================================
// TIME LOGS
// =============================================================================

type TimeLogDTO struct {
	ID               string              `json:"id"`
	CompanyID        string              `json:"company_id"`
	SubcontractorID  string              `json:"subcontractor_id"`
	ClientID         string              `json:"client_id"`
	RoleID           string              `json:"role_id"`
	ShiftType        string              `json:"shift_type"`
	Date             string              `json:"date"`
	StartTime        string              `json:"start_time,omitempty"`
	EndTime          string              `json:"end_time,omitempty"`
	HoursRegular     decimal.Decimal     `json:"hours_regular"`
	HoursOT          decimal.Decimal     `json:"hours_ot"`
	Status           string              `json:"status"`
	Price            PriceDTO            `json:"price"`
	Breakdown        []BreakdownEntryDTO `json:"breakdown,omitempty"`
	SubRateCardID    string              `json:"sub_rate_card_id"`
	ClientRateCardID string              `json:"client_rate_card_id"`
	CreatedAt        time.Time           `json:"created_at"`
}

func toTimeLogDTO(l pricing.TimeLog) TimeLogDTO {
	dto := TimeLogDTO{
		ID:               string(l.ID),
		CompanyID:        string(l.CompanyID),
		SubcontractorID:  string(l.SubcontractorID),
		ClientID:         string(l.ClientID),
		RoleID:           string(l.RoleID),
		ShiftType:        string(l.ShiftType),
		Date:             l.Date.String(),
		StartTime:        l.StartTime,
		EndTime:          l.EndTime,
		HoursRegular:     l.HoursRegular,
		HoursOT:          l.HoursOT,
		Status:           string(l.Status),
		Price:            toPriceDTO(l.Price),
		SubRateCardID:    string(l.SubRateCardID),
		ClientRateCardID: string(l.ClientRateCardID),
		CreatedAt:        l.CreatedAt,
	}
	if len(l.Breakdown) > 0 {
		dto.Breakdown = toBreakdownDTOs(l.Breakdown)
	}
	return dto
}

// =============================================================================
// REPORTS
// =============================================================================

type TotalsDTO struct {
	Count      int             `json:"count"`
	SubCost    decimal.Decimal `json:"sub_cost"`
	ClientBill decimal.Decimal `json:"client_bill"`
	Margin     decimal.Decimal `json:"margin"`
	MarginPct  decimal.Decimal `json:"margin_pct"`
}

type BucketDTO struct {
	Key string `json:"key"`
	TotalsDTO
}

type SummaryDTO struct {
	Overall         TotalsDTO   `json:"overall"`
	ByStatus        []BucketDTO `json:"by_status"`
	BySubcontractor []BucketDTO `json:"by_subcontractor"`
	ByClient        []BucketDTO `json:"by_client"`
}

func toTotalsDTO(t reporting.Totals) TotalsDTO {
	return TotalsDTO{
		Count:      t.Count,
		SubCost:    t.SubCost,
		ClientBill: t.ClientBill,
		Margin:     t.Margin,
		MarginPct:  t.MarginPct,
	}
}

func toBucketDTOs(buckets []reporting.Bucket) []BucketDTO {
	dtos := make([]BucketDTO, len(buckets))
	for i, b := range buckets {
		dtos[i] = BucketDTO{Key: b.Key, TotalsDTO: toTotalsDTO(b.Totals)}
	}
	return dtos
}

func toSummaryDTO(s reporting.Summary) SummaryDTO {
	return SummaryDTO{
		Overall:         toTotalsDTO(s.Overall),
		ByStatus:        toBucketDTOs(s.ByStatus),
		BySubcontractor: toBucketDTOs(s.BySubcontractor),
		ByClient:        toBucketDTOs(s.ByClient),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
