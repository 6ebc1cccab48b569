package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/rates"
)

// =============================================================================
// TIME LOG - A priced work record
// =============================================================================

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusInvoiced  Status = "invoiced"
	StatusRejected  Status = "rejected"
)

var AllStatuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusInvoiced, StatusRejected}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &generic.InvalidValueError{Field: "status", Value: s}
}

// TimeLog is a logged work interval with its price denormalized onto it.
type TimeLog struct {
	ID              generic.TimeLogID
	CompanyID       generic.CompanyID
	SubcontractorID generic.PartyID
	ClientID        generic.PartyID
	RoleID          generic.RoleID
	ShiftType       rates.ShiftType
	Date            generic.TimePoint
	StartTime       string // "HH:MM", empty when hours were logged directly
	EndTime         string
	HoursRegular    decimal.Decimal
	HoursOT         decimal.Decimal
	Status          Status

	Price     PriceCalculation
	Breakdown []BreakdownEntry // set when priced through rate windows

	// Versions the price was computed from, for audit.
	SubRateCardID    generic.RateCardID
	ClientRateCardID generic.RateCardID

	CreatedAt time.Time
}

// TimeLogStore persists priced time logs.
type TimeLogStore interface {
	SaveTimeLog(ctx context.Context, log TimeLog) error
	ListTimeLogs(ctx context.Context, filter TimeLogFilter) ([]TimeLog, error)
}

// TimeLogFilter narrows ListTimeLogs. Zero fields match everything.
type TimeLogFilter struct {
	CompanyID generic.CompanyID
	Status    Status
}

func (f TimeLogFilter) Matches(l TimeLog) bool {
	return (f.CompanyID == "" || f.CompanyID == l.CompanyID) &&
		(f.Status == "" || f.Status == l.Status)
}
