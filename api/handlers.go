/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes rate resolution, pricing and reporting via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  packages (rates, pricing, reporting).

ENDPOINTS:
  Rate cards:
    POST   /api/rate-cards             Create a rate card version
    GET    /api/rate-cards             List versions (company_id, target_type,
                                       target_id, role_id, rate_label filters)
    GET    /api/rate-cards/{id}        Get one version
    POST   /api/rate-cards/{id}/close  End an open-ended version (effective_to)
    POST   /api/rates/resolve          Rate effective on a date

  Pricing:
    POST   /api/pricing/calculate      Flat pricing on inline rates
    POST   /api/pricing/segment        Split a shift across inline windows
    POST   /api/pricing/quote          Resolve both sides, then price

  Time logs:
    POST   /api/time-logs              Price and persist a draft time log
    GET    /api/time-logs              List (company_id, status filters)

  Reports:
    GET    /api/reports/summary        Totals by status/subcontractor/client
    GET    /api/reports/summary.xlsx   Same totals as a workbook

REQUEST FLOW:
  1. Decode JSON body
  2. Validate shape (validator tags in dto.go)
  3. Parse into domain types; domain rules are checked there
  4. Call domain logic
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, overlapping windows
  - 404: Rate card not found by ID
  - 409: Overlapping version, duplicate ID or closing a closed version
  - 422: No effective rate card for one side of a price
  - 500: Invariant violations and internal errors

  A missing rate is never priced as zero; the whole call fails and nothing
  is persisted.

SECURITY NOTE:
  No authentication or authorization. Deploy behind a gateway that does.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
	"github.com/warp/billing-engine/reporting"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Cards   rates.CardStore
	Logs    pricing.TimeLogStore
	Engine  *pricing.Engine
	Factory *factory.RateCardFactory
	Logger  *zap.Logger

	// DefaultCurrency applies to rate cards created without one.
	DefaultCurrency generic.Currency

	validate *validator.Validate
}

// NewHandler wires a handler over one card store and one time log store.
func NewHandler(cards rates.CardStore, logs pricing.TimeLogStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Cards:           cards,
		Logs:            logs,
		Engine:          pricing.NewEngine(rates.NewResolver(cards), logs, logger.Named("pricing")),
		Factory:         factory.NewRateCardFactory(),
		Logger:          logger,
		DefaultCurrency: generic.DefaultCurrency,
		validate:        validator.New(),
	}
}

// pinger is implemented by stores backed by a database connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the card store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Cards.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RATE CARD HANDLERS
// =============================================================================

// CreateRateCard stores a new rate card version.
func (h *Handler) CreateRateCard(w http.ResponseWriter, r *http.Request) {
	var doc factory.RateCardDoc
	if !h.decode(w, r, &doc) {
		return
	}
	if strings.TrimSpace(doc.Currency) == "" {
		doc.Currency = string(h.DefaultCurrency)
	}

	card, err := h.Factory.FromDoc(doc)
	if err != nil {
		h.fail(w, r, "Invalid rate card", err)
		return
	}
	if err := h.Cards.Save(r.Context(), card); err != nil {
		h.fail(w, r, "Failed to save rate card", err)
		return
	}

	h.Logger.Info("rate card created",
		zap.String("rate_card_id", string(card.ID)),
		zap.String("key", card.Key.String()),
		zap.String("effective", card.Effective.String()),
	)
	writeJSON(w, http.StatusCreated, toRateCardDTO(card))
}

// ListRateCards returns versions matching the query string filters.
func (h *Handler) ListRateCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := rates.Filter{
		CompanyID: generic.CompanyID(q.Get("company_id")),
		TargetID:  generic.PartyID(q.Get("target_id")),
		RoleID:    generic.RoleID(q.Get("role_id")),
	}
	if s := q.Get("target_type"); s != "" {
		tt, err := generic.ParseTargetType(s)
		if err != nil {
			h.fail(w, r, "Invalid filter", err)
			return
		}
		filter.TargetType = tt
	}
	if s := q.Get("rate_label"); s != "" {
		label, err := rates.ParseRateLabel(s)
		if err != nil {
			h.fail(w, r, "Invalid filter", err)
			return
		}
		filter.RateLabel = label
	}

	cards, err := h.Cards.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list rate cards", err)
		return
	}
	dtos := make([]RateCardDTO, len(cards))
	for i, c := range cards {
		dtos[i] = toRateCardDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRateCard returns one version by ID.
func (h *Handler) GetRateCard(w http.ResponseWriter, r *http.Request) {
	id := generic.RateCardID(chi.URLParam(r, "id"))
	card, err := h.Cards.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Rate card not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toRateCardDTO(card))
}

// CloseRateCard ends an open-ended version so a successor can start on
// effective_to. A version that already has an end date is frozen.
func (h *Handler) CloseRateCard(w http.ResponseWriter, r *http.Request) {
	var req CloseRateCardRequest
	if !h.decode(w, r, &req) {
		return
	}
	to, err := generic.ParseDate(req.EffectiveTo)
	if err != nil {
		h.fail(w, r, "Invalid effective_to", err)
		return
	}

	id := generic.RateCardID(chi.URLParam(r, "id"))
	if err := h.Cards.CloseVersion(r.Context(), id, to); err != nil {
		h.fail(w, r, "Failed to close rate card", err)
		return
	}
	card, err := h.Cards.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to load rate card", err)
		return
	}
	h.Logger.Info("rate card closed",
		zap.String("rate_card_id", string(id)),
		zap.String("effective_to", to.String()))
	writeJSON(w, http.StatusOK, toRateCardDTO(card))
}

// ResolveRate returns the rate effective on as_of. An absent rate is a 200
// with found=false: absence is an answer, not a failure.
func (h *Handler) ResolveRate(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	query, err := resolveQuery(req)
	if err != nil {
		h.fail(w, r, "Invalid resolve request", err)
		return
	}
	rate, found, err := h.Engine.Resolver.Resolve(r.Context(), query)
	if err != nil {
		h.fail(w, r, "Failed to resolve rate", err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, ResolvedRateDTO{Found: false})
		return
	}
	writeJSON(w, http.StatusOK, toResolvedRateDTO(rate))
}

func resolveQuery(req ResolveRequest) (rates.Query, error) {
	targetType, err := generic.ParseTargetType(req.TargetType)
	if err != nil {
		return rates.Query{}, err
	}
	shiftType, err := rates.ParseShiftType(req.ShiftType)
	if err != nil {
		return rates.Query{}, err
	}
	asOf, err := generic.ParseDate(req.AsOf)
	if err != nil {
		return rates.Query{}, err
	}
	return rates.Query{
		CompanyID:  generic.CompanyID(req.CompanyID),
		TargetType: targetType,
		TargetID:   generic.PartyID(req.TargetID),
		RoleID:     generic.RoleID(req.RoleID),
		ShiftType:  shiftType,
		AsOf:       asOf,
	}, nil
}

// =============================================================================
// PRICING HANDLERS
// =============================================================================

// Calculate prices inline rates. Nothing is resolved or stored.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decodeWith(w, r, &req, func() {
		req.Sub.RateMode = strings.ToUpper(strings.TrimSpace(req.Sub.RateMode))
		req.Client.RateMode = strings.ToUpper(strings.TrimSpace(req.Client.RateMode))
	}) {
		return
	}

	calc, err := h.calculate(req)
	observePricing("calculate", err)
	if err != nil {
		h.fail(w, r, "Failed to calculate price", err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceDTO(calc))
}

func (h *Handler) calculate(req CalculateRequest) (pricing.PriceCalculation, error) {
	shiftType, err := rates.ParseShiftType(req.ShiftType)
	if err != nil {
		return pricing.PriceCalculation{}, err
	}
	label, err := rates.LabelFor(shiftType)
	if err != nil {
		return pricing.PriceCalculation{}, err
	}
	sub, err := inlineRate(req.Sub, label)
	if err != nil {
		return pricing.PriceCalculation{}, err
	}
	client, err := inlineRate(req.Client, label)
	if err != nil {
		return pricing.PriceCalculation{}, err
	}

	regular, ot := req.HoursRegular, req.HoursOT
	if req.MinHours != nil && !sub.Mode.IsUnitBased() && !client.Mode.IsUnitBased() {
		regular, ot = pricing.ApplyMinHours(regular, ot, *req.MinHours)
	}
	return pricing.Calculate(pricing.CalculateInput{
		Sub:          sub,
		Client:       client,
		ShiftType:    shiftType,
		HoursRegular: regular,
		HoursOT:      ot,
	})
}

// inlineRate builds a resolved rate from a request side, deriving the
// default overtime rate the same way a stored card would.
func inlineRate(side SideRate, label rates.RateLabel) (rates.ResolvedRate, error) {
	terms, err := rates.TermsFor(rates.RateMode(side.RateMode), side.BaseRate, side.OTRate)
	if err != nil {
		return rates.ResolvedRate{}, err
	}
	if side.BaseRate.IsNegative() || (side.OTRate != nil && side.OTRate.IsNegative()) {
		return rates.ResolvedRate{}, &generic.InvalidValueError{Field: "base_rate", Value: side.BaseRate.String()}
	}
	base, ot := terms.Rates()
	currency := generic.Currency("")
	if side.Currency != "" {
		currency = generic.NormalizeCurrency(side.Currency)
	}
	return rates.ResolvedRate{
		Label:    label,
		Mode:     terms.Mode(),
		BaseRate: base,
		OTRate:   ot,
		Currency: currency,
	}, nil
}

// Segment splits a shift across inline windows. Overlapping windows are
// priced (the earliest-starting window wins) and reported as warnings.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	var req SegmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	windows, err := factory.WindowsFromDocs(req.Windows)
	if err != nil {
		observePricing("segment", err)
		h.fail(w, r, "Invalid rate windows", err)
		return
	}
	in := pricing.SegmentInput{
		StartTime:          req.StartTime,
		EndTime:            req.EndTime,
		Windows:            windows,
		FallbackSubRate:    req.FallbackSubRate,
		FallbackClientRate: req.FallbackClientRate,
	}
	if req.Date != "" {
		date, err := generic.ParseDate(req.Date)
		if err != nil {
			h.fail(w, r, "Invalid date", err)
			return
		}
		in.Date = &date
	}

	warnings, err := h.overlapWarnings(r, windows)
	if err != nil {
		h.fail(w, r, "Invalid rate windows", err)
		return
	}
	trc, err := pricing.Segment(in)
	observePricing("segment", err)
	if err != nil {
		h.fail(w, r, "Failed to segment shift", err)
		return
	}
	writeJSON(w, http.StatusOK, SegmentDTO{
		TotalHours:        trc.TotalHours,
		SubcontractorCost: trc.SubcontractorCost,
		ClientBill:        trc.ClientBill,
		Breakdown:         toBreakdownDTOs(trc.Breakdown),
		Warnings:          warnings,
	})
}

// overlapWarnings logs and returns one message per overlapping window pair.
func (h *Handler) overlapWarnings(r *http.Request, windows []pricing.TimeBasedRate) ([]string, error) {
	overlaps, err := pricing.FindOverlaps(windows)
	if err != nil {
		return nil, err
	}
	warnings := make([]string, 0, len(overlaps))
	for _, o := range overlaps {
		windowOverlapWarnings.Inc()
		h.Logger.Warn("overlapping rate windows",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("first", o.First),
			zap.String("second", o.Second),
			zap.Strings("days", o.Days),
		)
		warnings = append(warnings, o.Error())
	}
	return warnings, nil
}

// Quote resolves both sides from stored cards and prices the line item.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	preq, err := pricingRequest(req)
	if err != nil {
		observePricing("quote", err)
		h.fail(w, r, "Invalid quote request", err)
		return
	}
	warnings, err := h.overlapWarnings(r, preq.Windows)
	if err != nil {
		h.fail(w, r, "Invalid rate windows", err)
		return
	}
	quote, err := h.Engine.Price(r.Context(), preq)
	observePricing("quote", err)
	if err != nil {
		h.fail(w, r, "Failed to price request", err)
		return
	}

	dto := toQuoteDTO(quote)
	dto.Warnings = warnings
	writeJSON(w, http.StatusOK, dto)
}

func pricingRequest(req QuoteRequest) (pricing.Request, error) {
	shiftType, err := rates.ParseShiftType(req.ShiftType)
	if err != nil {
		return pricing.Request{}, err
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		return pricing.Request{}, err
	}
	windows, err := factory.WindowsFromDocs(req.Windows)
	if err != nil {
		return pricing.Request{}, err
	}
	return pricing.Request{
		CompanyID:       generic.CompanyID(req.CompanyID),
		SubcontractorID: generic.PartyID(req.SubcontractorID),
		ClientID:        generic.PartyID(req.ClientID),
		RoleID:          generic.RoleID(req.RoleID),
		ShiftType:       shiftType,
		Date:            date,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		HoursRegular:    req.HoursRegular,
		HoursOT:         req.HoursOT,
		MinHours:        req.MinHours,
		Windows:         windows,
	}, nil
}

// =============================================================================
// TIME LOG HANDLERS
// =============================================================================

// CreateTimeLog prices the request and stores it as a draft.
func (h *Handler) CreateTimeLog(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	preq, err := pricingRequest(req)
	if err != nil {
		observePricing("time_log", err)
		h.fail(w, r, "Invalid time log", err)
		return
	}
	log, err := h.Engine.PriceTimeLog(r.Context(), preq)
	observePricing("time_log", err)
	if err != nil {
		h.fail(w, r, "Failed to price time log", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTimeLogDTO(log))
}

// ListTimeLogs returns stored time logs in insertion order.
func (h *Handler) ListTimeLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := timeLogFilter(r)
	if err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	logs, err := h.Logs.ListTimeLogs(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list time logs", err)
		return
	}
	dtos := make([]TimeLogDTO, len(logs))
	for i, l := range logs {
		dtos[i] = toTimeLogDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func timeLogFilter(r *http.Request) (pricing.TimeLogFilter, error) {
	q := r.URL.Query()
	filter := pricing.TimeLogFilter{CompanyID: generic.CompanyID(q.Get("company_id"))}
	if s := q.Get("status"); s != "" {
		status, err := pricing.ParseStatus(s)
		if err != nil {
			return pricing.TimeLogFilter{}, err
		}
		filter.Status = status
	}
	return filter, nil
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// Summary returns totals over the filtered time logs.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.summary(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// SummaryWorkbook returns the same totals as an xlsx download.
func (h *Handler) SummaryWorkbook(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.summary(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := reporting.WriteWorkbook(&buf, summary); err != nil {
		h.fail(w, r, "Failed to render workbook", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="summary.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) (reporting.Summary, bool) {
	filter, err := timeLogFilter(r)
	if err != nil {
		h.fail(w, r, "Invalid filter", err)
		return reporting.Summary{}, false
	}
	logs, err := h.Logs.ListTimeLogs(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list time logs", err)
		return reporting.Summary{}, false
	}
	summary, err := reporting.Aggregate(reporting.FromTimeLogs(logs))
	if err != nil {
		h.fail(w, r, "Failed to aggregate time logs", err)
		return reporting.Summary{}, false
	}
	return summary, true
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 itself and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return h.decodeWith(w, r, v, nil)
}

// decodeWith runs normalize between decoding and validation.
func (h *Handler) decodeWith(w http.ResponseWriter, r *http.Request, v any, normalize func()) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if normalize != nil {
		normalize()
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			messages := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				messages = append(messages, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			writeError(w, http.StatusBadRequest, "Validation failed", errors.New(strings.Join(messages, "; ")))
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// fail maps a domain error to its status and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	var missing *pricing.MissingRateError
	switch {
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func outcome(err error) string {
	var missing *pricing.MissingRateError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &missing):
		return "missing_rate"
	case generic.IsClientError(err):
		return "invalid"
	}
	return "error"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
