/*
Package reporting rolls priced records up into per-status and per-party
totals.

PURPOSE:
  Dashboards and invoices need sums over many priced time logs: totals by
  status (draft, approved, invoiced...), by subcontractor and by client.
  The only thing this package requires of the pricing core is that every
  record is internally consistent:

    clientBill - subCost == marginValue   (to the cent)
    marginPct == marginValue / clientBill × 100, 0 when clientBill is 0

  CheckConsistency verifies that contract before Aggregate sums anything.

DETERMINISM:
  Buckets are returned as slices sorted by key, never as maps, so the same
  records always render the same report.

SEE ALSO:
  - pricing/calculator.go: Produces consistent records
  - export.go: xlsx rendering of a Summary
*/
package reporting

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
)

// Record is the slice of a priced record the aggregator reads.
type Record struct {
	ID              string
	Status          pricing.Status
	SubcontractorID generic.PartyID
	ClientID        generic.PartyID
	SubCost         decimal.Decimal
	ClientBill      decimal.Decimal
	MarginValue     decimal.Decimal
	MarginPct       decimal.Decimal
}

// FromTimeLogs adapts persisted time logs.
func FromTimeLogs(logs []pricing.TimeLog) []Record {
	records := make([]Record, len(logs))
	for i, l := range logs {
		records[i] = Record{
			ID:              string(l.ID),
			Status:          l.Status,
			SubcontractorID: l.SubcontractorID,
			ClientID:        l.ClientID,
			SubCost:         l.Price.SubCost,
			ClientBill:      l.Price.ClientBill,
			MarginValue:     l.Price.MarginValue,
			MarginPct:       l.Price.MarginPct,
		}
	}
	return records
}

// =============================================================================
// CONSISTENCY
// =============================================================================

// InconsistentRecordError names a record that breaks the margin identity.
type InconsistentRecordError struct {
	RecordID string
	Reason   string
}

func (e *InconsistentRecordError) Error() string {
	return fmt.Sprintf("record %s: %s", e.RecordID, e.Reason)
}

func (e *InconsistentRecordError) Unwrap() error {
	return generic.ErrInconsistentRecord
}

// CheckConsistency returns one error per inconsistent record.
func CheckConsistency(records []Record) []*InconsistentRecordError {
	var problems []*InconsistentRecordError
	for _, r := range records {
		margin := r.ClientBill.Sub(r.SubCost)
		if !generic.RoundMoney(margin).Equal(generic.RoundMoney(r.MarginValue)) {
			problems = append(problems, &InconsistentRecordError{
				RecordID: r.ID,
				Reason:   fmt.Sprintf("bill %s - cost %s != margin %s", r.ClientBill, r.SubCost, r.MarginValue),
			})
			continue
		}
		pct := generic.RoundMoney(generic.Percent(r.MarginValue, r.ClientBill))
		if !pct.Equal(generic.RoundMoney(r.MarginPct)) {
			problems = append(problems, &InconsistentRecordError{
				RecordID: r.ID,
				Reason:   fmt.Sprintf("margin pct %s, expected %s", r.MarginPct, pct),
			})
		}
	}
	return problems
}

// =============================================================================
// AGGREGATION
// =============================================================================

type Totals struct {
	Count      int
	SubCost    decimal.Decimal
	ClientBill decimal.Decimal
	Margin     decimal.Decimal
	MarginPct  decimal.Decimal
}

func (t *Totals) add(r Record) {
	t.Count++
	t.SubCost = t.SubCost.Add(r.SubCost)
	t.ClientBill = t.ClientBill.Add(r.ClientBill)
	t.Margin = t.Margin.Add(r.MarginValue)
}

// finish recomputes the percentage from the summed amounts; averaging
// per-record percentages would weight small records like large ones.
func (t *Totals) finish() {
	t.MarginPct = generic.RoundMoney(generic.Percent(t.Margin, t.ClientBill))
}

// Bucket is the totals of one group.
type Bucket struct {
	Key    string
	Totals Totals
}

type Summary struct {
	Overall         Totals
	ByStatus        []Bucket
	BySubcontractor []Bucket
	ByClient        []Bucket
}

// Aggregate verifies every record, then sums them. It refuses to sum an
// inconsistent set.
func Aggregate(records []Record) (Summary, error) {
	if problems := CheckConsistency(records); len(problems) > 0 {
		return Summary{}, fmt.Errorf("%d inconsistent records, first: %w", len(problems), problems[0])
	}

	var (
		overall  Totals
		byStatus = map[string]*Totals{}
		bySub    = map[string]*Totals{}
		byClient = map[string]*Totals{}
	)
	for _, r := range records {
		overall.add(r)
		bucket(byStatus, string(r.Status)).add(r)
		bucket(bySub, string(r.SubcontractorID)).add(r)
		bucket(byClient, string(r.ClientID)).add(r)
	}
	overall.finish()

	return Summary{
		Overall:         overall,
		ByStatus:        sorted(byStatus),
		BySubcontractor: sorted(bySub),
		ByClient:        sorted(byClient),
	}, nil
}

func bucket(m map[string]*Totals, key string) *Totals {
	t, ok := m[key]
	if !ok {
		t = &Totals{}
		m[key] = t
	}
	return t
}

func sorted(m map[string]*Totals) []Bucket {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buckets := make([]Bucket, len(keys))
	for i, k := range keys {
		t := m[k]
		t.finish()
		buckets[i] = Bucket{Key: k, Totals: *t}
	}
	return buckets
}
