package reporting

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Sheet names in the exported workbook, in order.
const (
	SheetOverall       = "Overall"
	SheetStatus        = "By status"
	SheetSubcontractor = "By subcontractor"
	SheetClient        = "By client"
)

var summaryHeader = []string{"key", "count", "sub_cost", "client_bill", "margin", "margin_pct"}

// WriteWorkbook renders a Summary as an xlsx workbook, one sheet per
// grouping. Amounts are written as fixed two-place strings so the sheet
// shows exactly what the API returns.
func WriteWorkbook(w io.Writer, s Summary) error {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), SheetOverall); err != nil {
		return fmt.Errorf("rename default sheet: %w", err)
	}
	if err := writeBuckets(xl, SheetOverall, []Bucket{{Key: "all", Totals: s.Overall}}); err != nil {
		return err
	}

	groups := []struct {
		name    string
		buckets []Bucket
	}{
		{SheetStatus, s.ByStatus},
		{SheetSubcontractor, s.BySubcontractor},
		{SheetClient, s.ByClient},
	}
	for _, g := range groups {
		if _, err := xl.NewSheet(g.name); err != nil {
			return fmt.Errorf("create sheet %q: %w", g.name, err)
		}
		if err := writeBuckets(xl, g.name, g.buckets); err != nil {
			return err
		}
	}

	if err := xl.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeBuckets(xl *excelize.File, sheet string, buckets []Bucket) error {
	header := summaryHeader
	if err := xl.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("sheet %q header: %w", sheet, err)
	}
	for i, b := range buckets {
		row := []interface{}{
			b.Key,
			b.Totals.Count,
			b.Totals.SubCost.StringFixed(2),
			b.Totals.ClientBill.StringFixed(2),
			b.Totals.Margin.StringFixed(2),
			b.Totals.MarginPct.StringFixed(2),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := xl.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %q row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
