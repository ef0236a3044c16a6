package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
)

const maxSheetName = 31

// WriteExcel renders a report table into a single-sheet workbook: title block,
// column header, line items, then the summary.
func WriteExcel(table reports.Table) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := table.Header.Title
	if sheet == "" {
		sheet = "Report"
	}
	if len(sheet) > maxSheetName {
		sheet = sheet[:maxSheetName]
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	row := 1
	set := func(col, row int, value any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheet, cell, value)
	}
	for _, meta := range [][2]string{
		{table.Header.Title, ""},
		{"Organization", table.Header.OrgID.String()},
		{"Period", period(table.Header)},
		{"Currency", table.Header.Currency},
	} {
		if err := set(1, row, meta[0]); err != nil {
			return nil, err
		}
		if meta[1] != "" {
			if err := set(2, row, meta[1]); err != nil {
				return nil, err
			}
		}
		row++
	}
	row++

	for i, col := range table.Columns {
		if err := set(i+1, row, col); err != nil {
			return nil, err
		}
	}
	if len(table.Columns) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(table.Columns), row)
		if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), last, bold); err != nil {
			return nil, err
		}
	}
	row++
	for _, values := range table.Rows {
		for i, v := range values {
			if err := set(i+1, row, cellValue(v)); err != nil {
				return nil, err
			}
		}
		row++
	}
	row++
	for _, s := range table.Summary {
		if err := set(1, row, s.Label); err != nil {
			return nil, err
		}
		if err := set(2, row, cellValue(s.Value)); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), bold); err != nil {
			return nil, err
		}
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cellValue stores fixed-point amounts as numbers so spreadsheets can sum them.
// Account codes have no decimal point and stay text.
func cellValue(v string) any {
	if !strings.Contains(v, ".") {
		return v
	}
	if d, err := decimal.NewFromString(v); err == nil {
		f, _ := d.Float64()
		return f
	}
	return v
}

func period(h reports.Header) string {
	end := h.EndDate.Format("2006-01-02")
	if h.StartDate.IsZero() {
		return "as of " + end
	}
	return h.StartDate.Format("2006-01-02") + " to " + end
}
