package export

import (
	"encoding/csv"
	"io"

	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
)

// WriteCSV serialises a report table. Summary rows follow the line items after a blank row.
func WriteCSV(w io.Writer, table reports.Table) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(table.Columns); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	if len(table.Summary) > 0 {
		if err := writer.Write(nil); err != nil {
			return err
		}
		for _, s := range table.Summary {
			if err := writer.Write([]string{s.Label, s.Value}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
