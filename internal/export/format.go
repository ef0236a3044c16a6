// Package export renders reports into downloadable artifacts and stores them.
package export

import (
	"strings"
)

// Format enumerates export formats.
type Format string

// Supported formats.
const (
	FormatPDF   Format = "PDF"
	FormatExcel Format = "EXCEL"
	FormatCSV   Format = "CSV"
	FormatJSON  Format = "JSON"
)

// ParseFormat accepts a format name case-insensitively. XLSX is an alias of EXCEL.
func ParseFormat(raw string) (Format, bool) {
	switch f := Format(strings.ToUpper(strings.TrimSpace(raw))); f {
	case FormatPDF, FormatExcel, FormatCSV, FormatJSON:
		return f, true
	case "XLSX":
		return FormatExcel, true
	}
	return "", false
}

// Extension is the file extension for f.
func (f Format) Extension() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatExcel:
		return "xlsx"
	case FormatCSV:
		return "csv"
	}
	return "json"
}

// ContentType is the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv"
	}
	return "application/json"
}
