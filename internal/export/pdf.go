package export

import (
	"bytes"
	"context"
	"errors"
	"html/template"

	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
)

// ErrNoRenderer indicates PDF export was requested without a renderer.
var ErrNoRenderer = errors.New("export: pdf renderer not configured")

// Renderer converts HTML to PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

var pageTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"period": period,
}).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Header.Title}}</title>
<style>
body{font-family:sans-serif;margin:24px;font-size:12px}
h1{font-size:20px;margin-bottom:4px}
.meta{color:#555;margin-bottom:16px}
table{width:100%;border-collapse:collapse;margin-bottom:16px}
th,td{border:1px solid #ddd;padding:4px 6px;text-align:right}
th{background:#f5f5f5}
td.text,th.text{text-align:left}
</style></head>
<body>
<h1>{{.Header.Title}}</h1>
<div class="meta">{{period .Header}} &middot; {{.Header.Currency}} &middot; generated {{.Header.GeneratedAt.Format "2006-01-02 15:04 MST"}}</div>
<table>
<thead><tr>{{range $i, $c := .Columns}}<th{{if lt $i 3}} class="text"{{end}}>{{$c}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range $i, $v := .}}<td{{if lt $i 3}} class="text"{{end}}>{{$v}}</td>{{end}}</tr>
{{end}}</tbody>
</table>
{{if .Summary}}<table><tbody>
{{range .Summary}}<tr><th class="text">{{.Label}}</th><td>{{.Value}}</td></tr>
{{end}}</tbody></table>{{end}}
</body></html>
`))

// RenderPage renders the printable HTML page for a report table.
func RenderPage(table reports.Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, table); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePDF renders the table to HTML and converts it with renderer.
func WritePDF(ctx context.Context, renderer Renderer, table reports.Table) ([]byte, error) {
	if renderer == nil {
		return nil, ErrNoRenderer
	}
	html, err := RenderPage(table)
	if err != nil {
		return nil, err
	}
	return renderer.RenderHTML(ctx, html)
}
