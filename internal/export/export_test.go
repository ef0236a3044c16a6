package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

func sampleTrialBalance(org uuid.UUID) reports.TrialBalance {
	header := reports.Header{
		Report:      reports.KindTrialBalance,
		Title:       reports.KindTrialBalance.Title(),
		OrgID:       org,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Currency:    "USD",
		GeneratedAt: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	return reports.BuildTrialBalance(header, []reports.AccountBalance{
		{
			AccountID: uuid.New(), Code: "1000", Name: "Cash",
			Section: smartcode.SectionAsset, NormalBalance: smartcode.Debit,
			Opening: decimal.RequireFromString("100"), Debit: decimal.RequireFromString("250.50"),
		},
		{
			AccountID: uuid.New(), Code: "4000", Name: "Sales",
			Section: smartcode.SectionRevenue, NormalBalance: smartcode.Credit,
			Credit: decimal.RequireFromString("250.50"),
		},
	})
}

type stubRenderer struct {
	html []byte
	err  error
}

func (r *stubRenderer) RenderHTML(_ context.Context, html []byte) ([]byte, error) {
	r.html = html
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.7 stub"), nil
}

type stubGenerator struct {
	report any
	err    error
	kinds  []reports.Kind
}

func (g *stubGenerator) Generate(_ context.Context, kind reports.Kind, _ reports.Config) (any, error) {
	g.kinds = append(g.kinds, kind)
	return g.report, g.err
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"pdf": FormatPDF, "Excel": FormatExcel, "xlsx": FormatExcel, " csv ": FormatCSV, "JSON": FormatJSON}
	for raw, want := range cases {
		got, ok := ParseFormat(raw)
		if !ok || got != want {
			t.Fatalf("ParseFormat(%q) = %s %v", raw, got, ok)
		}
	}
	if _, ok := ParseFormat("docx"); ok {
		t.Fatalf("expected docx to be rejected")
	}
	if FormatExcel.Extension() != "xlsx" || FormatCSV.ContentType() != "text/csv" {
		t.Fatalf("unexpected format metadata")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleTrialBalance(uuid.New()).Table()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	reader := csv.NewReader(&buf)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if records[0][0] != "Code" || len(records[0]) != 8 {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][0] != "1000" || records[1][7] != "350.50" {
		t.Fatalf("unexpected cash row %v", records[1])
	}
	last := records[len(records)-1]
	if last[0] != "Balanced" || last[1] != "true" {
		t.Fatalf("unexpected summary row %v", last)
	}
}

func TestWriteExcel(t *testing.T) {
	data, err := WriteExcel(sampleTrialBalance(uuid.New()).Table())
	if err != nil {
		t.Fatalf("write excel: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	if name := f.GetSheetName(0); name != "Trial balance" {
		t.Fatalf("unexpected sheet %q", name)
	}
	if v, _ := f.GetCellValue("Trial balance", "B3"); v != "2025-01-01 to 2025-01-31" {
		t.Fatalf("unexpected period cell %q", v)
	}
	if v, _ := f.GetCellValue("Trial balance", "A6"); v != "Code" {
		t.Fatalf("unexpected column header %q", v)
	}
	if v, _ := f.GetCellValue("Trial balance", "A7"); v != "1000" {
		t.Fatalf("unexpected first code %q", v)
	}
	if v, _ := f.GetCellValue("Trial balance", "H7"); v != "350.5" {
		t.Fatalf("expected numeric closing, got %q", v)
	}
}

func TestWritePDF(t *testing.T) {
	table := sampleTrialBalance(uuid.New()).Table()
	if _, err := WritePDF(context.Background(), nil, table); !errors.Is(err, ErrNoRenderer) {
		t.Fatalf("expected ErrNoRenderer, got %v", err)
	}
	renderer := &stubRenderer{}
	out, err := WritePDF(context.Background(), renderer, table)
	if err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatalf("unexpected pdf output %q", out)
	}
	html := string(renderer.html)
	for _, want := range []string{"<h1>Trial balance</h1>", "2025-01-01 to 2025-01-31", "<td class=\"text\">Cash</td>", "Total debit"} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q", want)
		}
	}
}

func newTestService(t *testing.T, gen Generator, renderer Renderer) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir, "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	svc := NewService(store, renderer, gen, nil).WithNow(func() time.Time {
		return time.Date(2025, 2, 1, 10, 30, 0, 123e6, time.UTC)
	})
	return svc, dir
}

func TestExportReportStoresArtifact(t *testing.T) {
	org := uuid.New()
	gen := &stubGenerator{report: sampleTrialBalance(org)}
	svc, dir := newTestService(t, gen, nil)
	ctx := shared.WithTenant(context.Background(), org)

	res, err := svc.ExportReport(ctx, Request{Report: "tb", Format: "csv", Config: reports.Config{OrgID: org}})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	wantKey := "exports/" + org.String() + "/trial_balance-20250201T103000.123Z.csv"
	if res.Key != wantKey {
		t.Fatalf("unexpected key %s", res.Key)
	}
	if res.DownloadURL != "http://localhost:8080/files/"+wantKey {
		t.Fatalf("unexpected url %s", res.DownloadURL)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(wantKey)))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if int64(len(data)) != res.FileSizeBytes || res.ContentType != "text/csv" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(gen.kinds) != 1 || gen.kinds[0] != reports.KindTrialBalance {
		t.Fatalf("unexpected generator calls %v", gen.kinds)
	}
}

func TestExportReportJSON(t *testing.T) {
	org := uuid.New()
	svc, dir := newTestService(t, &stubGenerator{report: sampleTrialBalance(org)}, nil)
	ctx := shared.WithTenant(context.Background(), org)

	res, err := svc.ExportReport(ctx, Request{Report: "trial_balance", Format: "json", Config: reports.Config{OrgID: org}})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(res.Key)))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"report_header", "summary", "line_items"} {
		if _, ok := decoded[field]; !ok {
			t.Fatalf("json missing %s", field)
		}
	}
}

func TestExportReportErrors(t *testing.T) {
	org := uuid.New()
	ctx := shared.WithTenant(context.Background(), org)
	svc, _ := newTestService(t, &stubGenerator{report: sampleTrialBalance(org)}, nil)

	_, err := svc.ExportReport(ctx, Request{Report: "tb", Format: "docx", Config: reports.Config{OrgID: org}})
	if !shared.IsKind(err, shared.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = svc.ExportReport(ctx, Request{Report: "cash_flow", Format: "csv", Config: reports.Config{OrgID: org}})
	if !shared.IsKind(err, shared.KindValidation) {
		t.Fatalf("expected validation error for unknown report, got %v", err)
	}
	_, err = svc.ExportReport(ctx, Request{Report: "tb", Format: "csv", Config: reports.Config{OrgID: uuid.New()}})
	if !shared.IsKind(err, shared.KindTenant) {
		t.Fatalf("expected tenant violation, got %v", err)
	}
	_, err = svc.ExportReport(ctx, Request{Report: "tb", Format: "pdf", Config: reports.Config{OrgID: org}})
	if !shared.IsKind(err, shared.KindNotImplemented) {
		t.Fatalf("expected not implemented without renderer, got %v", err)
	}

	failing := shared.NewError(shared.KindFiscalPeriod, "reports.trial_balance", "period closed")
	svc, _ = newTestService(t, &stubGenerator{err: failing}, nil)
	_, err = svc.ExportReport(ctx, Request{Report: "tb", Format: "csv", Config: reports.Config{OrgID: org}})
	if !errors.Is(err, failing) {
		t.Fatalf("expected generator error to pass through, got %v", err)
	}

	svc, _ = newTestService(t, &stubGenerator{report: sampleTrialBalance(org)}, &stubRenderer{err: errors.New("gotenberg down")})
	_, err = svc.ExportReport(ctx, Request{Report: "tb", Format: "pdf", Config: reports.Config{OrgID: org}})
	if !shared.IsKind(err, shared.KindBackend) {
		t.Fatalf("expected backend failure, got %v", err)
	}
}
