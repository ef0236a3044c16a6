package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/report"
)

// Generator produces a report by kind.
type Generator interface {
	Generate(ctx context.Context, kind reports.Kind, cfg reports.Config) (any, error)
}

// Request asks for a report to be generated and exported.
type Request struct {
	Report string         `json:"report_type" validate:"required"`
	Format string         `json:"format" validate:"required"`
	Config reports.Config `json:"config"`
}

// Result describes a stored export.
type Result struct {
	DownloadURL      string `json:"download_url"`
	FileSizeBytes    int64  `json:"file_size_bytes"`
	GenerationTimeMS int64  `json:"generation_time_ms"`
	Format           Format `json:"format"`
	ContentType      string `json:"content_type"`
	Key              string `json:"key"`
}

// Service renders reports and writes them to blob storage.
type Service struct {
	store     storage.BlobStore
	renderer  Renderer
	generator Generator
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// NewService constructs the exporter. renderer may be nil when PDF export is unavailable.
func NewService(store storage.BlobStore, renderer Renderer, generator Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		renderer:  renderer,
		generator: generator,
		logger:    logger,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock used for object keys.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// ExportReport generates the requested report and exports it.
func (s *Service) ExportReport(ctx context.Context, req Request) (Result, error) {
	const op = "export.report"
	if err := shared.EnsureTenant(ctx, op, req.Config.OrgID); err != nil {
		return Result{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return Result{}, shared.Wrap(shared.KindValidation, op, err)
	}
	kind, ok := reports.ParseKind(req.Report)
	if !ok {
		return Result{}, shared.Validation(op, fmt.Sprintf("unknown report %q", req.Report))
	}
	format, ok := ParseFormat(req.Format)
	if !ok {
		return Result{}, shared.Validation(op, fmt.Sprintf("unsupported format %q", req.Format))
	}
	if s.generator == nil {
		return Result{}, shared.NewError(shared.KindNotImplemented, op, "report generator not configured")
	}
	started := time.Now()
	generated, err := s.generator.Generate(ctx, kind, req.Config)
	if err != nil {
		return Result{}, err
	}
	tabular, ok := generated.(reports.Tabular)
	if !ok {
		return Result{}, shared.NewError(shared.KindInternal, op, fmt.Sprintf("%s cannot be exported", kind))
	}
	return s.export(ctx, op, req.Config.OrgID, kind, tabular, format, started)
}

// Export renders an already generated report and stores it.
func (s *Service) Export(ctx context.Context, orgID uuid.UUID, kind reports.Kind, rep reports.Tabular, format Format) (Result, error) {
	const op = "export.export"
	if err := shared.EnsureTenant(ctx, op, orgID); err != nil {
		return Result{}, err
	}
	return s.export(ctx, op, orgID, kind, rep, format, time.Now())
}

func (s *Service) export(ctx context.Context, op string, orgID uuid.UUID, kind reports.Kind, rep reports.Tabular, format Format, started time.Time) (Result, error) {
	data, err := s.Render(ctx, format, rep)
	if err != nil {
		if errors.Is(err, ErrNoRenderer) || errors.Is(err, report.ErrNotConfigured) {
			return Result{}, shared.Wrap(shared.KindNotImplemented, op, err)
		}
		return Result{}, shared.Wrap(shared.KindBackend, op, fmt.Errorf("render %s: %w", format, err))
	}
	key := ObjectKey(orgID, kind, format, s.now())
	obj, err := s.store.Put(ctx, key, format.ContentType(), data)
	if err != nil {
		return Result{}, shared.WrapOp(op, err)
	}
	url, err := s.store.URL(ctx, obj.Key)
	if err != nil {
		return Result{}, shared.WrapOp(op, err)
	}
	result := Result{
		DownloadURL:      url,
		FileSizeBytes:    obj.Size,
		GenerationTimeMS: time.Since(started).Milliseconds(),
		Format:           format,
		ContentType:      format.ContentType(),
		Key:              obj.Key,
	}
	s.logger.InfoContext(ctx, "report exported",
		slog.String("org_id", orgID.String()),
		slog.String("report", string(kind)),
		slog.String("format", string(format)),
		slog.Int64("bytes", result.FileSizeBytes))
	return result, nil
}

// Render produces the artifact bytes for rep in format.
func (s *Service) Render(ctx context.Context, format Format, rep reports.Tabular) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(rep, "", "  ")
	case FormatCSV:
		var buf bytes.Buffer
		if err := WriteCSV(&buf, rep.Table()); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatExcel:
		return WriteExcel(rep.Table())
	case FormatPDF:
		return WritePDF(ctx, s.renderer, rep.Table())
	}
	return nil, fmt.Errorf("export: unsupported format %q", format)
}

// ObjectKey names the stored artifact: exports/{org}/{report}-{timestamp}.{ext}.
func ObjectKey(orgID uuid.UUID, kind reports.Kind, format Format, at time.Time) string {
	stamp := at.UTC().Format("20060102T150405.000") + "Z"
	return fmt.Sprintf("exports/%s/%s-%s.%s", orgID, kind, stamp, format.Extension())
}
