package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const integrityPage = 500

// Finding kinds reported by the integrity scan.
const (
	FindingUnbalanced  = "unbalanced"
	FindingBrokenChain = "broken_chain"
)

type transactionReader interface {
	Get(ctx context.Context, orgID, id uuid.UUID) (ledger.Transaction, error)
	List(ctx context.Context, orgID uuid.UUID, filter ledger.ListFilter) ([]ledger.Transaction, error)
}

// IntegrityFinding is one transaction that violates a ledger invariant.
type IntegrityFinding struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Detail        string    `json:"detail"`
}

// IntegrityReport summarises the scan of one organization.
type IntegrityReport struct {
	OrgID    uuid.UUID          `json:"organization_id"`
	Scanned  int                `json:"scanned"`
	Findings []IntegrityFinding `json:"findings"`
}

// LedgerIntegrityJob re-checks committed transactions: ledger groups must balance and
// dependent postings must point at an existing upstream transaction.
type LedgerIntegrityJob struct {
	Orgs    orgLister
	Ledger  transactionReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob wires dependencies for the integrity handler.
func NewLedgerIntegrityJob(orgSvc orgLister, ledgerSvc transactionReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Orgs: orgSvc, Ledger: ledgerSvc, Logger: logger, Metrics: metrics}
}

// Handle processes ledger:integrity tasks.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Orgs == nil || j.Ledger == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload IntegrityPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	_, err = j.Run(ctx, payload)
	return err
}

// Run scans every organization, or only payload.OrgID.
func (j *LedgerIntegrityJob) Run(ctx context.Context, payload IntegrityPayload) ([]IntegrityReport, error) {
	all, err := j.Orgs.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	logger := j.logger()
	var reports []IntegrityReport
	for _, org := range all {
		if payload.OrgID != nil && *payload.OrgID != org.ID {
			continue
		}
		report, err := j.Scan(ctx, org.ID, payload.From, payload.To)
		if err != nil {
			return reports, fmt.Errorf("ledger integrity: org %s: %w", org.ID, err)
		}
		reports = append(reports, report)
		counts := map[string]int{}
		for _, f := range report.Findings {
			counts[f.Kind]++
			logger.Warn("ledger integrity finding",
				slog.String("org_id", org.ID.String()),
				slog.String("transaction_id", f.TransactionID.String()),
				slog.String("kind", f.Kind),
				slog.String("detail", f.Detail))
		}
		for kind, n := range counts {
			j.metrics().AddFindings(kind, n)
		}
		logger.Info("ledger integrity scanned",
			slog.String("org_id", org.ID.String()),
			slog.Int("transactions", report.Scanned),
			slog.Int("findings", len(report.Findings)))
	}
	return reports, nil
}

// Scan checks the committed transactions of one organization dated within [from, to].
func (j *LedgerIntegrityJob) Scan(ctx context.Context, orgID uuid.UUID, from, to time.Time) (IntegrityReport, error) {
	ctx = shared.WithTenant(ctx, orgID)
	report := IntegrityReport{OrgID: orgID}
	seen := make(map[uuid.UUID]bool)
	var dependents []ledger.Transaction
	for offset := 0; ; offset += integrityPage {
		page, err := j.Ledger.List(ctx, orgID, ledger.ListFilter{From: from, To: to, WithLines: true, Limit: integrityPage, Offset: offset})
		if err != nil {
			return report, err
		}
		for _, tx := range page {
			if tx.Status == ledger.StatusScheduled {
				continue
			}
			report.Scanned++
			seen[tx.ID] = true
			if tx.IsLedger {
				if debit, credit := tx.Totals(); !money.WithinTolerance(debit, credit, tx.Currency) {
					report.Findings = append(report.Findings, IntegrityFinding{
						TransactionID: tx.ID,
						Kind:          FindingUnbalanced,
						Detail:        fmt.Sprintf("debit %s != credit %s %s", debit.StringFixed(2), credit.StringFixed(2), tx.Currency),
					})
				}
			}
			if tx.Type.Dependent() {
				dependents = append(dependents, tx)
			}
		}
		if len(page) < integrityPage {
			break
		}
	}
	for _, tx := range dependents {
		detail, err := j.chainDetail(ctx, orgID, tx, seen)
		if err != nil {
			return report, err
		}
		if detail != "" {
			report.Findings = append(report.Findings, IntegrityFinding{TransactionID: tx.ID, Kind: FindingBrokenChain, Detail: detail})
		}
	}
	return report, nil
}

// chainDetail describes why tx's reference chain is broken, or returns "".
func (j *LedgerIntegrityJob) chainDetail(ctx context.Context, orgID uuid.UUID, tx ledger.Transaction, seen map[uuid.UUID]bool) (string, error) {
	if len(tx.References) == 0 {
		return fmt.Sprintf("%s has no upstream reference", tx.Type), nil
	}
	upstream := tx.References[0]
	if !seen[upstream] {
		if _, err := j.Ledger.Get(ctx, orgID, upstream); err != nil {
			if shared.IsKind(err, shared.KindNotFound) {
				return fmt.Sprintf("upstream %s not found", upstream), nil
			}
			return "", err
		}
		seen[upstream] = true
	}
	for _, line := range tx.Lines {
		if !containsID(line.UpstreamIDs, upstream) {
			return fmt.Sprintf("line %d does not carry upstream %s", line.LineNumber, upstream), nil
		}
	}
	return "", nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
