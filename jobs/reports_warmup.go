package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/fiscal"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/orgs"
	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const periodPage = 100

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

type orgLister interface {
	ListAll(ctx context.Context) ([]orgs.Organization, error)
}

type periodLister interface {
	ListPeriods(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]fiscal.Period, error)
}

type trialBalancer interface {
	TrialBalance(ctx context.Context, cfg reports.Config) (reports.TrialBalance, error)
}

// ReportsWarmupJob fills the report cache with trial balances of every open period.
type ReportsWarmupJob struct {
	Orgs    orgLister
	Periods periodLister
	Reports trialBalancer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReportsWarmupJob wires dependencies for the warmup handler.
func NewReportsWarmupJob(orgSvc orgLister, periods periodLister, reportSvc trialBalancer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportsWarmupJob {
	return &ReportsWarmupJob{
		Orgs:    orgSvc,
		Periods: periods,
		Reports: reportSvc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes reports:warmup tasks.
func (j *ReportsWarmupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Orgs == nil || j.Reports == nil {
		return errors.New("reports warmup: handler not configured")
	}
	var payload WarmupPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskReportsWarmup)
	defer func() { err = tracker.End(err) }()

	_, err = j.Run(ctx, payload)
	return err
}

// Run warms every organization, or only payload.OrgID, and returns the number of reports computed.
// A failing organization is logged and skipped; the first failure is returned after all orgs ran.
func (j *ReportsWarmupJob) Run(ctx context.Context, payload WarmupPayload) (int, error) {
	logger := j.logger()
	all, err := j.Orgs.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	started := j.now()
	warmed := 0
	var firstErr error
	for _, org := range all {
		if payload.OrgID != nil && *payload.OrgID != org.ID {
			continue
		}
		n, err := j.warmOrg(ctx, org.ID)
		warmed += n
		if err != nil {
			logger.Error("warm organization", slog.String("org_id", org.ID.String()), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
	j.metrics().AddWarmed(warmed)
	logger.Info("completed reports warmup", slog.Int("reports", warmed), slog.Duration("duration", j.now().Sub(started)))
	return warmed, firstErr
}

func (j *ReportsWarmupJob) warmOrg(ctx context.Context, orgID uuid.UUID) (int, error) {
	ctx = shared.WithTenant(ctx, orgID)
	windows, err := j.openWindows(ctx, orgID)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, w := range windows {
		scoped, cancel := context.WithTimeout(ctx, 20*time.Second)
		_, err := j.Reports.TrialBalance(scoped, reports.Config{OrgID: orgID, StartDate: w[0], EndDate: w[1]})
		cancel()
		if err != nil {
			return warmed, err
		}
		warmed++
	}
	return warmed, nil
}

// openWindows lists the open periods, or month-to-date when the org has none.
func (j *ReportsWarmupJob) openWindows(ctx context.Context, orgID uuid.UUID) ([][2]time.Time, error) {
	var windows [][2]time.Time
	if j.Periods != nil {
		for offset := 0; ; offset += periodPage {
			page, err := j.Periods.ListPeriods(ctx, orgID, periodPage, offset)
			if err != nil {
				return nil, err
			}
			for _, p := range page {
				if p.Status == fiscal.PeriodStatusOpen {
					windows = append(windows, [2]time.Time{p.StartDate, p.EndDate})
				}
			}
			if len(page) < periodPage {
				break
			}
		}
	}
	if len(windows) == 0 {
		today := shared.DateOnly(j.now())
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		windows = append(windows, [2]time.Time{start, today})
	}
	return windows, nil
}

func (j *ReportsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportsWarmup))
}

func (j *ReportsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
