package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

type invalidator interface {
	Invalidate(ctx context.Context, orgID uuid.UUID) error
}

// InvalidateJob drops cached reports of one organization.
type InvalidateJob struct {
	Cache   invalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes reports:invalidate tasks.
func (j *InvalidateJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Cache == nil {
		return errors.New("reports invalidate: handler not configured")
	}
	var payload InvalidatePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	if payload.OrgID == uuid.Nil {
		return errors.Join(errors.New("reports invalidate: organization id required"), asynq.SkipRetry)
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskReportsInvalidate)
	defer func() { err = tracker.End(err) }()

	if err := j.Cache.Invalidate(ctx, payload.OrgID); err != nil {
		return err
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("report cache invalidated", slog.String("job", TaskReportsInvalidate), slog.String("org_id", payload.OrgID.String()))
	return nil
}
