package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReportsWarmup recomputes trial balances for open periods.
	TaskReportsWarmup = "reports:warmup"
	// TaskLedgerIntegrity scans posted ledger transactions for unbalanced groups and broken chains.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskReportsInvalidate drops every cached report of one organization.
	TaskReportsInvalidate = "reports:invalidate"
)

// WarmupPayload limits warmup to one organization when OrgID is set.
type WarmupPayload struct {
	OrgID *uuid.UUID `json:"organization_id,omitempty"`
}

// IntegrityPayload limits the scan to one organization and an optional date window.
type IntegrityPayload struct {
	OrgID *uuid.UUID `json:"organization_id,omitempty"`
	From  time.Time  `json:"from,omitempty"`
	To    time.Time  `json:"to,omitempty"`
}

// InvalidatePayload names the organization whose reports are dropped.
type InvalidatePayload struct {
	OrgID uuid.UUID `json:"organization_id"`
}

// NewWarmupTask constructs a reports:warmup task.
func NewWarmupTask(payload WarmupPayload) (*asynq.Task, error) {
	return newTask(TaskReportsWarmup, payload)
}

// NewIntegrityTask constructs a ledger:integrity task.
func NewIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	return newTask(TaskLedgerIntegrity, payload)
}

// NewInvalidateTask constructs a reports:invalidate task.
func NewInvalidateTask(payload InvalidatePayload) (*asynq.Task, error) {
	if payload.OrgID == uuid.Nil {
		return nil, fmt.Errorf("jobs: organization id required")
	}
	return newTask(TaskReportsInvalidate, payload)
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func decode(t *asynq.Task, target any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), target); err != nil {
		return fmt.Errorf("jobs: decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}
