package shared

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	OrgID    uuid.UUID
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

func validateAudit(log AuditLog) error {
	if log.OrgID == uuid.Nil {
		return errors.New("audit log requires organization")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := validateAudit(log); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (org_id, actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		log.OrgID, log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// MemoryAuditLog keeps audit entries in process.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditLog
}

// NewMemoryAuditLog constructs an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Record appends the log entry.
func (l *MemoryAuditLog) Record(_ context.Context, log AuditLog) error {
	if err := validateAudit(log); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	l.mu.Lock()
	l.entries = append(l.entries, log)
	l.mu.Unlock()
	return nil
}

// Entries returns the entries recorded for orgID.
func (l *MemoryAuditLog) Entries(orgID uuid.UUID) []AuditLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditLog, 0, len(l.entries))
	for _, entry := range l.entries {
		if entry.OrgID == orgID {
			out = append(out, entry)
		}
	}
	return out
}
