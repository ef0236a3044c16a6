package fiscal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists fiscal periods. Every method is scoped by org.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPeriods(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Period, error)
	LoadPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error)
	// Covering returns the periods whose range contains date.
	Covering(ctx context.Context, orgID uuid.UUID, date time.Time) ([]Period, error)
	// Overlapping returns the periods sharing at least one day with [start, end].
	Overlapping(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]Period, error)
}

// TxRepository exposes the transactional period writes.
type TxRepository interface {
	// LockPeriods serializes period writes of one organization until the transaction ends.
	LockPeriods(ctx context.Context, orgID uuid.UUID) error
	PeriodRangeConflict(ctx context.Context, orgID uuid.UUID, start, end time.Time) (bool, error)
	InsertPeriod(ctx context.Context, p Period) error
	LoadPeriodForUpdate(ctx context.Context, orgID, id uuid.UUID) (Period, error)
	UpdatePeriodStatus(ctx context.Context, orgID, id uuid.UUID, status PeriodStatus, closedAt *time.Time, at time.Time) error
}

// MemoryRepository keeps periods in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	periods map[uuid.UUID]Period
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{periods: make(map[uuid.UUID]Period)}
}

// WithTx runs fn under the repository write lock; writes apply only when fn succeeds.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{base: r.periods, staged: make(map[uuid.UUID]Period)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, p := range tx.staged {
		r.periods[id] = p
	}
	return nil
}

// ListPeriods returns periods ordered by start date.
func (r *MemoryRepository) ListPeriods(_ context.Context, orgID uuid.UUID, page shared.Page) ([]Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Period, 0)
	for _, p := range r.periods {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	start, end := page.Slice(len(out))
	return out[start:end], nil
}

// LoadPeriod returns one period.
func (r *MemoryRepository) LoadPeriod(_ context.Context, orgID, id uuid.UUID) (Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.periods[id]
	if !ok || p.OrgID != orgID {
		return Period{}, shared.ErrNotFound
	}
	return p, nil
}

// Covering returns the periods containing date.
func (r *MemoryRepository) Covering(_ context.Context, orgID uuid.UUID, date time.Time) ([]Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Period, 0, 1)
	for _, p := range r.periods {
		if p.OrgID == orgID && p.Contains(date) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// Overlapping returns the periods intersecting [start, end].
func (r *MemoryRepository) Overlapping(_ context.Context, orgID uuid.UUID, start, end time.Time) ([]Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Period
	for _, p := range r.periods {
		if p.OrgID == orgID && !p.StartDate.After(end) && !p.EndDate.Before(start) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

type memoryTx struct {
	base   map[uuid.UUID]Period
	staged map[uuid.UUID]Period
}

func (t *memoryTx) get(orgID, id uuid.UUID) (Period, bool) {
	p, ok := t.staged[id]
	if !ok {
		p, ok = t.base[id]
	}
	return p, ok && p.OrgID == orgID
}

func (t *memoryTx) LockPeriods(context.Context, uuid.UUID) error { return nil }

func (t *memoryTx) PeriodRangeConflict(_ context.Context, orgID uuid.UUID, start, end time.Time) (bool, error) {
	for _, set := range []map[uuid.UUID]Period{t.base, t.staged} {
		for _, p := range set {
			if p.OrgID == orgID && !p.StartDate.After(end) && !p.EndDate.Before(start) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memoryTx) InsertPeriod(_ context.Context, p Period) error {
	t.staged[p.ID] = p
	return nil
}

func (t *memoryTx) LoadPeriodForUpdate(_ context.Context, orgID, id uuid.UUID) (Period, error) {
	p, ok := t.get(orgID, id)
	if !ok {
		return Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (t *memoryTx) UpdatePeriodStatus(_ context.Context, orgID, id uuid.UUID, status PeriodStatus, closedAt *time.Time, at time.Time) error {
	p, ok := t.get(orgID, id)
	if !ok {
		return shared.ErrNotFound
	}
	p.Status = status
	p.ClosedAt = closedAt
	p.UpdatedAt = at
	t.staged[id] = p
	return nil
}
