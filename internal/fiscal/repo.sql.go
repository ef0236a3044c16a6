package fiscal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PGRepository implements Repository on Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the Postgres period store.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const periodColumns = `id, org_id, name, start_date, end_date, status, closed_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var status string
	if err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.StartDate, &p.EndDate, &status, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	p.Status = PeriodStatus(status)
	return p, nil
}

func scanPeriods(rows pgx.Rows) ([]Period, error) {
	defer rows.Close()
	out := make([]Period, 0)
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// WithTx executes fn within a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListPeriods returns periods ordered by start date.
func (r *PGRepository) ListPeriods(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE org_id = $1 ORDER BY start_date LIMIT $2 OFFSET $3`,
		orgID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return scanPeriods(rows)
}

// LoadPeriod returns one period.
func (r *PGRepository) LoadPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE org_id = $1 AND id = $2`, orgID, id))
}

// Covering returns periods whose range contains date.
func (r *PGRepository) Covering(ctx context.Context, orgID uuid.UUID, date time.Time) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE org_id = $1 AND $2::date BETWEEN start_date AND end_date ORDER BY start_date`,
		orgID, date)
	if err != nil {
		return nil, err
	}
	return scanPeriods(rows)
}

// Overlapping returns periods intersecting [start, end].
func (r *PGRepository) Overlapping(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE org_id = $1 AND start_date <= $3::date AND end_date >= $2::date ORDER BY start_date`,
		orgID, start, end)
	if err != nil {
		return nil, err
	}
	return scanPeriods(rows)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) LockPeriods(ctx context.Context, orgID uuid.UUID) error {
	return db.AdvisoryLock(ctx, r.tx, shared.PeriodLockKey(orgID))
}

func (r *txRepository) PeriodRangeConflict(ctx context.Context, orgID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fiscal_periods WHERE org_id = $1 AND start_date <= $3 AND end_date >= $2)`,
		orgID, start, end).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO fiscal_periods (`+periodColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrgID, p.Name, p.StartDate, p.EndDate, string(p.Status), p.ClosedAt, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *txRepository) LoadPeriodForUpdate(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE org_id = $1 AND id = $2 FOR UPDATE`, orgID, id))
}

func (r *txRepository) UpdatePeriodStatus(ctx context.Context, orgID, id uuid.UUID, status PeriodStatus, closedAt *time.Time, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE fiscal_periods SET status = $3, closed_at = $4, updated_at = $5 WHERE org_id = $1 AND id = $2`,
		orgID, id, string(status), closedAt, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
