package relationships

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PGRepository implements Repository on Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the Postgres repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const relColumns = `id, org_id, from_id, to_id, rel_type, strength, metadata, smart_code, status, created_at, updated_at`

func scanRelationship(row pgx.Row) (Relationship, error) {
	var rel Relationship
	var status string
	var meta []byte
	if err := row.Scan(&rel.ID, &rel.OrgID, &rel.FromID, &rel.ToID, &rel.Type, &rel.Strength, &meta, &rel.SmartCode, &status, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
		return Relationship{}, err
	}
	rel.Status = Status(status)
	if len(meta) > 0 && string(meta) != "{}" {
		rel.Metadata = meta
	}
	return rel, nil
}

// Upsert relies on the (org, from, to, type) unique constraint for idempotency.
func (r *PGRepository) Upsert(ctx context.Context, rel Relationship) (Relationship, error) {
	meta := []byte(rel.Metadata)
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO relationships (`+relColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (org_id, from_id, to_id, rel_type) DO UPDATE SET
			strength = EXCLUDED.strength,
			metadata = EXCLUDED.metadata,
			smart_code = EXCLUDED.smart_code,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING `+relColumns,
		rel.ID, rel.OrgID, rel.FromID, rel.ToID, rel.Type, rel.Strength, meta, rel.SmartCode, string(rel.Status), rel.CreatedAt, rel.UpdatedAt)
	return scanRelationship(row)
}

// Deactivate marks the edge inactive.
func (r *PGRepository) Deactivate(ctx context.Context, orgID, fromID, toID uuid.UUID, relType string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE relationships SET status = 'inactive', updated_at = NOW()
		WHERE org_id = $1 AND from_id = $2 AND to_id = $3 AND rel_type = $4 AND status = 'active'`, orgID, fromID, toID, relType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Neighbors lists active edges touching entityID.
func (r *PGRepository) Neighbors(ctx context.Context, orgID, entityID uuid.UUID, relType string, dir Direction) ([]Relationship, error) {
	var cond string
	switch dir {
	case Outgoing:
		cond = "from_id = $2"
	case Incoming:
		cond = "to_id = $2"
	default:
		cond = "(from_id = $2 OR to_id = $2)"
	}
	query := fmt.Sprintf(`SELECT %s FROM relationships WHERE org_id = $1 AND %s AND status = 'active' AND ($3 = '' OR rel_type = $3) ORDER BY rel_type, created_at, id`, relColumns, cond)
	rows, err := r.pool.Query(ctx, query, orgID, entityID, relType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Relationship, 0)
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// Edges lists active relType edges ordered by id.
func (r *PGRepository) Edges(ctx context.Context, orgID uuid.UUID, relType string) ([]Relationship, error) {
	query := fmt.Sprintf(`SELECT %s FROM relationships WHERE org_id = $1 AND rel_type = $2 AND status = 'active' ORDER BY id`, relColumns)
	rows, err := r.pool.Query(ctx, query, orgID, relType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Relationship, 0)
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// Parents returns the sources of active relType edges into id.
func (r *PGRepository) Parents(ctx context.Context, orgID, id uuid.UUID, relType string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT from_id FROM relationships WHERE org_id = $1 AND to_id = $2 AND rel_type = $3 AND status = 'active'`, orgID, id, relType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]uuid.UUID, 0, 1)
	for rows.Next() {
		var parent uuid.UUID
		if err := rows.Scan(&parent); err != nil {
			return nil, err
		}
		out = append(out, parent)
	}
	return out, rows.Err()
}
