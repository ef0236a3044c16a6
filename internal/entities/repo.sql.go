package entities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

const entityColumns = `id, org_id, entity_type, code, name, status, smart_code, created_at, updated_at`

func scanEntity(row pgx.Row) (Entity, error) {
	var e Entity
	var status string
	if err := row.Scan(&e.ID, &e.OrgID, &e.Type, &e.Code, &e.Name, &status, &e.SmartCode, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, shared.ErrNotFound
		}
		return Entity{}, err
	}
	e.Status = Status(status)
	return e, nil
}

// InsertEntity creates the entity row.
func (r *PGRepository) InsertEntity(ctx context.Context, e Entity) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO entities (`+entityColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.OrgID, e.Type, e.Code, e.Name, string(e.Status), e.SmartCode, e.CreatedAt, e.UpdatedAt)
	if shared.IsUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

// GetEntityByCode loads an entity through the (org, type, code) unique index.
func (r *PGRepository) GetEntityByCode(ctx context.Context, orgID uuid.UUID, entityType, code string) (Entity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE org_id = $1 AND entity_type = $2 AND code = $3`, orgID, entityType, code)
	return scanEntity(row)
}

// GetEntityByID loads an entity by id within org.
func (r *PGRepository) GetEntityByID(ctx context.Context, orgID, id uuid.UUID) (Entity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanEntity(row)
}

// ListEntities lists entities of a type.
func (r *PGRepository) ListEntities(ctx context.Context, orgID uuid.UUID, entityType string, filter ListFilter, page shared.Page) ([]Entity, error) {
	var sb strings.Builder
	args := []any{orgID}
	sb.WriteString(`SELECT ` + entityColumns + ` FROM entities WHERE org_id = $1`)
	if entityType != "" {
		args = append(args, entityType)
		fmt.Fprintf(&sb, " AND entity_type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if filter.CodePrefix != "" {
		args = append(args, filter.CodePrefix+"%")
		fmt.Fprintf(&sb, " AND code LIKE $%d", len(args))
	}
	if filter.SmartCodePrefix != "" {
		prefix := strings.Trim(filter.SmartCodePrefix, ".")
		args = append(args, prefix+".%")
		fmt.Fprintf(&sb, " AND smart_code LIKE $%d", len(args))
	}
	args = append(args, page.Limit, page.Offset)
	fmt.Fprintf(&sb, " ORDER BY entity_type, code LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateStatus changes the logical status.
func (r *PGRepository) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status Status) (Entity, error) {
	row := r.pool.QueryRow(ctx, `UPDATE entities SET status = $3, updated_at = NOW() WHERE org_id = $1 AND id = $2 RETURNING `+entityColumns, orgID, id, string(status))
	return scanEntity(row)
}

// DeclareFieldType inserts the declaration if absent and returns the declared type.
func (r *PGRepository) DeclareFieldType(ctx context.Context, orgID uuid.UUID, name string, vt ValueType) (ValueType, error) {
	var declared string
	err := r.pool.QueryRow(ctx, `INSERT INTO field_schemas (org_id, field_name, value_type) VALUES ($1, $2, $3)
		ON CONFLICT (org_id, field_name) DO UPDATE SET field_name = EXCLUDED.field_name
		RETURNING value_type`, orgID, name, string(vt)).Scan(&declared)
	if err != nil {
		return "", err
	}
	return ValueType(declared), nil
}

// UpsertField writes the attribute, replacing any previous value.
func (r *PGRepository) UpsertField(ctx context.Context, f DynamicField) error {
	var text *string
	var number decimal.NullDecimal
	var date *time.Time
	var raw []byte
	switch f.Value.Type {
	case ValueText:
		text = &f.Value.Text
	case ValueNumber:
		number = decimal.NullDecimal{Decimal: f.Value.Number, Valid: true}
	case ValueDate:
		date = &f.Value.Date
	case ValueJSON:
		raw = f.Value.JSON
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO dynamic_fields (org_id, entity_id, field_name, value_type, value_text, value_number, value_date, value_json, smart_code, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (entity_id, field_name) DO UPDATE SET
			value_type = EXCLUDED.value_type,
			value_text = EXCLUDED.value_text,
			value_number = EXCLUDED.value_number,
			value_date = EXCLUDED.value_date,
			value_json = EXCLUDED.value_json,
			smart_code = EXCLUDED.smart_code,
			updated_at = EXCLUDED.updated_at
		WHERE dynamic_fields.org_id = EXCLUDED.org_id`,
		f.OrgID, f.EntityID, f.Name, string(f.Value.Type), text, number, date, raw, f.SmartCode, f.UpdatedAt)
	return err
}

const fieldColumns = `org_id, entity_id, field_name, value_type, value_text, value_number, value_date, value_json, smart_code, updated_at`

func scanField(row pgx.Row) (DynamicField, error) {
	var f DynamicField
	var vt string
	var text *string
	var number decimal.NullDecimal
	var date *time.Time
	var raw []byte
	if err := row.Scan(&f.OrgID, &f.EntityID, &f.Name, &vt, &text, &number, &date, &raw, &f.SmartCode, &f.UpdatedAt); err != nil {
		return DynamicField{}, err
	}
	switch ValueType(vt) {
	case ValueText:
		if text != nil {
			f.Value = Text(*text)
		} else {
			f.Value = Text("")
		}
	case ValueNumber:
		f.Value = Number(number.Decimal)
	case ValueDate:
		if date != nil {
			f.Value = Date(*date)
		}
	case ValueJSON:
		f.Value = JSON(json.RawMessage(raw))
	}
	return f, nil
}

// ListFields returns the entity's attributes ordered by name.
func (r *PGRepository) ListFields(ctx context.Context, orgID, entityID uuid.UUID) ([]DynamicField, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fieldColumns+` FROM dynamic_fields WHERE org_id = $1 AND entity_id = $2 ORDER BY field_name`, orgID, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]DynamicField, 0)
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FieldsFor loads attributes for many entities at once.
func (r *PGRepository) FieldsFor(ctx context.Context, orgID uuid.UUID, entityIDs []uuid.UUID) (map[uuid.UUID][]DynamicField, error) {
	out := make(map[uuid.UUID][]DynamicField, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+fieldColumns+` FROM dynamic_fields WHERE org_id = $1 AND entity_id = ANY($2) ORDER BY entity_id, field_name`, orgID, entityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out[f.EntityID] = append(out[f.EntityID], f)
	}
	return out, rows.Err()
}
