package orgs

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists organizations.
type Repository interface {
	Insert(ctx context.Context, org Organization) error
	Get(ctx context.Context, id uuid.UUID) (Organization, error)
	List(ctx context.Context) ([]Organization, error)
}

// PGRepository stores organizations in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the Postgres repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert creates the organization row.
func (r *PGRepository) Insert(ctx context.Context, org Organization) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO organizations (id, name, base_currency, created_at) VALUES ($1, $2, $3, $4)`,
		org.ID, org.Name, org.BaseCurrency, org.CreatedAt)
	return err
}

// Get loads one organization.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Organization, error) {
	var org Organization
	err := r.pool.QueryRow(ctx, `SELECT id, name, base_currency, created_at FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &org.BaseCurrency, &org.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Organization{}, shared.ErrNotFound
	}
	return org, err
}

// List returns every organization ordered by creation.
func (r *PGRepository) List(ctx context.Context) ([]Organization, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, base_currency, created_at FROM organizations ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.BaseCurrency, &org.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

// MemoryRepository keeps organizations in process.
type MemoryRepository struct {
	mu   sync.RWMutex
	orgs map[uuid.UUID]Organization
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orgs: make(map[uuid.UUID]Organization)}
}

// Insert stores org.
func (r *MemoryRepository) Insert(_ context.Context, org Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orgs[org.ID]; ok {
		return shared.ErrConflict
	}
	r.orgs[org.ID] = org
	return nil
}

// Get loads org by id.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	org, ok := r.orgs[id]
	if !ok {
		return Organization{}, shared.ErrNotFound
	}
	return org, nil
}

// List returns all organizations.
func (r *MemoryRepository) List(_ context.Context) ([]Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Organization, 0, len(r.orgs))
	for _, org := range r.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
