package fx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// RateStore reads and writes organization rate tables.
type RateStore interface {
	QuoteProvider
	Upsert(ctx context.Context, orgID uuid.UUID, base, quote string, asOf time.Time, q Quote) error
}

// splitPair validates a six-letter pair into ISO currencies.
func splitPair(pair string) (string, string, error) {
	if len(pair) != 6 {
		return "", "", fmt.Errorf("fx: invalid pair %q", pair)
	}
	base, err := money.ParseCurrency(pair[:3])
	if err != nil {
		return "", "", err
	}
	quote, err := money.ParseCurrency(pair[3:])
	if err != nil {
		return "", "", err
	}
	return base, quote, nil
}

// PGStore reads fx_rates.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs the Postgres rate store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// QuoteForPeriod returns the latest quote on or before asOf.
func (s *PGStore) QuoteForPeriod(ctx context.Context, orgID uuid.UUID, asOf time.Time, pair string) (Quote, bool, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return Quote{}, false, err
	}
	var q Quote
	err = s.pool.QueryRow(ctx, `SELECT average_rate, closing_rate FROM fx_rates
WHERE org_id = $1 AND base_currency = $2 AND quote_currency = $3 AND as_of <= $4
ORDER BY as_of DESC LIMIT 1`, orgID, base, quote, asOf).Scan(&q.Average, &q.Closing)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, err
	}
	return q, true, nil
}

// Upsert stores the quote for (pair, asOf).
func (s *PGStore) Upsert(ctx context.Context, orgID uuid.UUID, base, quote string, asOf time.Time, q Quote) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO fx_rates (org_id, base_currency, quote_currency, as_of, average_rate, closing_rate)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (org_id, base_currency, quote_currency, as_of) DO UPDATE SET average_rate = EXCLUDED.average_rate, closing_rate = EXCLUDED.closing_rate`,
		orgID, base, quote, asOf, q.Average, q.Closing)
	return err
}

type dated struct {
	asOf  time.Time
	quote Quote
}

type memKey struct {
	org  uuid.UUID
	pair string
}

// MemoryStore keeps quotes in process.
type MemoryStore struct {
	mu     sync.RWMutex
	quotes map[memKey][]dated
}

// NewMemoryStore constructs an empty rate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quotes: make(map[memKey][]dated)}
}

// QuoteForPeriod returns the latest quote on or before asOf.
func (s *MemoryStore) QuoteForPeriod(_ context.Context, orgID uuid.UUID, asOf time.Time, pair string) (Quote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.quotes[memKey{org: orgID, pair: pair}]
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].asOf.After(asOf) {
			return history[i].quote, true, nil
		}
	}
	return Quote{}, false, nil
}

// Upsert stores the quote for (pair, asOf).
func (s *MemoryStore) Upsert(_ context.Context, orgID uuid.UUID, base, quote string, asOf time.Time, q Quote) error {
	base, quote, err := splitPair(base + quote)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memKey{org: orgID, pair: base + quote}
	history := s.quotes[key]
	for i := range history {
		if history[i].asOf.Equal(asOf) {
			history[i].quote = q
			return nil
		}
	}
	history = append(history, dated{asOf: asOf, quote: q})
	sort.Slice(history, func(i, j int) bool { return history[i].asOf.Before(history[j].asOf) })
	s.quotes[key] = history
	return nil
}
