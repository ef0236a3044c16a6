package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

type idemKey struct {
	org uuid.UUID
	key string
}

// MemoryRepository keeps transactions in process. WithTx holds an exclusive
// lock and stages writes so a failing unit leaves no trace.
type MemoryRepository struct {
	mu      sync.RWMutex
	headers map[uuid.UUID]Header
	lines   map[uuid.UUID][]Line
	idem    map[idemKey]uuid.UUID
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		headers: make(map[uuid.UUID]Header),
		lines:   make(map[uuid.UUID][]Line),
		idem:    make(map[idemKey]uuid.UUID),
	}
}

// WithTx runs fn against a staging area and applies it on success.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{
		base:    r,
		headers: make(map[uuid.UUID]Header),
		lines:   make(map[uuid.UUID][]Line),
		idem:    make(map[idemKey]uuid.UUID),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, h := range tx.headers {
		r.headers[id] = h
	}
	for id, lines := range tx.lines {
		r.lines[id] = append(r.lines[id], lines...)
	}
	for k, id := range tx.idem {
		r.idem[k] = id
	}
	return nil
}

// Get returns the transaction with its lines.
func (r *MemoryRepository) Get(_ context.Context, orgID, id uuid.UUID) (Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.headers[id]
	if !ok || h.OrgID != orgID {
		return Transaction{}, shared.ErrNotFound
	}
	return Transaction{Header: h, Lines: cloneLines(r.lines[id])}, nil
}

// List returns transactions ordered by date then creation time.
func (r *MemoryRepository) List(_ context.Context, orgID uuid.UUID, filter ListFilter) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]Header, 0)
	for _, h := range r.headers {
		if h.OrgID != orgID || !matches(h, filter) {
			continue
		}
		matched = append(matched, h)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.Before(matched[j].Date)
		}
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	page := shared.NewPage(filter.Limit, filter.Offset)
	start, end := page.Slice(len(matched))
	out := make([]Transaction, 0, end-start)
	for _, h := range matched[start:end] {
		tx := Transaction{Header: h}
		if filter.WithLines {
			tx.Lines = cloneLines(r.lines[h.ID])
		}
		out = append(out, tx)
	}
	return out, nil
}

func matches(h Header, f ListFilter) bool {
	if f.Type != "" && h.Type != f.Type {
		return false
	}
	if f.Status != "" && h.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && h.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && h.Date.After(f.To) {
		return false
	}
	if f.LedgerOnly && !h.IsLedger {
		return false
	}
	if f.ReferenceID != nil {
		found := false
		for _, ref := range h.References {
			if ref == *f.ReferenceID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Activity aggregates posted ledger lines per account and currency.
func (r *MemoryRepository) Activity(_ context.Context, orgID uuid.UUID, q ActivityQuery) ([]ActivityRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type rowKey struct {
		account  uuid.UUID
		currency string
	}
	rows := make(map[rowKey]*ActivityRow)
	seen := make(map[rowKey]map[uuid.UUID]struct{})
	for id, h := range r.headers {
		if h.OrgID != orgID || !countsTowards(h, q.Basis) {
			continue
		}
		if !q.To.IsZero() && h.Date.After(q.To) {
			continue
		}
		opening := !q.From.IsZero() && h.Date.Before(q.From)
		for _, line := range r.lines[id] {
			if line.AccountID == nil || !line.Side.Valid() {
				continue
			}
			key := rowKey{account: *line.AccountID, currency: h.Currency}
			row, ok := rows[key]
			if !ok {
				row = &ActivityRow{AccountID: key.account, Currency: key.currency}
				rows[key] = row
				seen[key] = make(map[uuid.UUID]struct{})
			}
			debit := line.Side == smartcode.Debit
			switch {
			case opening && debit:
				row.OpeningDebit = row.OpeningDebit.Add(line.Amount)
			case opening:
				row.OpeningCredit = row.OpeningCredit.Add(line.Amount)
			case debit:
				row.Debit = row.Debit.Add(line.Amount)
			default:
				row.Credit = row.Credit.Add(line.Amount)
			}
			if !opening {
				if _, dup := seen[key][id]; !dup {
					seen[key][id] = struct{}{}
					row.TransactionIDs = append(row.TransactionIDs, id)
				}
			}
		}
	}
	out := make([]ActivityRow, 0, len(rows))
	for _, row := range rows {
		sort.Slice(row.TransactionIDs, func(i, j int) bool {
			return row.TransactionIDs[i].String() < row.TransactionIDs[j].String()
		})
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID.String() < out[j].AccountID.String()
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

// countsTowards reports whether h is a committed ledger posting of the basis.
// Cancelled postings still count; their reversal nets them out.
func countsTowards(h Header, basis Basis) bool {
	if !h.IsLedger || h.PostedAt == nil {
		return false
	}
	if basis == BasisBudget {
		return h.Type == TypeBudget
	}
	return h.Type != TypeBudget
}

// LatestPostedAt returns the newest posting time in range.
func (r *MemoryRepository) LatestPostedAt(_ context.Context, orgID uuid.UUID, from, to time.Time) (time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest time.Time
	found := false
	for _, h := range r.headers {
		if h.OrgID != orgID || !h.IsLedger || h.PostedAt == nil {
			continue
		}
		if (!from.IsZero() && h.Date.Before(from)) || (!to.IsZero() && h.Date.After(to)) {
			continue
		}
		if !found || h.PostedAt.After(latest) {
			latest = *h.PostedAt
			found = true
		}
	}
	return latest, found, nil
}

func cloneLines(lines []Line) []Line {
	out := make([]Line, len(lines))
	copy(out, lines)
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	return out
}

type memoryTx struct {
	base    *MemoryRepository
	headers map[uuid.UUID]Header
	lines   map[uuid.UUID][]Line
	idem    map[idemKey]uuid.UUID
}

func (t *memoryTx) header(orgID, id uuid.UUID) (Header, bool) {
	h, ok := t.headers[id]
	if !ok {
		h, ok = t.base.headers[id]
	}
	if !ok || h.OrgID != orgID {
		return Header{}, false
	}
	return h, true
}

func (t *memoryTx) InsertHeader(_ context.Context, h Header) error {
	if _, exists := t.header(h.OrgID, h.ID); exists {
		return shared.ErrConflict
	}
	if h.IdempotencyKey != "" {
		key := idemKey{org: h.OrgID, key: h.IdempotencyKey}
		if _, ok := t.base.idem[key]; ok {
			return ErrDuplicateIdempotencyKey
		}
		if _, ok := t.idem[key]; ok {
			return ErrDuplicateIdempotencyKey
		}
		t.idem[key] = h.ID
	}
	t.headers[h.ID] = h
	return nil
}

func (t *memoryTx) InsertLines(_ context.Context, lines []Line) error {
	for _, line := range lines {
		if _, ok := t.header(line.OrgID, line.TransactionID); !ok {
			return shared.ErrNotFound
		}
		for _, existing := range t.allLines(line.TransactionID) {
			if existing.LineNumber == line.LineNumber {
				return shared.ErrConflict
			}
		}
		t.lines[line.TransactionID] = append(t.lines[line.TransactionID], line)
	}
	return nil
}

func (t *memoryTx) allLines(id uuid.UUID) []Line {
	out := make([]Line, 0, len(t.base.lines[id])+len(t.lines[id]))
	out = append(out, t.base.lines[id]...)
	return append(out, t.lines[id]...)
}

func (t *memoryTx) LockHeader(_ context.Context, orgID, id uuid.UUID) (Header, error) {
	h, ok := t.header(orgID, id)
	if !ok {
		return Header{}, shared.ErrNotFound
	}
	return h, nil
}

func (t *memoryTx) Headers(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]Header, error) {
	out := make(map[uuid.UUID]Header, len(ids))
	for _, id := range ids {
		if h, ok := t.header(orgID, id); ok {
			out[id] = h
		}
	}
	return out, nil
}

func (t *memoryTx) Lines(_ context.Context, orgID, id uuid.UUID) ([]Line, error) {
	if _, ok := t.header(orgID, id); !ok {
		return nil, shared.ErrNotFound
	}
	return cloneLines(t.allLines(id)), nil
}

func (t *memoryTx) MaxLineNumber(_ context.Context, orgID, id uuid.UUID) (int, error) {
	if _, ok := t.header(orgID, id); !ok {
		return 0, shared.ErrNotFound
	}
	highest := 0
	for _, line := range t.allLines(id) {
		if line.LineNumber > highest {
			highest = line.LineNumber
		}
	}
	return highest, nil
}

func (t *memoryTx) SetStatus(_ context.Context, orgID, id uuid.UUID, from, to Status, at time.Time) error {
	h, ok := t.header(orgID, id)
	if !ok {
		return shared.ErrNotFound
	}
	if h.Status != from {
		return ErrStatusChanged
	}
	h.Status = to
	stamp := at
	switch to {
	case StatusPosted:
		h.PostedAt = &stamp
	case StatusCancelled:
		h.CancelledAt = &stamp
	}
	t.headers[id] = h
	return nil
}

func (t *memoryTx) SetTotal(_ context.Context, orgID, id uuid.UUID, total decimal.Decimal) error {
	h, ok := t.header(orgID, id)
	if !ok {
		return shared.ErrNotFound
	}
	h.TotalAmount = total
	t.headers[id] = h
	return nil
}

func (t *memoryTx) FindByIdempotencyKey(_ context.Context, orgID uuid.UUID, key string) (Header, bool, error) {
	k := idemKey{org: orgID, key: key}
	id, ok := t.idem[k]
	if !ok {
		id, ok = t.base.idem[k]
	}
	if !ok {
		return Header{}, false, nil
	}
	h, found := t.header(orgID, id)
	return h, found, nil
}
