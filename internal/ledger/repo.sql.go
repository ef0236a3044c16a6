package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

var (
	minDate = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	maxDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// PGRepository implements Repository on Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the Postgres ledger store.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const headerColumns = `id, org_id, tx_type, tx_number, tx_date, currency, total_amount, source_entity_id, target_entity_id,
reference_ids, is_ledger, status, smart_code, description, idempotency_key, created_at, posted_at, cancelled_at`

const lineColumns = `transaction_id, org_id, line_number, line_type, entity_id, account_id, side, quantity, unit_amount,
line_amount, tax_rate, upstream_ids, smart_code, description`

func scanHeader(row pgx.Row) (Header, error) {
	var h Header
	var txType, status string
	var idem *string
	err := row.Scan(&h.ID, &h.OrgID, &txType, &h.Number, &h.Date, &h.Currency, &h.TotalAmount, &h.SourceEntityID,
		&h.TargetEntityID, &h.References, &h.IsLedger, &status, &h.SmartCode, &h.Description, &idem, &h.CreatedAt,
		&h.PostedAt, &h.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Header{}, shared.ErrNotFound
		}
		return Header{}, err
	}
	h.Type = Type(txType)
	h.Status = Status(status)
	if idem != nil {
		h.IdempotencyKey = *idem
	}
	return h, nil
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	out := make([]Line, 0)
	for rows.Next() {
		var l Line
		var lineType string
		var side *string
		if err := rows.Scan(&l.TransactionID, &l.OrgID, &l.LineNumber, &lineType, &l.EntityID, &l.AccountID, &side,
			&l.Quantity, &l.UnitAmount, &l.Amount, &l.TaxRate, &l.UpstreamIDs, &l.SmartCode, &l.Description); err != nil {
			return nil, err
		}
		l.Type = smartcode.Role(lineType)
		if side != nil {
			l.Side = smartcode.Side(*side)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads a transaction with its lines.
func (r *PGRepository) Get(ctx context.Context, orgID, id uuid.UUID) (Transaction, error) {
	h, err := scanHeader(r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM transactions WHERE org_id = $1 AND id = $2`, orgID, id))
	if err != nil {
		return Transaction{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM transaction_lines WHERE org_id = $1 AND transaction_id = $2 ORDER BY line_number`, orgID, id)
	if err != nil {
		return Transaction{}, err
	}
	lines, err := scanLines(rows)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{Header: h, Lines: lines}, nil
}

// List filters headers and optionally attaches lines.
func (r *PGRepository) List(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Transaction, error) {
	var sb strings.Builder
	args := []any{orgID}
	sb.WriteString(`SELECT ` + headerColumns + ` FROM transactions WHERE org_id = $1`)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		fmt.Fprintf(&sb, " AND tx_type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		fmt.Fprintf(&sb, " AND tx_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		fmt.Fprintf(&sb, " AND tx_date <= $%d", len(args))
	}
	if filter.ReferenceID != nil {
		args = append(args, []uuid.UUID{*filter.ReferenceID})
		fmt.Fprintf(&sb, " AND reference_ids @> $%d", len(args))
	}
	if filter.LedgerOnly {
		sb.WriteString(" AND is_ledger")
	}
	page := shared.NewPage(filter.Limit, filter.Offset)
	args = append(args, page.Limit, page.Offset)
	fmt.Fprintf(&sb, " ORDER BY tx_date, created_at, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0)
	index := make(map[uuid.UUID]int)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[h.ID] = len(out)
		ids = append(ids, h.ID)
		out = append(out, Transaction{Header: h})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !filter.WithLines || len(ids) == 0 {
		return out, nil
	}
	lineRows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM transaction_lines WHERE org_id = $1 AND transaction_id = ANY($2) ORDER BY transaction_id, line_number`, orgID, ids)
	if err != nil {
		return nil, err
	}
	lines, err := scanLines(lineRows)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		i := index[line.TransactionID]
		out[i].Lines = append(out[i].Lines, line)
	}
	return out, nil
}

// Activity aggregates posted ledger lines per account and currency.
// Cancelled postings are included; their reversal nets them out.
func (r *PGRepository) Activity(ctx context.Context, orgID uuid.UUID, q ActivityQuery) ([]ActivityRow, error) {
	from, to := q.From, q.To
	if from.IsZero() {
		from = minDate
	}
	if to.IsZero() {
		to = maxDate
	}
	rows, err := r.pool.Query(ctx, `
SELECT l.account_id, t.currency,
       COALESCE(SUM(l.line_amount) FILTER (WHERE l.side = 'DEBIT' AND t.tx_date < $2), 0),
       COALESCE(SUM(l.line_amount) FILTER (WHERE l.side = 'CREDIT' AND t.tx_date < $2), 0),
       COALESCE(SUM(l.line_amount) FILTER (WHERE l.side = 'DEBIT' AND t.tx_date >= $2), 0),
       COALESCE(SUM(l.line_amount) FILTER (WHERE l.side = 'CREDIT' AND t.tx_date >= $2), 0),
       COALESCE(array_agg(DISTINCT t.id) FILTER (WHERE t.tx_date >= $2), '{}'::uuid[])
FROM transaction_lines l
JOIN transactions t ON t.id = l.transaction_id AND t.org_id = l.org_id
WHERE l.org_id = $1
  AND t.is_ledger
  AND t.posted_at IS NOT NULL
  AND l.account_id IS NOT NULL
  AND l.side IS NOT NULL
  AND t.tx_date <= $3
  AND (t.tx_type = 'BUDGET') = $4
GROUP BY l.account_id, t.currency
ORDER BY l.account_id, t.currency`, orgID, from, to, q.Basis == BasisBudget)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ActivityRow, 0)
	for rows.Next() {
		var row ActivityRow
		if err := rows.Scan(&row.AccountID, &row.Currency, &row.OpeningDebit, &row.OpeningCredit, &row.Debit, &row.Credit, &row.TransactionIDs); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LatestPostedAt returns the newest posting time of ledger transactions dated in range.
func (r *PGRepository) LatestPostedAt(ctx context.Context, orgID uuid.UUID, from, to time.Time) (time.Time, bool, error) {
	if from.IsZero() {
		from = minDate
	}
	if to.IsZero() {
		to = maxDate
	}
	var latest *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MAX(posted_at) FROM transactions WHERE org_id = $1 AND is_ledger AND posted_at IS NOT NULL AND tx_date BETWEEN $2 AND $3`,
		orgID, from, to).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return *latest, true, nil
}

type txRepository struct {
	tx pgx.Tx
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *txRepository) InsertHeader(ctx context.Context, h Header) error {
	refs := h.References
	if refs == nil {
		refs = []uuid.UUID{}
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO transactions (`+headerColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		h.ID, h.OrgID, string(h.Type), h.Number, h.Date, h.Currency, h.TotalAmount, h.SourceEntityID, h.TargetEntityID,
		refs, h.IsLedger, string(h.Status), h.SmartCode, h.Description, nullString(h.IdempotencyKey), h.CreatedAt,
		h.PostedAt, h.CancelledAt)
	if shared.IsUniqueViolation(err) {
		if h.IdempotencyKey != "" {
			return ErrDuplicateIdempotencyKey
		}
		return shared.ErrConflict
	}
	return err
}

func (r *txRepository) InsertLines(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		upstream := l.UpstreamIDs
		if upstream == nil {
			upstream = []uuid.UUID{}
		}
		batch.Queue(`INSERT INTO transaction_lines (`+lineColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			l.TransactionID, l.OrgID, l.LineNumber, string(l.Type), l.EntityID, l.AccountID, nullString(string(l.Side)),
			l.Quantity, l.UnitAmount, l.Amount, l.TaxRate, upstream, l.SmartCode, l.Description)
	}
	results := r.tx.SendBatch(ctx, batch)
	for range lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			if shared.IsUniqueViolation(err) {
				return shared.ErrConflict
			}
			return err
		}
	}
	return results.Close()
}

func (r *txRepository) LockHeader(ctx context.Context, orgID, id uuid.UUID) (Header, error) {
	return scanHeader(r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM transactions WHERE org_id = $1 AND id = $2 FOR UPDATE`, orgID, id))
}

func (r *txRepository) Headers(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]Header, error) {
	out := make(map[uuid.UUID]Header, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT `+headerColumns+` FROM transactions WHERE org_id = $1 AND id = ANY($2)`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out[h.ID] = h
	}
	return out, rows.Err()
}

func (r *txRepository) Lines(ctx context.Context, orgID, id uuid.UUID) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+` FROM transaction_lines WHERE org_id = $1 AND transaction_id = $2 ORDER BY line_number`, orgID, id)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

func (r *txRepository) MaxLineNumber(ctx context.Context, orgID, id uuid.UUID) (int, error) {
	var highest int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(line_number), 0) FROM transaction_lines WHERE org_id = $1 AND transaction_id = $2`, orgID, id).Scan(&highest)
	return highest, err
}

func (r *txRepository) SetStatus(ctx context.Context, orgID, id uuid.UUID, from, to Status, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE transactions
SET status = $4,
    posted_at = CASE WHEN $4 = 'posted' THEN $5 ELSE posted_at END,
    cancelled_at = CASE WHEN $4 = 'cancelled' THEN $5 ELSE cancelled_at END
WHERE org_id = $1 AND id = $2 AND status = $3`, orgID, id, string(from), string(to), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *txRepository) SetTotal(ctx context.Context, orgID, id uuid.UUID, total decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE transactions SET total_amount = $3 WHERE org_id = $1 AND id = $2`, orgID, id, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) FindByIdempotencyKey(ctx context.Context, orgID uuid.UUID, key string) (Header, bool, error) {
	h, err := scanHeader(r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM transactions WHERE org_id = $1 AND idempotency_key = $2`, orgID, key))
	if errors.Is(err, shared.ErrNotFound) {
		return Header{}, false, nil
	}
	if err != nil {
		return Header{}, false, err
	}
	return h, true, nil
}
