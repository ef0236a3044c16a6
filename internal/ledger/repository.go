package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository is the ledger store. Every method is scoped by org.
type Repository interface {
	// WithTx runs fn in one atomic unit; nothing fn wrote survives an error.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, orgID, id uuid.UUID) (Transaction, error)
	List(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Transaction, error)
	Activity(ctx context.Context, orgID uuid.UUID, q ActivityQuery) ([]ActivityRow, error)
	// LatestPostedAt returns the newest posted_at of ledger transactions dated in [from, to].
	LatestPostedAt(ctx context.Context, orgID uuid.UUID, from, to time.Time) (time.Time, bool, error)
}

// TxRepository exposes the writes the posting engine performs inside one transaction.
type TxRepository interface {
	InsertHeader(ctx context.Context, h Header) error
	InsertLines(ctx context.Context, lines []Line) error
	// LockHeader loads the header and holds a row lock until the transaction ends.
	LockHeader(ctx context.Context, orgID, id uuid.UUID) (Header, error)
	Headers(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]Header, error)
	Lines(ctx context.Context, orgID, id uuid.UUID) ([]Line, error)
	MaxLineNumber(ctx context.Context, orgID, id uuid.UUID) (int, error)
	// SetStatus moves id from one status to another and fails with ErrStatusChanged when the current status differs.
	SetStatus(ctx context.Context, orgID, id uuid.UUID, from, to Status, at time.Time) error
	SetTotal(ctx context.Context, orgID, id uuid.UUID, total decimal.Decimal) error
	FindByIdempotencyKey(ctx context.Context, orgID uuid.UUID, key string) (Header, bool, error)
}
