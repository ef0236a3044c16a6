package posting

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// Reverse posts the mirror image of a posted transaction and marks the original
// cancelled. The reversal references the original, so the pair nets to zero in
// every report that reads posted activity.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (ledger.Transaction, error) {
	const op = "posting.reverse"
	out, err := s.reverse(ctx, op, input)
	s.metrics.observe(string(ledger.TypeReversal), err)
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.afterCommit(ctx, input.OrgID, "transaction.reverse", out.ID, map[string]any{
		"original": input.TransactionID.String(),
		"reason":   input.Reason,
	})
	return out, nil
}

func (s *Service) reverse(ctx context.Context, op string, input ReverseInput) (ledger.Transaction, error) {
	if err := shared.EnsureTenant(ctx, op, input.OrgID); err != nil {
		return ledger.Transaction{}, err
	}
	if input.TransactionID == uuid.Nil {
		return ledger.Transaction{}, shared.Validation(op, "transaction id is required")
	}
	original, err := s.repo.Get(ctx, input.OrgID, input.TransactionID)
	if err != nil {
		return ledger.Transaction{}, mapWriteError(op, err)
	}
	date := original.Date
	if !input.Date.IsZero() {
		date = shared.DateOnly(input.Date)
	}
	if err := s.guard.EnsureWritable(ctx, input.OrgID, date); err != nil {
		return ledger.Transaction{}, err
	}
	code, err := reversalCode(original.SmartCode)
	if err != nil {
		return ledger.Transaction{}, shared.Wrap(shared.KindInternal, op, err)
	}

	var out ledger.Transaction
	err = lock.With(ctx, s.locker, shared.TransactionLockKey(input.OrgID, input.TransactionID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			header, err := tx.LockHeader(ctx, input.OrgID, input.TransactionID)
			if err != nil {
				return err
			}
			switch header.Status {
			case ledger.StatusPosted:
			case ledger.StatusCancelled:
				return shared.Validation(op, fmt.Sprintf("transaction %s is already reversed or cancelled", header.ID))
			default:
				return shared.Validation(op, fmt.Sprintf("transaction %s is %s; drafts are cancelled, not reversed", header.ID, header.Status))
			}
			if err := s.guard.EnsureWritable(ctx, input.OrgID, date); err != nil {
				return err
			}
			lines, err := tx.Lines(ctx, input.OrgID, input.TransactionID)
			if err != nil {
				return err
			}
			now := s.now()
			reversal := ledger.Header{
				ID:             uuid.New(),
				OrgID:          header.OrgID,
				Type:           ledger.TypeReversal,
				Number:         reversalNumber(header.Number),
				Date:           date,
				Currency:       header.Currency,
				TotalAmount:    header.TotalAmount,
				SourceEntityID: header.TargetEntityID,
				TargetEntityID: header.SourceEntityID,
				References:     []uuid.UUID{header.ID},
				IsLedger:       header.IsLedger,
				Status:         ledger.StatusPosted,
				SmartCode:      code,
				Description:    strings.TrimSpace("Reversal of " + header.ID.String() + " " + input.Reason),
				CreatedAt:      now,
				PostedAt:       &now,
			}
			mirrored := make([]ledger.Line, 0, len(lines))
			for _, line := range lines {
				mirror := line
				mirror.TransactionID = reversal.ID
				mirror.UpstreamIDs = []uuid.UUID{header.ID}
				if line.Side.Valid() {
					mirror.Side = line.Side.Opposite()
				} else {
					mirror.Amount = line.Amount.Neg()
				}
				mirrored = append(mirrored, mirror)
			}
			if err := tx.InsertHeader(ctx, reversal); err != nil {
				return err
			}
			if err := tx.InsertLines(ctx, mirrored); err != nil {
				return err
			}
			if err := tx.SetStatus(ctx, input.OrgID, header.ID, ledger.StatusPosted, ledger.StatusCancelled, now); err != nil {
				return err
			}
			out = ledger.Transaction{Header: reversal, Lines: mirrored}
			return nil
		})
	})
	if err != nil {
		return ledger.Transaction{}, mapWriteError(op, err)
	}
	return out, nil
}

func reversalCode(original smartcode.Code) (smartcode.Code, error) {
	return smartcode.Parse(fmt.Sprintf("%s.%s.REVERSAL.v1", original.Domain(), original.Module()))
}

func reversalNumber(number string) string {
	if number == "" {
		return ""
	}
	return "REV-" + number
}
