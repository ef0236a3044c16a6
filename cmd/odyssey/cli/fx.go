package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
)

// FXOpsCLI offers operational helpers to manage the organization rate tables used by reporting.
type FXOpsCLI struct {
	rates fx.RateStore
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(rates fx.RateStore) (*FXOpsCLI, error) {
	if rates == nil {
		return nil, errors.New("fx cli: rate store required")
	}
	return &FXOpsCLI{rates: rates}, nil
}

func parseOrg(raw string) (uuid.UUID, error) {
	org, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || org == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid --org %q", raw)
	}
	return org, nil
}

// monthEnd returns the last day of the month of t, the as-of date rates are checked at.
func monthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

func normalizePair(raw string) (string, error) {
	pair := strings.ToUpper(strings.TrimSpace(raw))
	if len(pair) != 6 {
		return "", fmt.Errorf("invalid pair %q (expected e.g. EURUSD)", raw)
	}
	return pair, nil
}
