// Package reportcache memoizes computed reports per organization with TTL,
// versioned invalidation and coalescing of identical in-flight requests.
package reportcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key identifies one report computation.
type Key struct {
	OrgID    uuid.UUID
	Report   string
	Start    time.Time
	End      time.Time
	Currency string
	// Filters holds every remaining parameter that changes the result.
	Filters any
}

type canonicalKey struct {
	Org      string `json:"org"`
	Report   string `json:"report"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Currency string `json:"currency"`
	Filters  any    `json:"filters,omitempty"`
}

// Digest hashes the canonical JSON form of k.
func (k Key) Digest() (string, error) {
	raw, err := json.Marshal(canonicalKey{
		Org:      k.OrgID.String(),
		Report:   k.Report,
		Start:    formatDate(k.Start),
		End:      formatDate(k.End),
		Currency: k.Currency,
		Filters:  k.Filters,
	})
	if err != nil {
		return "", fmt.Errorf("reportcache: encode key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
