// Package fiscal guards writes and reads against closed accounting periods.
package fiscal

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PeriodStatus enumerates fiscal period lifecycle stages.
type PeriodStatus string

const (
	PeriodStatusOpen    PeriodStatus = shared.PeriodStatusOpen
	PeriodStatusClosing PeriodStatus = shared.PeriodStatusClosing
	PeriodStatusClosed  PeriodStatus = shared.PeriodStatusClosed
)

// Period is a dated accounting window of one organization.
type Period struct {
	ID        uuid.UUID    `json:"id"`
	OrgID     uuid.UUID    `json:"organization_id"`
	Name      string       `json:"name"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	Status    PeriodStatus `json:"status"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Contains reports whether date falls inside the period, inclusive on both ends.
func (p Period) Contains(date time.Time) bool {
	d := shared.DateOnly(date)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// CreatePeriodInput captures validation rules for new periods.
type CreatePeriodInput struct {
	OrgID     uuid.UUID `json:"organization_id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Validate ensures the create period input is coherent.
func (in CreatePeriodInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("fiscal: name required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return errors.New("fiscal: start and end date required")
	}
	if in.StartDate.After(in.EndDate) {
		return errors.New("fiscal: start date cannot be after end date")
	}
	return nil
}

// Result is the guardrail verdict for a date or range.
type Result struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations"`
	Warnings   []string `json:"warnings"`
	Periods    []Period `json:"periods,omitempty"`
}

func (r *Result) has(id uuid.UUID) bool {
	for _, p := range r.Periods {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (r *Result) merge(other Result) {
	r.Violations = append(r.Violations, other.Violations...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	for _, p := range other.Periods {
		dup := false
		for _, existing := range r.Periods {
			if existing.ID == p.ID {
				dup = true
				break
			}
		}
		if !dup {
			r.Periods = append(r.Periods, p)
		}
	}
	r.Passed = len(r.Violations) == 0
}

// ErrPeriodOverlap indicates the requested period conflicts with an existing range.
var ErrPeriodOverlap = errors.New("fiscal: period overlaps existing range")
