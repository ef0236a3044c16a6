package shared

import (
	"errors"
	"time"
)

// Fiscal period statuses reused outside the fiscal module.
const (
	PeriodStatusOpen    = "OPEN"
	PeriodStatusClosing = "CLOSING"
	PeriodStatusClosed  = "CLOSED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks OPEN -> CLOSING -> CLOSED, with CLOSING -> OPEN as the only way back.
// CLOSED is terminal.
func ValidatePeriodTransition(current, target string) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosing {
			return nil
		}
	case PeriodStatusClosing:
		if target == PeriodStatusClosed || target == PeriodStatusOpen {
			return nil
		}
	}
	return ErrInvalidPeriodTransition
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
