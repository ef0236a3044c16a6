package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// TransactionLockKey guards line-number assignment and balance checks for one transaction.
func TransactionLockKey(orgID, txID uuid.UUID) string {
	return fmt.Sprintf("ledger:%s:tx:%s:lock", orgID, txID)
}

// HierarchyLockKey serializes hierarchy edge writes of one relationship type.
func HierarchyLockKey(orgID uuid.UUID, relType string) string {
	return fmt.Sprintf("graph:%s:%s:lock", orgID, relType)
}

// PeriodLockKey guards fiscal period status transitions.
func PeriodLockKey(orgID uuid.UUID) string {
	return fmt.Sprintf("fiscal:%s:periods:lock", orgID)
}

// IdempotencyLockKey serializes postings that share an idempotency key.
func IdempotencyLockKey(orgID uuid.UUID, key string) string {
	return fmt.Sprintf("ledger:%s:idem:%s:lock", orgID, key)
}
