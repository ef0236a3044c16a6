// Package orgs manages the tenant registry.
package orgs

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant boundary.
type Organization struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	BaseCurrency string    `json:"base_currency"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateInput captures onboarding data.
type CreateInput struct {
	Name         string `json:"name" validate:"required,max=255"`
	BaseCurrency string `json:"base_currency" validate:"required,len=3"`
}
