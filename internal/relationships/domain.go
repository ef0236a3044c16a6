// Package relationships implements the typed, directed graph between entities.
package relationships

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// MaxAncestorDepth bounds the hierarchy walk used for cycle detection.
const MaxAncestorDepth = 64

// Well-known relationship types. Hierarchy types are edges from parent to child.
const (
	TypeParentOf      = "PARENT_OF"
	TypeAccountParent = "ACCOUNT_PARENT"
	TypeOwns          = "OWNS"
	TypeReportsTo     = "REPORTS_TO"
	TypePeer          = "PEER_OF"
	TypeAssignedTo    = "ASSIGNED_TO"
)

// DefaultHierarchyTypes are validated acyclic at write time.
var DefaultHierarchyTypes = []string{TypeParentOf, TypeAccountParent, TypeOwns, TypeReportsTo}

// Status marks whether an edge is live.
type Status string

const (
	// StatusActive is a live edge.
	StatusActive Status = "active"
	// StatusInactive is a logically removed edge.
	StatusInactive Status = "inactive"
)

// Direction selects which edges Neighbors follows.
type Direction string

const (
	// Outgoing follows edges where the entity is the source.
	Outgoing Direction = "outgoing"
	// Incoming follows edges where the entity is the target.
	Incoming Direction = "incoming"
	// Both follows edges in either direction.
	Both Direction = "both"
)

// Relationship is a typed directed edge.
type Relationship struct {
	ID        uuid.UUID       `json:"id"`
	OrgID     uuid.UUID       `json:"organization_id"`
	FromID    uuid.UUID       `json:"from_entity_id"`
	ToID      uuid.UUID       `json:"to_entity_id"`
	Type      string          `json:"relationship_type"`
	Strength  float64         `json:"strength"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	SmartCode smartcode.Code  `json:"smart_code"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LinkInput describes a link request.
type LinkInput struct {
	OrgID     uuid.UUID       `json:"organization_id"`
	FromID    uuid.UUID       `json:"from_entity_id"`
	ToID      uuid.UUID       `json:"to_entity_id"`
	Type      string          `json:"relationship_type" validate:"required,max=64"`
	Strength  *float64        `json:"strength,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	SmartCode string          `json:"smart_code" validate:"required"`
}

// NormalizeType upper-cases and trims a relationship type.
func NormalizeType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
