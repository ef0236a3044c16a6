// Package entities implements the generic entity registry and its typed dynamic attributes.
package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// Status captures the logical lifecycle of an entity.
type Status string

const (
	// StatusActive marks a usable entity.
	StatusActive Status = "active"
	// StatusInactive marks a suspended entity.
	StatusInactive Status = "inactive"
	// StatusArchived is the logical delete.
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusArchived:
		return true
	}
	return false
}

// Well-known entity types.
const (
	TypeAccount  = "ACCOUNT"
	TypeCustomer = "CUSTOMER"
	TypeProduct  = "PRODUCT"
	TypeService  = "SERVICE"
)

var (
	// ErrDuplicateCode indicates (org, type, code) is already taken.
	ErrDuplicateCode = errors.New("entities: code already exists for type")
	// ErrInvalidValue indicates a malformed typed value.
	ErrInvalidValue = errors.New("entities: invalid attribute value")
)

// Entity is a typed business object.
type Entity struct {
	ID        uuid.UUID      `json:"id"`
	OrgID     uuid.UUID      `json:"organization_id"`
	Type      string         `json:"entity_type"`
	Code      string         `json:"entity_code"`
	Name      string         `json:"entity_name"`
	Status    Status         `json:"status"`
	SmartCode smartcode.Code `json:"smart_code"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ValueType is the declared type of a dynamic field.
type ValueType string

const (
	// ValueText holds free text.
	ValueText ValueType = "text"
	// ValueNumber holds a decimal number.
	ValueNumber ValueType = "number"
	// ValueDate holds a calendar date.
	ValueDate ValueType = "date"
	// ValueJSON holds an arbitrary JSON document.
	ValueJSON ValueType = "json"
)

// Value is a tagged union over the supported attribute types.
type Value struct {
	Type   ValueType
	Text   string
	Number decimal.Decimal
	Date   time.Time
	JSON   json.RawMessage
}

// Text builds a text value.
func Text(s string) Value { return Value{Type: ValueText, Text: s} }

// Number builds a numeric value.
func Number(d decimal.Decimal) Value { return Value{Type: ValueNumber, Number: d} }

// Date builds a date value truncated to the day.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{Type: ValueDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// JSON builds a JSON value.
func JSON(raw json.RawMessage) Value { return Value{Type: ValueJSON, JSON: raw} }

// Validate checks the union is consistent.
func (v Value) Validate() error {
	switch v.Type {
	case ValueText, ValueNumber:
		return nil
	case ValueDate:
		if v.Date.IsZero() {
			return fmt.Errorf("%w: date required", ErrInvalidValue)
		}
		return nil
	case ValueJSON:
		if len(v.JSON) == 0 || !json.Valid(v.JSON) {
			return fmt.Errorf("%w: json payload invalid", ErrInvalidValue)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidValue, v.Type)
}

// AsBool interprets text "true"/"yes"/"1", JSON true, or non-zero numbers as true.
func (v Value) AsBool() bool {
	switch v.Type {
	case ValueText:
		switch strings.ToLower(strings.TrimSpace(v.Text)) {
		case "true", "yes", "1", "y":
			return true
		}
	case ValueNumber:
		return !v.Number.IsZero()
	case ValueJSON:
		var b bool
		return json.Unmarshal(v.JSON, &b) == nil && b
	}
	return false
}

// AsString renders the value as text.
func (v Value) AsString() string {
	switch v.Type {
	case ValueText:
		return v.Text
	case ValueNumber:
		return v.Number.String()
	case ValueDate:
		return v.Date.Format(time.DateOnly)
	case ValueJSON:
		return string(v.JSON)
	}
	return ""
}

type wireValue struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes {"type": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	var err error
	switch v.Type {
	case ValueText:
		raw, err = json.Marshal(v.Text)
	case ValueNumber:
		raw, err = json.Marshal(v.Number.String())
	case ValueDate:
		raw, err = json.Marshal(v.Date.Format(time.DateOnly))
	case ValueJSON:
		raw = v.JSON
	default:
		raw = json.RawMessage("null")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Type, Value: raw})
}

// UnmarshalJSON decodes {"type": ..., "value": ...}.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case ValueText:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("%w: text value must be a string", ErrInvalidValue)
		}
		*v = Text(s)
	case ValueNumber:
		var d decimal.Decimal
		if err := d.UnmarshalJSON(w.Value); err != nil {
			return fmt.Errorf("%w: number value: %v", ErrInvalidValue, err)
		}
		*v = Number(d)
	case ValueDate:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("%w: date value must be a string", ErrInvalidValue)
		}
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return fmt.Errorf("%w: date value: %v", ErrInvalidValue, err)
		}
		*v = Date(t)
	case ValueJSON:
		*v = JSON(append(json.RawMessage(nil), w.Value...))
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidValue, w.Type)
	}
	return nil
}

// DynamicField is a typed attribute attached to an entity.
type DynamicField struct {
	OrgID     uuid.UUID      `json:"organization_id"`
	EntityID  uuid.UUID      `json:"entity_id"`
	Name      string         `json:"field_name"`
	Value     Value          `json:"field_value"`
	SmartCode smartcode.Code `json:"smart_code"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CreateEntityInput describes a new entity.
type CreateEntityInput struct {
	OrgID     uuid.UUID `json:"organization_id"`
	Type      string    `json:"entity_type" validate:"required,max=64"`
	Name      string    `json:"entity_name" validate:"required,max=255"`
	Code      string    `json:"entity_code" validate:"omitempty,max=128"`
	SmartCode string    `json:"smart_code" validate:"required"`
}

// SetAttributeInput describes an attribute write.
type SetAttributeInput struct {
	OrgID     uuid.UUID `json:"organization_id"`
	EntityID  uuid.UUID `json:"entity_id"`
	Name      string    `json:"field_name" validate:"required,max=128"`
	Value     Value     `json:"field_value"`
	SmartCode string    `json:"smart_code" validate:"required"`
}

// ListFilter narrows ListEntities.
type ListFilter struct {
	Status          Status `json:"status,omitempty"`
	CodePrefix      string `json:"code_prefix,omitempty"`
	SmartCodePrefix string `json:"smart_code_prefix,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
}

// NormalizeType upper-cases and trims an entity type.
func NormalizeType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// NormalizeFieldName lower-cases and trims a field name.
func NormalizeFieldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
