// Package smartcode parses versioned semantic tags and dispatches them to classifications.
package smartcode

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed indicates a smart code does not follow DOMAIN.MODULE...vN.
var ErrMalformed = errors.New("smartcode: malformed smart code")

// Code is a parsed smart code such as HERA.SALON.SALE.TXN.v1.
type Code struct {
	segments []string
	version  int
}

// Parse validates and parses raw into a Code.
func Parse(raw string) (Code, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Code{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	parts := strings.Split(raw, ".")
	if len(parts) < 3 {
		return Code{}, fmt.Errorf("%w: %q needs a domain, a module and a version", ErrMalformed, raw)
	}
	last := parts[len(parts)-1]
	if len(last) < 2 || last[0] != 'v' {
		return Code{}, fmt.Errorf("%w: %q must end in a version token", ErrMalformed, raw)
	}
	version, err := strconv.Atoi(last[1:])
	if err != nil || version < 1 {
		return Code{}, fmt.Errorf("%w: %q has an invalid version", ErrMalformed, raw)
	}
	segments := parts[:len(parts)-1]
	for _, seg := range segments {
		if !validSegment(seg) {
			return Code{}, fmt.Errorf("%w: segment %q in %q", ErrMalformed, seg, raw)
		}
	}
	return Code{segments: append([]string(nil), segments...), version: version}, nil
}

// MustParse panics when raw is malformed. Intended for constants and tests.
func MustParse(raw string) Code {
	code, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return code
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

// IsZero reports whether the code was never assigned.
func (c Code) IsZero() bool {
	return len(c.segments) == 0
}

// Segments returns a copy of the namespace segments without the version.
func (c Code) Segments() []string {
	return append([]string(nil), c.segments...)
}

// Version returns N from the trailing vN token.
func (c Code) Version() int {
	return c.version
}

// Domain returns the leading namespace segment.
func (c Code) Domain() string {
	if c.IsZero() {
		return ""
	}
	return c.segments[0]
}

// Module returns the second namespace segment.
func (c Code) Module() string {
	if len(c.segments) < 2 {
		return ""
	}
	return c.segments[1]
}

// HasPrefix reports whether the namespace starts with the dotted prefix.
func (c Code) HasPrefix(prefix string) bool {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return true
	}
	want := strings.Split(prefix, ".")
	if len(want) > len(c.segments) {
		return false
	}
	for i, seg := range want {
		if c.segments[i] != seg {
			return false
		}
	}
	return true
}

// Contains reports whether seg appears anywhere in the namespace.
func (c Code) Contains(seg string) bool {
	for _, s := range c.segments {
		if s == seg {
			return true
		}
	}
	return false
}

// String renders the canonical dotted form.
func (c Code) String() string {
	if c.IsZero() {
		return ""
	}
	return strings.Join(c.segments, ".") + ".v" + strconv.Itoa(c.version)
}

// MarshalJSON encodes the code as a string.
func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON parses a string code; an empty string yields the zero code.
func (c *Code) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*c = Code{}
		return nil
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value implements driver.Valuer.
func (c Code) Value() (driver.Value, error) {
	return c.String(), nil
}

// Scan implements sql.Scanner.
func (c *Code) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*c = Code{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("smartcode: cannot scan %T", src)
	}
	if raw == "" {
		*c = Code{}
		return nil
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
