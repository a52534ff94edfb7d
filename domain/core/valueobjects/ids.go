package valueobjects

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EntityID identifies a stored entity ("Q42"). The zero value means the
// entity has not been created yet.
type EntityID struct {
	value string
	num   int64
}

// NewEntityID parses an entity identifier
func NewEntityID(id string) (EntityID, error) {
	n, err := parsePrefixedID('Q', id)
	if err != nil {
		return EntityID{}, fmt.Errorf("invalid entity ID %q: %w", id, err)
	}
	return EntityID{value: id, num: n}, nil
}

// EntityIDFromNumber builds the identifier for the n-th entity
func EntityIDFromNumber(n int64) EntityID {
	return EntityID{value: "Q" + strconv.FormatInt(n, 10), num: n}
}

func (id EntityID) String() string { return id.value }

// Number returns the numeric part of the identifier
func (id EntityID) Number() int64 { return id.num }

func (id EntityID) IsZero() bool { return id.value == "" }

func (id EntityID) Equals(other EntityID) bool { return id.value == other.value }

// Compare orders identifiers by their numeric part
func (id EntityID) Compare(other EntityID) int {
	switch {
	case id.num < other.num:
		return -1
	case id.num > other.num:
		return 1
	default:
		return strings.Compare(id.value, other.value)
	}
}

// MarshalJSON implements json.Marshaler
func (id EntityID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(id.value)), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *EntityID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = EntityID{}
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("EntityID must be a string")
	}
	if s == "" {
		*id = EntityID{}
		return nil
	}
	parsed, err := NewEntityID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PropertyID identifies a statement property ("P31")
type PropertyID struct {
	value string
}

// NewPropertyID parses a property identifier
func NewPropertyID(id string) (PropertyID, error) {
	if _, err := parsePrefixedID('P', id); err != nil {
		return PropertyID{}, fmt.Errorf("invalid property ID %q: %w", id, err)
	}
	return PropertyID{value: id}, nil
}

// MustPropertyID is NewPropertyID for constants and tests
func MustPropertyID(id string) PropertyID {
	p, err := NewPropertyID(id)
	if err != nil {
		panic(err)
	}
	return p
}

func (p PropertyID) String() string { return p.value }

func (p PropertyID) IsZero() bool { return p.value == "" }

// MarshalJSON implements json.Marshaler
func (p PropertyID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.value)), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (p *PropertyID) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("PropertyID must be a string")
	}
	parsed, err := NewPropertyID(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// RevisionID is the store-assigned revision of an entity. Zero means the
// entity has never been saved.
type RevisionID int64

func (r RevisionID) IsZero() bool { return r == 0 }

func (r RevisionID) Int64() int64 { return int64(r) }

func parsePrefixedID(prefix byte, id string) (int64, error) {
	if len(id) < 2 || id[0] != prefix {
		return 0, fmt.Errorf("must start with %q followed by a number", prefix)
	}
	digits := id[1:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, errors.New("number must contain only digits")
		}
	}
	if digits[0] == '0' {
		return 0, errors.New("number must not have leading zeros")
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("number must be a positive integer")
	}
	return n, nil
}
