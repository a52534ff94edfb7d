package valueobjects

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ValueType is the datatype of a statement value
type ValueType string

const (
	ValueTypeString          ValueType = "string"
	ValueTypeURL             ValueType = "url"
	ValueTypeExternalID      ValueType = "external-id"
	ValueTypeItem            ValueType = "wikibase-item"
	ValueTypeMonolingualText ValueType = "monolingualtext"
)

// IsValid reports whether the type is one the store understands
func (t ValueType) IsValid() bool {
	switch t {
	case ValueTypeString, ValueTypeURL, ValueTypeExternalID, ValueTypeItem, ValueTypeMonolingualText:
		return true
	}
	return false
}

// Value is an immutable typed statement value. Two values are equal when
// their types match and their normalized contents match.
type Value struct {
	typ        ValueType
	content    string
	normalized string
}

// NewValue validates and normalizes a statement value
func NewValue(typ ValueType, content string) (Value, error) {
	if !typ.IsValid() {
		return Value{}, fmt.Errorf("unknown value type %q", typ)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Value{}, fmt.Errorf("%s value cannot be empty", typ)
	}

	normalized := content
	switch typ {
	case ValueTypeURL:
		n, err := normalizeURL(content)
		if err != nil {
			return Value{}, err
		}
		normalized = n
	case ValueTypeItem:
		id, err := NewEntityID(content)
		if err != nil {
			return Value{}, err
		}
		normalized = id.String()
	case ValueTypeMonolingualText:
		lang, text, ok := strings.Cut(content, ":")
		if !ok || lang == "" || text == "" {
			return Value{}, fmt.Errorf("monolingual text %q must be of the form lang:text", content)
		}
		normalized = strings.ToLower(lang) + ":" + text
	}

	return Value{typ: typ, content: content, normalized: normalized}, nil
}

// MustValue is NewValue for constants and tests
func MustValue(typ ValueType, content string) Value {
	v, err := NewValue(typ, content)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Value) Type() ValueType { return v.typ }

// Content returns the value as submitted
func (v Value) Content() string { return v.content }

func (v Value) IsZero() bool { return v.typ == "" }

// Equals compares type and normalized content
func (v Value) Equals(other Value) bool {
	return v.typ == other.typ && v.normalized == other.normalized
}

// Key is a stable string form suitable for index lookups
func (v Value) Key() string {
	return string(v.typ) + ":" + v.normalized
}

type valueJSON struct {
	Type  ValueType `json:"type"`
	Value string    `json:"value"`
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(valueJSON{Type: v.typ, Value: v.content})
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewValue(raw.Type, raw.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// normalizeURL lower-cases scheme and host and drops a trailing slash so
// that trivially different spellings of one URL reconcile together.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q must be absolute", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	return u.String(), nil
}
