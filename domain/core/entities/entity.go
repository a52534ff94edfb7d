package entities

import (
	"sort"

	"reconcileedit/domain/core/valueobjects"
)

// Statement asserts a value for a property. An entity may hold several
// statements for the same property.
type Statement struct {
	Property valueobjects.PropertyID `json:"property"`
	Value    valueobjects.Value      `json:"value"`
}

// Equals compares property and value
func (s Statement) Equals(other Statement) bool {
	return s.Property == other.Property && s.Value.Equals(other.Value)
}

// Entity is a mutable aggregate of terms and statements. Entities referenced
// by item-valued statements are separate top-level entities.
type Entity struct {
	id           valueobjects.EntityID
	labels       map[string]string
	descriptions map[string]string
	aliases      map[string][]string
	statements   []Statement
}

// NewEntity creates an empty entity that has not been stored yet
func NewEntity() *Entity {
	return &Entity{
		labels:       make(map[string]string),
		descriptions: make(map[string]string),
		aliases:      make(map[string][]string),
	}
}

func (e *Entity) ID() valueobjects.EntityID { return e.id }

// IsNew reports whether the entity has no store identifier yet
func (e *Entity) IsNew() bool { return e.id.IsZero() }

// WithID returns a copy of the entity carrying the given identifier
func (e *Entity) WithID(id valueobjects.EntityID) *Entity {
	c := e.Clone()
	c.id = id
	return c
}

// AddStatement appends a statement unless an equal one is already present.
// It reports whether the statement was added.
func (e *Entity) AddStatement(property valueobjects.PropertyID, value valueobjects.Value) bool {
	s := Statement{Property: property, Value: value}
	if e.HasStatement(s) {
		return false
	}
	e.statements = append(e.statements, s)
	return true
}

// HasStatement reports whether an equal statement is present
func (e *Entity) HasStatement(s Statement) bool {
	for _, existing := range e.statements {
		if existing.Equals(s) {
			return true
		}
	}
	return false
}

// Statements returns a copy of the statements in insertion order
func (e *Entity) Statements() []Statement {
	out := make([]Statement, len(e.statements))
	copy(out, e.statements)
	return out
}

// ValuesFor returns the distinct values held for a property
func (e *Entity) ValuesFor(property valueobjects.PropertyID) []valueobjects.Value {
	var values []valueobjects.Value
	for _, s := range e.statements {
		if s.Property == property {
			values = append(values, s.Value)
		}
	}
	return values
}

func (e *Entity) SetLabel(lang, text string) { e.labels[lang] = text }

func (e *Entity) Label(lang string) (string, bool) {
	l, ok := e.labels[lang]
	return l, ok
}

func (e *Entity) SetDescription(lang, text string) { e.descriptions[lang] = text }

func (e *Entity) Description(lang string) (string, bool) {
	d, ok := e.descriptions[lang]
	return d, ok
}

// AddAlias adds an alias unless it is already present or equals the label
func (e *Entity) AddAlias(lang, text string) {
	if e.labels[lang] == text {
		return
	}
	for _, a := range e.aliases[lang] {
		if a == text {
			return
		}
	}
	e.aliases[lang] = append(e.aliases[lang], text)
}

// Labels returns a copy of the labels
func (e *Entity) Labels() map[string]string { return copyTerms(e.labels) }

// Descriptions returns a copy of the descriptions
func (e *Entity) Descriptions() map[string]string { return copyTerms(e.descriptions) }

// Aliases returns a copy of the aliases
func (e *Entity) Aliases() map[string][]string {
	out := make(map[string][]string, len(e.aliases))
	for lang, list := range e.aliases {
		out[lang] = append([]string(nil), list...)
	}
	return out
}

// Clone returns a deep copy sharing no mutable state with the receiver
func (e *Entity) Clone() *Entity {
	return &Entity{
		id:           e.id,
		labels:       e.Labels(),
		descriptions: e.Descriptions(),
		aliases:      e.Aliases(),
		statements:   e.Statements(),
	}
}

// MergeFrom folds input into the receiver without dropping anything the
// receiver already holds. Statements are unioned. An existing label wins and
// a differing input label is kept as an alias. Existing descriptions win.
// Aliases are unioned. The receiver keeps its identifier.
func (e *Entity) MergeFrom(input *Entity) {
	for _, s := range input.statements {
		e.AddStatement(s.Property, s.Value)
	}

	for _, lang := range sortedKeys(input.labels) {
		text := input.labels[lang]
		if existing, ok := e.labels[lang]; !ok {
			e.labels[lang] = text
		} else if existing != text {
			e.AddAlias(lang, text)
		}
	}

	for lang, text := range input.descriptions {
		if _, ok := e.descriptions[lang]; !ok {
			e.descriptions[lang] = text
		}
	}

	for _, lang := range sortedKeys(input.aliases) {
		for _, a := range input.aliases[lang] {
			e.AddAlias(lang, a)
		}
	}
}

// IsEmpty reports whether the entity has no terms and no statements
func (e *Entity) IsEmpty() bool {
	return len(e.labels) == 0 && len(e.descriptions) == 0 && len(e.aliases) == 0 && len(e.statements) == 0
}

func copyTerms(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
