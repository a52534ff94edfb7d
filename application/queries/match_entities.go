package queries

import (
	"errors"

	"reconcileedit/domain/core/valueobjects"
)

// MatchEntitiesQuery asks which entities hold a statement. It runs the same
// matching as a reconciliation edit without writing anything.
type MatchEntitiesQuery struct {
	Property  string
	ValueType string
	Value     string
}

// Validate validates the MatchEntitiesQuery
func (q MatchEntitiesQuery) Validate() error {
	if q.Property == "" || q.Value == "" {
		return errors.New("property and value are required")
	}
	if _, err := valueobjects.NewPropertyID(q.Property); err != nil {
		return err
	}
	_, err := valueobjects.NewValue(q.valueType(), q.Value)
	return err
}

func (q MatchEntitiesQuery) valueType() valueobjects.ValueType {
	if q.ValueType == "" {
		return valueobjects.ValueTypeURL
	}
	return valueobjects.ValueType(q.ValueType)
}

// Parsed returns the typed property and value. Call Validate first.
func (q MatchEntitiesQuery) Parsed() (valueobjects.PropertyID, valueobjects.Value, error) {
	property, err := valueobjects.NewPropertyID(q.Property)
	if err != nil {
		return valueobjects.PropertyID{}, valueobjects.Value{}, err
	}
	value, err := valueobjects.NewValue(q.valueType(), q.Value)
	return property, value, err
}

// MatchEntitiesResult lists the matches in ascending entity ID order
type MatchEntitiesResult struct {
	Matches []EntityResult `json:"matches"`
	// Unique is true when exactly one entity matched, i.e. a reconciliation
	// edit would update it
	Unique bool `json:"unique"`
}
