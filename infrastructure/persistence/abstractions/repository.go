package abstractions

import (
	"time"

	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/validators"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/pkg/errors"
)

// StatementKey is the index key under which an entity holding (property,
// value) is registered. Every store adapter uses the same key so indexes can
// be compared across backends.
func StatementKey(property valueobjects.PropertyID, value valueobjects.Value) string {
	return property.String() + "|" + value.Key()
}

// StatementKeys returns the distinct index keys of an entity's statements
func StatementKeys(entity *entities.Entity) []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	for _, s := range entity.Statements() {
		k := StatementKey(s.Property, s.Value)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// RevisionRecord describes one stored revision
type RevisionRecord struct {
	EntityID  valueobjects.EntityID
	Revision  valueobjects.RevisionID
	UserID    string
	Summary   string
	CreatedAt time.Time
}

// WriteGuard holds the checks every store runs before a write
type WriteGuard struct {
	validator *validators.EntityValidator
}

// NewWriteGuard creates a guard using the given validator
func NewWriteGuard(validator *validators.EntityValidator) *WriteGuard {
	return &WriteGuard{validator: validator}
}

// CheckCreate rejects writes by sessions without a token and entities that
// fail validation
func (g *WriteGuard) CheckCreate(entity *entities.Entity, session ports.EditSession) error {
	if err := checkSession(session); err != nil {
		return err
	}
	return g.validator.Validate(entity)
}

// CheckUpdate additionally requires the entity to carry an identifier and a
// base revision
func (g *WriteGuard) CheckUpdate(entity *entities.Entity, baseRevision valueobjects.RevisionID, session ports.EditSession) error {
	if err := checkSession(session); err != nil {
		return err
	}
	if entity == nil || entity.IsNew() {
		return errors.NewValidationRejectedError("an update needs an entity ID")
	}
	if baseRevision.IsZero() {
		return errors.NewValidationRejectedError("an update needs a base revision")
	}
	return g.validator.Validate(entity)
}

func checkSession(session ports.EditSession) error {
	if !session.Authorized || session.Token == "" {
		return errors.NewPermissionDeniedError("edit token missing or not accepted")
	}
	return nil
}
