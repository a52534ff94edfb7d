package queries

import (
	"errors"

	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
)

// GetEntityQuery represents a query to get a single entity
type GetEntityQuery struct {
	EntityID string
}

// Validate validates the GetEntityQuery
func (q GetEntityQuery) Validate() error {
	if q.EntityID == "" {
		return errors.New("entity ID is required")
	}
	_, err := valueobjects.NewEntityID(q.EntityID)
	return err
}

// EntityResult is an entity together with its current revision
type EntityResult struct {
	Entity     entities.EntityDocument `json:"entity"`
	RevisionID int64                   `json:"revisionId"`
}

// NewEntityResult converts a stored entity into its read model
func NewEntityResult(r *entities.RevisionedEntity) EntityResult {
	return EntityResult{
		Entity:     r.Entity.ToDocument(),
		RevisionID: r.Revision.Int64(),
	}
}
