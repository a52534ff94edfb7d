package ports

import (
	"context"

	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/domain/events"
)

// EditSession is the caller identity forwarded with every write. Authorized
// is decided by the auth layer before the request reaches the core; Token is
// opaque to the core and passed through to the store.
type EditSession struct {
	UserID     string
	Token      string
	Authorized bool
}

// EntityStore is a revisioned entity store offering per-entity atomic writes
// only. This is a port in hexagonal architecture; adapters live under
// infrastructure/persistence.
type EntityStore interface {
	// LookupByStatement returns every entity holding a statement equal to
	// (property, value). No match is an empty slice, not an error.
	LookupByStatement(ctx context.Context, property valueobjects.PropertyID, value valueobjects.Value) ([]*entities.RevisionedEntity, error)

	// GetEntity returns the current revision of an entity
	GetEntity(ctx context.Context, id valueobjects.EntityID) (*entities.RevisionedEntity, error)

	// CreateEntity stores a new entity, assigning its identifier and revision 1
	CreateEntity(ctx context.Context, entity *entities.Entity, session EditSession, summary string) (*entities.RevisionedEntity, error)

	// UpdateEntity replaces an entity if its current revision equals
	// baseRevision, otherwise it fails with EDIT_CONFLICT
	UpdateEntity(ctx context.Context, entity *entities.Entity, baseRevision valueobjects.RevisionID, session EditSession, summary string) (*entities.RevisionedEntity, error)
}

// HealthChecker is implemented by stores that can report readiness
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// EditMetrics records the outcome of reconciliation edits
type EditMetrics interface {
	// ObserveReconciliation records "new", "update" or a reconciliation error code
	ObserveReconciliation(outcome string)

	// ObserveSave records a finished save: its error code ("" on success) and
	// how many auxiliary entities it created
	ObserveSave(code string, auxiliaryCreated int)
}
