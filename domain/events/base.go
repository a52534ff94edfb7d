package events

import (
	"time"

	"reconcileedit/domain/core/valueobjects"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

const EventTypeEntityReconciled = "entity.reconciled"

// EntityReconciled is raised after the main entity of a reconciliation edit
// has been written
type EntityReconciled struct {
	BaseEvent
	EntityID          string `json:"entity_id"`
	RevisionID        int64  `json:"revision_id"`
	Created           bool   `json:"created"`
	ReconcileProperty string `json:"reconcile_property"`
	AuxiliaryCreated  int    `json:"auxiliary_created"`
	UserID            string `json:"user_id,omitempty"`
}

// NewEntityReconciled creates an EntityReconciled event
func NewEntityReconciled(
	id valueobjects.EntityID,
	revision valueobjects.RevisionID,
	created bool,
	property valueobjects.PropertyID,
	auxiliaryCreated int,
	userID string,
	timestamp time.Time,
) EntityReconciled {
	return EntityReconciled{
		BaseEvent: BaseEvent{
			AggregateID: id.String(),
			EventType:   EventTypeEntityReconciled,
			Timestamp:   timestamp,
			Version:     int(revision),
		},
		EntityID:          id.String(),
		RevisionID:        revision.Int64(),
		Created:           created,
		ReconcileProperty: property.String(),
		AuxiliaryCreated:  auxiliaryCreated,
		UserID:            userID,
	}
}
