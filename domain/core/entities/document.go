package entities

import (
	"reconcileedit/domain/core/valueobjects"
)

// EntityDocument is the serialized form of an entity used by stores and
// the HTTP adapter.
type EntityDocument struct {
	ID           valueobjects.EntityID `json:"id,omitempty"`
	Labels       map[string]string     `json:"labels,omitempty"`
	Descriptions map[string]string     `json:"descriptions,omitempty"`
	Aliases      map[string][]string   `json:"aliases,omitempty"`
	Statements   []Statement           `json:"statements,omitempty"`
}

// ToDocument snapshots the entity
func (e *Entity) ToDocument() EntityDocument {
	return EntityDocument{
		ID:           e.id,
		Labels:       e.Labels(),
		Descriptions: e.Descriptions(),
		Aliases:      e.Aliases(),
		Statements:   e.Statements(),
	}
}

// ReconstructEntity rebuilds an entity from its serialized form
func ReconstructEntity(doc EntityDocument) *Entity {
	e := NewEntity()
	e.id = doc.ID
	for lang, text := range doc.Labels {
		e.labels[lang] = text
	}
	for lang, text := range doc.Descriptions {
		e.descriptions[lang] = text
	}
	for _, lang := range sortedKeys(doc.Aliases) {
		for _, a := range doc.Aliases[lang] {
			e.AddAlias(lang, a)
		}
	}
	for _, s := range doc.Statements {
		e.AddStatement(s.Property, s.Value)
	}
	return e
}

// RevisionedEntity is an entity as held by the store, with its current
// revision.
type RevisionedEntity struct {
	Entity   *Entity
	Revision valueobjects.RevisionID
}

// ID returns the stored entity's identifier
func (r *RevisionedEntity) ID() valueobjects.EntityID {
	return r.Entity.ID()
}

// OtherItem is an auxiliary entity submitted alongside the main one. A set
// revision means it is already durable and must not be saved again.
type OtherItem struct {
	Entity   *Entity
	Revision valueobjects.RevisionID
}

// IsDurable reports whether the item already exists in the store
func (o OtherItem) IsDurable() bool {
	return !o.Revision.IsZero()
}
