package fixtures

import (
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
)

// EntityBuilder helps create test entities
type EntityBuilder struct {
	id         valueobjects.EntityID
	labels     map[string]string
	statements []entities.Statement
}

func NewEntityBuilder() *EntityBuilder {
	return &EntityBuilder{labels: make(map[string]string)}
}

func (b *EntityBuilder) WithID(id string) *EntityBuilder {
	b.id, _ = valueobjects.NewEntityID(id)
	return b
}

func (b *EntityBuilder) WithLabel(lang, text string) *EntityBuilder {
	b.labels[lang] = text
	return b
}

func (b *EntityBuilder) WithString(property, value string) *EntityBuilder {
	return b.with(property, valueobjects.ValueTypeString, value)
}

func (b *EntityBuilder) WithURL(property, value string) *EntityBuilder {
	return b.with(property, valueobjects.ValueTypeURL, value)
}

func (b *EntityBuilder) WithItem(property, value string) *EntityBuilder {
	return b.with(property, valueobjects.ValueTypeItem, value)
}

func (b *EntityBuilder) with(property string, typ valueobjects.ValueType, value string) *EntityBuilder {
	b.statements = append(b.statements, entities.Statement{
		Property: valueobjects.MustPropertyID(property),
		Value:    valueobjects.MustValue(typ, value),
	})
	return b
}

func (b *EntityBuilder) Build() *entities.Entity {
	e := entities.NewEntity()
	for lang, text := range b.labels {
		e.SetLabel(lang, text)
	}
	for _, s := range b.statements {
		e.AddStatement(s.Property, s.Value)
	}
	if !b.id.IsZero() {
		e = e.WithID(b.id)
	}
	return e
}

// Revisioned builds the entity as the store would hold it
func (b *EntityBuilder) Revisioned(revision int64) *entities.RevisionedEntity {
	return &entities.RevisionedEntity{
		Entity:   b.Build(),
		Revision: valueobjects.RevisionID(revision),
	}
}
