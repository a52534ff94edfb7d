package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/domain/events"
)

// MockEntityStore is a testify mock of ports.EntityStore
type MockEntityStore struct {
	mock.Mock
}

var _ ports.EntityStore = (*MockEntityStore)(nil)

func (m *MockEntityStore) LookupByStatement(ctx context.Context, property valueobjects.PropertyID, value valueobjects.Value) ([]*entities.RevisionedEntity, error) {
	args := m.Called(ctx, property, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.RevisionedEntity), args.Error(1)
}

func (m *MockEntityStore) GetEntity(ctx context.Context, id valueobjects.EntityID) (*entities.RevisionedEntity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RevisionedEntity), args.Error(1)
}

func (m *MockEntityStore) CreateEntity(ctx context.Context, entity *entities.Entity, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	args := m.Called(ctx, entity, session, summary)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RevisionedEntity), args.Error(1)
}

func (m *MockEntityStore) UpdateEntity(ctx context.Context, entity *entities.Entity, baseRevision valueobjects.RevisionID, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	args := m.Called(ctx, entity, baseRevision, session, summary)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RevisionedEntity), args.Error(1)
}

// MockEventPublisher is a testify mock of ports.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

var _ ports.EventPublisher = (*MockEventPublisher)(nil)

func (m *MockEventPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}
