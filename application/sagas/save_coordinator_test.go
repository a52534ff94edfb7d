package sagas_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/application/reconciliation"
	"reconcileedit/application/sagas"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/domain/events"
	"reconcileedit/pkg/errors"
	"reconcileedit/tests/fixtures"
	"reconcileedit/tests/mocks"
)

const summary = "Reconciliation Edit"

var session = ports.EditSession{UserID: "user-1", Token: "tok", Authorized: true}

func same(e *entities.Entity) interface{} {
	return mock.MatchedBy(func(got *entities.Entity) bool { return got == e })
}

func stored(e *entities.Entity, id int64, rev int64) *entities.RevisionedEntity {
	return &entities.RevisionedEntity{
		Entity:   e.WithID(valueobjects.EntityIDFromNumber(id)),
		Revision: valueobjects.RevisionID(rev),
	}
}

func newItem() *reconciliation.ReconciledItem {
	input := fixtures.NewEntityBuilder().WithURL("P1", "https://x/42").Build()
	return &reconciliation.ReconciledItem{
		Item:     input,
		Input:    input,
		Property: valueobjects.MustPropertyID("P1"),
		IsNew:    true,
	}
}

func TestSaveCoordinator_Save_CreatesNewItem(t *testing.T) {
	// Arrange
	store := new(mocks.MockEntityStore)
	publisher := new(mocks.MockEventPublisher)
	item := newItem()
	store.On("CreateEntity", mock.Anything, same(item.Item), session, summary).Return(stored(item.Item, 1, 1), nil)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e events.DomainEvent) bool {
		ev, ok := e.(events.EntityReconciled)
		return ok && ev.EntityID == "Q1" && ev.Created && ev.ReconcileProperty == "P1"
	})).Return(nil)
	coordinator := sagas.NewSaveCoordinator(store, publisher, summary, zap.NewNop())

	// Act
	result, err := coordinator.Save(context.Background(), item, nil, session)

	// Assert
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "Q1", result.EntityID.String())
	assert.Equal(t, valueobjects.RevisionID(1), result.RevisionID)
	assert.True(t, result.MainWritten)
	assert.NotEmpty(t, result.SagaID)
	store.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestSaveCoordinator_Save_SkipRules(t *testing.T) {
	// Arrange
	store := new(mocks.MockEntityStore)
	input := fixtures.NewEntityBuilder().WithURL("P1", "https://x/42").WithString("P2", "new").Build()
	merged := fixtures.NewEntityBuilder().WithID("Q5").WithURL("P1", "https://x/42").WithString("P2", "new").Build()
	durable := fixtures.NewEntityBuilder().WithID("Q3").WithString("P9", "durable").Build()
	aux := fixtures.NewEntityBuilder().WithString("P9", "aux").Build()
	item := &reconciliation.ReconciledItem{
		Item:         merged,
		Input:        input,
		Property:     valueobjects.MustPropertyID("P1"),
		IsNew:        false,
		BaseRevision: 4,
	}
	others := []entities.OtherItem{
		{Entity: durable, Revision: 7},
		{Entity: merged},
		{Entity: input},
		{Entity: aux},
	}
	store.On("CreateEntity", mock.Anything, same(aux), session, summary).Return(stored(aux, 6, 1), nil).Once()
	store.On("UpdateEntity", mock.Anything, same(merged), valueobjects.RevisionID(4), session, summary).
		Return(&entities.RevisionedEntity{Entity: merged, Revision: 5}, nil).Once()
	coordinator := sagas.NewSaveCoordinator(store, nil, summary, zap.NewNop())

	// Act
	result, err := coordinator.Save(context.Background(), item, others, session)

	// Assert
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "Q5", result.EntityID.String())
	assert.Equal(t, valueobjects.RevisionID(5), result.RevisionID)
	assert.Equal(t, 3, result.AuxiliarySkipped)
	require.Len(t, result.AuxiliaryCreated, 1)
	assert.Equal(t, "Q6", result.AuxiliaryCreated[0].String())
	store.AssertNumberOfCalls(t, "CreateEntity", 1)
	store.AssertNumberOfCalls(t, "UpdateEntity", 1)
	store.AssertNotCalled(t, "CreateEntity", mock.Anything, same(durable), mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "CreateEntity", mock.Anything, same(merged), mock.Anything, mock.Anything)
}

func TestSaveCoordinator_Save_AbortsOnFirstFailure(t *testing.T) {
	// Arrange
	store := new(mocks.MockEntityStore)
	item := newItem()
	first := fixtures.NewEntityBuilder().WithString("P9", "first").Build()
	second := fixtures.NewEntityBuilder().WithString("P9", "second").Build()
	third := fixtures.NewEntityBuilder().WithString("P9", "third").Build()
	others := []entities.OtherItem{{Entity: first}, {Entity: second}, {Entity: third}}

	store.On("CreateEntity", mock.Anything, same(first), session, summary).Return(stored(first, 1, 1), nil)
	store.On("CreateEntity", mock.Anything, same(second), session, summary).
		Return(nil, errors.NewValidationRejectedError("bad value"))
	coordinator := sagas.NewSaveCoordinator(store, nil, summary, zap.NewNop())

	// Act
	result, err := coordinator.Save(context.Background(), item, others, session)

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValidationRejected)
	assert.False(t, result.OK)
	assert.False(t, result.MainWritten)
	assert.True(t, result.EntityID.IsZero())
	assert.Equal(t, errors.CodeValidationRejected, result.Failure.Code)
	require.Len(t, result.AuxiliaryCreated, 1)
	assert.Equal(t, "Q1", result.AuxiliaryCreated[0].String())
	store.AssertNotCalled(t, "CreateEntity", mock.Anything, same(third), mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "CreateEntity", mock.Anything, same(item.Item), mock.Anything, mock.Anything)
	store.AssertNumberOfCalls(t, "CreateEntity", 2)
}

func TestSaveCoordinator_Save_EditConflict(t *testing.T) {
	store := new(mocks.MockEntityStore)
	merged := fixtures.NewEntityBuilder().WithID("Q1").WithURL("P1", "https://x/42").Build()
	item := &reconciliation.ReconciledItem{Item: merged, Input: merged, IsNew: false, BaseRevision: 1}
	store.On("UpdateEntity", mock.Anything, same(merged), valueobjects.RevisionID(1), session, summary).
		Return(nil, errors.NewEditConflictError("Q1", 1))
	coordinator := sagas.NewSaveCoordinator(store, nil, summary, zap.NewNop())

	result, err := coordinator.Save(context.Background(), item, nil, session)

	assert.ErrorIs(t, err, errors.ErrEditConflict)
	assert.False(t, result.OK)
	assert.False(t, result.MainWritten)
	assert.True(t, result.Failure.Retryable)
}

func TestSaveCoordinator_Save_PermissionDeniedBeforeAnyWrite(t *testing.T) {
	store := new(mocks.MockEntityStore)
	aux := fixtures.NewEntityBuilder().WithString("P9", "aux").Build()
	coordinator := sagas.NewSaveCoordinator(store, nil, summary, zap.NewNop())

	result, err := coordinator.Save(context.Background(), newItem(), []entities.OtherItem{{Entity: aux}},
		ports.EditSession{UserID: "user-1"})

	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	assert.False(t, result.OK)
	store.AssertNotCalled(t, "CreateEntity", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "UpdateEntity", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSaveCoordinator_Save_UntypedStoreErrorIsUnavailable(t *testing.T) {
	store := new(mocks.MockEntityStore)
	item := newItem()
	store.On("CreateEntity", mock.Anything, same(item.Item), session, summary).Return(nil, stderrors.New("socket closed"))
	coordinator := sagas.NewSaveCoordinator(store, nil, summary, zap.NewNop())

	result, err := coordinator.Save(context.Background(), item, nil, session)

	assert.ErrorIs(t, err, errors.ErrStoreUnavailable)
	assert.Equal(t, errors.CodeStoreUnavailable, result.Failure.Code)
}

func TestSaveCoordinator_Save_PublishFailureDoesNotFailSave(t *testing.T) {
	store := new(mocks.MockEntityStore)
	publisher := new(mocks.MockEventPublisher)
	item := newItem()
	store.On("CreateEntity", mock.Anything, same(item.Item), session, summary).Return(stored(item.Item, 1, 1), nil)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(stderrors.New("bus down"))
	coordinator := sagas.NewSaveCoordinator(store, publisher, summary, zap.NewNop())

	result, err := coordinator.Save(context.Background(), item, nil, session)

	require.NoError(t, err)
	assert.True(t, result.OK)
	publisher.AssertExpectations(t)
}

func TestSaveCoordinator_Save_CancelledContextStopsBeforeWriting(t *testing.T) {
	store := new(mocks.MockEntityStore)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coordinator := sagas.NewSaveCoordinator(store, nil, summary, zap.NewNop())

	result, err := coordinator.Save(ctx, newItem(), nil, session)

	assert.ErrorIs(t, err, errors.ErrStoreUnavailable)
	assert.Equal(t, true, result.Failure.Details["cancelled"])
	store.AssertNotCalled(t, "CreateEntity", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSaveCoordinator_Save_VanishedMatchIsEditConflict(t *testing.T) {
	store := new(mocks.MockEntityStore)
	merged := fixtures.NewEntityBuilder().WithID("Q7").WithURL("P1", "https://x/42").Build()
	item := &reconciliation.ReconciledItem{Item: merged, Input: merged, IsNew: false, BaseRevision: 3}
	store.On("UpdateEntity", mock.Anything, same(merged), valueobjects.RevisionID(3), session, summary).
		Return(nil, errors.NewEntityNotFoundError("Q7"))
	coordinator := sagas.NewSaveCoordinator(store, nil, summary, zap.NewNop())

	result, err := coordinator.Save(context.Background(), item, nil, session)

	assert.ErrorIs(t, err, errors.ErrEditConflict)
	assert.Equal(t, errors.CodeEditConflict, result.Failure.Code)
	assert.Equal(t, "Q7", result.Failure.Details["entity_id"])
	assert.Equal(t, int64(3), result.Failure.Details["base_revision"])
	assert.False(t, result.MainWritten)
}
