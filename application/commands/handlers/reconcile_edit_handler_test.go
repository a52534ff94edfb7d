package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reconcileedit/application/commands"
	"reconcileedit/application/commands/bus"
	"reconcileedit/application/ports"
	"reconcileedit/application/reconciliation"
	"reconcileedit/application/sagas"
	"reconcileedit/domain/config"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/validators"
	"reconcileedit/infrastructure/persistence/abstractions"
	"reconcileedit/infrastructure/persistence/memory"
	"reconcileedit/pkg/errors"
	"reconcileedit/tests/fixtures"
	"reconcileedit/tests/mocks"
)

var session = ports.EditSession{UserID: "user-1", Token: "tok", Authorized: true}

type recordingMetrics struct {
	reconciliations []string
	saves           []string
}

func (m *recordingMetrics) ObserveReconciliation(outcome string) {
	m.reconciliations = append(m.reconciliations, outcome)
}

func (m *recordingMetrics) ObserveSave(code string, _ int) {
	m.saves = append(m.saves, code)
}

func newHandler(store ports.EntityStore, metrics ports.EditMetrics) *ReconcileEditHandler {
	logger := zap.NewNop()
	cfg := config.DefaultDomainConfig()
	reconciler := reconciliation.NewItemReconciler(reconciliation.NewMatcher(store, logger), logger)
	coordinator := sagas.NewSaveCoordinator(store, nil, cfg.EditSummary, logger)
	return NewReconcileEditHandler(reconciler, coordinator, metrics, cfg, logger)
}

func newMemoryStore() *memory.EntityStore {
	guard := abstractions.NewWriteGuard(validators.NewEntityValidator(config.DefaultDomainConfig()))
	return memory.NewEntityStore(guard, zap.NewNop())
}

func TestReconcileEditHandler_Handle_CreateThenUpdate(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newMemoryStore()
	metrics := &recordingMetrics{}
	commandBus := bus.NewCommandBus(bus.LoggingMiddleware(zap.NewNop()))
	require.NoError(t, commandBus.Register(commands.ReconcileEditCommand{}, newHandler(store, metrics)))

	cmd := func() commands.ReconcileEditCommand {
		return commands.ReconcileEditCommand{
			Entity:            fixtures.NewEntityBuilder().WithURL("P1", "https://x/42").Build(),
			ReconcileProperty: "P1",
			Session:           session,
		}
	}

	// Act
	first, err := commandBus.Send(ctx, cmd())
	require.NoError(t, err)
	second, err := commandBus.Send(ctx, cmd())
	require.NoError(t, err)

	// Assert
	r1 := first.(*ReconcileEditResult)
	assert.True(t, r1.OK)
	assert.True(t, r1.IsNew)
	assert.Equal(t, "Q1", r1.EntityID.String())
	assert.Equal(t, int64(1), r1.RevisionID.Int64())

	r2 := second.(*ReconcileEditResult)
	assert.True(t, r2.OK)
	assert.False(t, r2.IsNew)
	assert.Equal(t, int64(1), r2.BaseRevision.Int64())
	assert.Equal(t, "Q1", r2.EntityID.String())
	assert.Equal(t, int64(2), r2.RevisionID.Int64())

	assert.Equal(t, []string{"new", "update"}, metrics.reconciliations)
	assert.Equal(t, []string{"", ""}, metrics.saves)

	for _, rev := range store.History(r1.EntityID) {
		assert.Equal(t, "Reconciliation Edit", rev.Summary)
	}
}

func TestReconcileEditHandler_Handle_SavesAuxiliaryItemsFirst(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	input := fixtures.NewEntityBuilder().WithURL("P1", "https://x/1").Build()
	aux := fixtures.NewEntityBuilder().WithURL("P1", "https://x/aux").Build()

	out, err := newHandler(store, NopMetrics{}).Handle(ctx, commands.ReconcileEditCommand{
		Entity:            input,
		ReconcileProperty: "P1",
		OtherItems:        []entities.OtherItem{{Entity: aux}, {Entity: input}},
		Session:           session,
	})

	require.NoError(t, err)
	result := out.(*ReconcileEditResult)
	assert.Equal(t, "Q2", result.EntityID.String(), "the auxiliary item is created before the main item")
	require.Len(t, result.AuxiliaryCreated, 1)
	assert.Equal(t, "Q1", result.AuxiliaryCreated[0].String())
	assert.Equal(t, 1, result.AuxiliarySkipped)
}

func TestReconcileEditHandler_Handle_ReconciliationErrorRecordsMetric(t *testing.T) {
	store := new(mocks.MockEntityStore)
	metrics := &recordingMetrics{}

	_, err := newHandler(store, metrics).Handle(context.Background(), commands.ReconcileEditCommand{
		Entity:            fixtures.NewEntityBuilder().WithString("P2", "x").Build(),
		ReconcileProperty: "P1",
		Session:           session,
	})

	assert.ErrorIs(t, err, errors.ErrMissingKey)
	assert.Equal(t, []string{errors.CodeMissingKey}, metrics.reconciliations)
	assert.Empty(t, metrics.saves)
	store.AssertNotCalled(t, "CreateEntity", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileEditHandler_Handle_UnauthorizedSession(t *testing.T) {
	store := new(mocks.MockEntityStore)

	_, err := newHandler(store, NopMetrics{}).Handle(context.Background(), commands.ReconcileEditCommand{
		Entity:            fixtures.NewEntityBuilder().WithURL("P1", "https://x/1").Build(),
		ReconcileProperty: "P1",
		Session:           ports.EditSession{UserID: "user-1"},
	})

	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	store.AssertNotCalled(t, "LookupByStatement", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileEditCommand_Validate(t *testing.T) {
	assert.Error(t, commands.ReconcileEditCommand{ReconcileProperty: "P1"}.Validate())
	assert.Error(t, commands.ReconcileEditCommand{Entity: entities.NewEntity(), ReconcileProperty: "X1"}.Validate())
	assert.NoError(t, commands.ReconcileEditCommand{Entity: entities.NewEntity(), ReconcileProperty: "P1"}.Validate())
}
