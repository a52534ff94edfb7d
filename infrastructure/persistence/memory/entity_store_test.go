package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/domain/config"
	"reconcileedit/domain/core/validators"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/infrastructure/persistence/abstractions"
	"reconcileedit/pkg/errors"
	"reconcileedit/tests/fixtures"
)

var session = ports.EditSession{UserID: "user-1", Token: "tok", Authorized: true}

func newStore() *EntityStore {
	guard := abstractions.NewWriteGuard(validators.NewEntityValidator(config.DefaultDomainConfig()))
	return NewEntityStore(guard, zap.NewNop())
}

func TestEntityStore_CreateAssignsSequentialIDs(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	first, err := store.CreateEntity(ctx, fixtures.NewEntityBuilder().WithString("P1", "a").Build(), session, "Reconciliation Edit")
	require.NoError(t, err)
	second, err := store.CreateEntity(ctx, fixtures.NewEntityBuilder().WithString("P1", "b").Build(), session, "Reconciliation Edit")
	require.NoError(t, err)

	assert.Equal(t, "Q1", first.ID().String())
	assert.Equal(t, valueobjects.RevisionID(1), first.Revision)
	assert.Equal(t, "Q2", second.ID().String())

	history := store.History(first.ID())
	require.Len(t, history, 1)
	assert.Equal(t, "Reconciliation Edit", history[0].Summary)
	assert.Equal(t, "user-1", history[0].UserID)
}

func TestEntityStore_LookupFollowsUpdates(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	p1 := valueobjects.MustPropertyID("P1")
	old := valueobjects.MustValue(valueobjects.ValueTypeString, "old")
	replacement := valueobjects.MustValue(valueobjects.ValueTypeString, "new")

	created, err := store.CreateEntity(ctx, fixtures.NewEntityBuilder().WithString("P1", "old").Build(), session, "s")
	require.NoError(t, err)

	found, err := store.LookupByStatement(ctx, p1, old)
	require.NoError(t, err)
	require.Len(t, found, 1)

	updated := fixtures.NewEntityBuilder().WithID("Q1").WithString("P1", "new").Build()
	_, err = store.UpdateEntity(ctx, updated, created.Revision, session, "s")
	require.NoError(t, err)

	found, err = store.LookupByStatement(ctx, p1, old)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = store.LookupByStatement(ctx, p1, replacement)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, valueobjects.RevisionID(2), found[0].Revision)
}

func TestEntityStore_ReturnedEntitiesAreCopies(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	created, err := store.CreateEntity(ctx, fixtures.NewEntityBuilder().WithString("P1", "a").Build(), session, "s")
	require.NoError(t, err)

	created.Entity.SetLabel("en", "mutated")

	again, err := store.GetEntity(ctx, created.ID())
	require.NoError(t, err)
	_, ok := again.Entity.Label("en")
	assert.False(t, ok)
}

func TestEntityStore_UpdateWithStaleRevisionConflicts(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	created, err := store.CreateEntity(ctx, fixtures.NewEntityBuilder().WithString("P1", "a").Build(), session, "s")
	require.NoError(t, err)

	e := fixtures.NewEntityBuilder().WithID("Q1").WithString("P1", "b").Build()
	_, err = store.UpdateEntity(ctx, e, created.Revision, session, "s")
	require.NoError(t, err)

	_, err = store.UpdateEntity(ctx, e, created.Revision, session, "s")
	assert.ErrorIs(t, err, errors.ErrEditConflict)
}

func TestEntityStore_ConcurrentUpdatesOnlyOneWins(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	created, err := store.CreateEntity(ctx, fixtures.NewEntityBuilder().WithString("P1", "a").Build(), session, "s")
	require.NoError(t, err)

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := fixtures.NewEntityBuilder().WithID("Q1").WithString("P1", "a").WithString("P2", string(rune('a'+i))).Build()
			_, err := store.UpdateEntity(ctx, e, created.Revision, session, "s")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, errors.ErrEditConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
	current, err := store.GetEntity(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobjects.RevisionID(2), current.Revision)
}

func TestEntityStore_RejectsWritesWithoutToken(t *testing.T) {
	store := newStore()

	_, err := store.CreateEntity(context.Background(), fixtures.NewEntityBuilder().WithString("P1", "a").Build(),
		ports.EditSession{UserID: "u", Authorized: true}, "s")

	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
}

func TestEntityStore_GetMissingEntity(t *testing.T) {
	_, err := newStore().GetEntity(context.Background(), valueobjects.EntityIDFromNumber(99))

	assert.ErrorIs(t, err, errors.ErrEntityNotFound)
}
