package postgres

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/domain/config"
	"reconcileedit/domain/core/validators"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/infrastructure/persistence/abstractions"
	"reconcileedit/pkg/errors"
	"reconcileedit/tests/fixtures"
)

var session = ports.EditSession{UserID: "alice", Token: "t", Authorized: true}

// startPostgres runs a disposable Postgres container. The tests need Docker
// and are opt-in through RECONCILE_EDIT_PG_TESTS.
func startPostgres(t *testing.T) *EntityStore {
	t.Helper()
	if testing.Short() || os.Getenv("RECONCILE_EDIT_PG_TESTS") == "" {
		t.Skip("set RECONCILE_EDIT_PG_TESTS=1 to run Postgres integration tests")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("reconcile"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	guard := abstractions.NewWriteGuard(validators.NewEntityValidator(config.DefaultDomainConfig()))
	return NewEntityStore(pool, guard, zap.NewNop())
}

func TestEntityStore_Postgres(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()
	pURL := valueobjects.MustPropertyID("P1")
	url := valueobjects.MustValue(valueobjects.ValueTypeURL, "https://example.org/a")

	created, err := store.CreateEntity(ctx, fixtures.NewEntityBuilder().WithURL("P1", "https://example.org/a").Build(), session, "Reconciliation Edit")
	require.NoError(t, err)
	assert.Equal(t, valueobjects.RevisionID(1), created.Revision)

	t.Run("lookup finds created entity", func(t *testing.T) {
		found, err := store.LookupByStatement(ctx, pURL, url)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.True(t, found[0].ID().Equals(created.ID()))
	})

	t.Run("update bumps revision and reindexes", func(t *testing.T) {
		next := created.Entity.Clone()
		next.AddStatement(valueobjects.MustPropertyID("P2"), valueobjects.MustValue(valueobjects.ValueTypeString, "x"))

		updated, err := store.UpdateEntity(ctx, next, created.Revision, session, "Reconciliation Edit")
		require.NoError(t, err)
		assert.Equal(t, valueobjects.RevisionID(2), updated.Revision)

		found, err := store.LookupByStatement(ctx, valueobjects.MustPropertyID("P2"), valueobjects.MustValue(valueobjects.ValueTypeString, "x"))
		require.NoError(t, err)
		assert.Len(t, found, 1)

		history, err := store.History(ctx, created.ID())
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "Reconciliation Edit", history[1].Summary)
	})

	t.Run("stale base revision conflicts", func(t *testing.T) {
		_, err := store.UpdateEntity(ctx, created.Entity, 1, session, "s")
		assert.ErrorIs(t, err, errors.ErrEditConflict)
	})

	t.Run("missing entity", func(t *testing.T) {
		_, err := store.GetEntity(ctx, valueobjects.EntityIDFromNumber(999))
		assert.ErrorIs(t, err, errors.ErrEntityNotFound)
	})
}

func TestEntityStore_PostgresConcurrentUpdates(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	created, err := store.CreateEntity(ctx, fixtures.NewEntityBuilder().WithString("P2", "a").Build(), session, "s")
	require.NoError(t, err)

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateEntity(ctx, created.Entity.Clone(), created.Revision, session, "s")
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.GetDomainError(err) != nil && errors.GetDomainError(err).Code == errors.CodeEditConflict:
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), conflicts)
}
