package reconciliation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reconcileedit/application/reconciliation"
	"reconcileedit/domain/core/entities"
	"reconcileedit/tests/fixtures"
	"reconcileedit/tests/mocks"
)

func TestMatcher_Match_DeterministicOrdering(t *testing.T) {
	// Arrange
	store := new(mocks.MockEntityStore)
	value := url("https://x/42")
	store.On("LookupByStatement", mock.Anything, pID, value).Return([]*entities.RevisionedEntity{
		fixtures.NewEntityBuilder().WithID("Q10").WithURL("P1", "https://x/42").Revisioned(1),
		fixtures.NewEntityBuilder().WithID("Q2").WithURL("P1", "https://x/42").Revisioned(1),
		fixtures.NewEntityBuilder().WithID("Q2").WithURL("P1", "https://x/42").Revisioned(1),
	}, nil)
	matcher := reconciliation.NewMatcher(store, zap.NewNop())

	// Act
	first, err := matcher.Match(context.Background(), pID, value)
	require.NoError(t, err)
	second, err := matcher.Match(context.Background(), pID, value)
	require.NoError(t, err)

	// Assert
	require.Len(t, first, 2)
	assert.Equal(t, "Q2", first[0].ID().String())
	assert.Equal(t, "Q10", first[1].ID().String())
	assert.Equal(t, ids(first), ids(second))
}

func TestMatcher_Match_DropsStaleCandidates(t *testing.T) {
	store := new(mocks.MockEntityStore)
	value := url("https://x/42")
	store.On("LookupByStatement", mock.Anything, pID, value).Return([]*entities.RevisionedEntity{
		fixtures.NewEntityBuilder().WithID("Q1").WithURL("P1", "https://x/other").Revisioned(2),
	}, nil)

	matches, err := reconciliation.NewMatcher(store, zap.NewNop()).Match(context.Background(), pID, value)

	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatcher_Match_NoMatchIsNotAnError(t *testing.T) {
	store := new(mocks.MockEntityStore)
	value := url("https://x/42")
	store.On("LookupByStatement", mock.Anything, pID, value).Return(nil, nil)

	matches, err := reconciliation.NewMatcher(store, zap.NewNop()).Match(context.Background(), pID, value)

	assert.NoError(t, err)
	assert.Empty(t, matches)
}

func ids(list []*entities.RevisionedEntity) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.ID().String()
	}
	return out
}
