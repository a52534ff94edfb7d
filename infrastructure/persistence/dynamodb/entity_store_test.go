package dynamodb

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
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

type mockClient struct {
	mock.Mock
}

func (m *mockClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *mockClient) Query(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.QueryOutput), args.Error(1)
}

func (m *mockClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.UpdateItemOutput), args.Error(1)
}

func (m *mockClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.TransactWriteItemsOutput), args.Error(1)
}

func (m *mockClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DescribeTableOutput), args.Error(1)
}

var session = ports.EditSession{UserID: "alice", Token: "t", Authorized: true}

func newStore(client Client) *EntityStore {
	guard := abstractions.NewWriteGuard(validators.NewEntityValidator(config.DefaultDomainConfig()))
	return NewEntityStore(client, "entities", "GSI1", guard, zap.NewNop())
}

func metadataOutput(t *testing.T, id string, revision int64, builder *fixtures.EntityBuilder) *dynamodb.GetItemOutput {
	t.Helper()
	doc, err := json.Marshal(builder.WithID(id).Build().ToDocument())
	require.NoError(t, err)
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: "ENTITY#" + id},
		"SK":       &types.AttributeValueMemberS{Value: "METADATA"},
		"EntityID": &types.AttributeValueMemberS{Value: id},
		"Revision": &types.AttributeValueMemberN{Value: strconv.FormatInt(revision, 10)},
		"Document": &types.AttributeValueMemberS{Value: string(doc)},
	}}
}

func TestEntityStore_CreateEntity(t *testing.T) {
	// Arrange
	client := new(mockClient)
	client.On("UpdateItem", mock.Anything, mock.Anything).Return(&dynamodb.UpdateItemOutput{
		Attributes: map[string]types.AttributeValue{"Value": &types.AttributeValueMemberN{Value: "7"}},
	}, nil)
	var written *dynamodb.TransactWriteItemsInput
	client.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { written = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	entity := fixtures.NewEntityBuilder().WithURL("P1", "https://x/1").WithString("P2", "a").Build()

	// Act
	stored, err := newStore(client).CreateEntity(context.Background(), entity, session, "Reconciliation Edit")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Q7", stored.ID().String())
	assert.Equal(t, valueobjects.RevisionID(1), stored.Revision)
	require.NotNil(t, written)
	require.Len(t, written.TransactItems, 3)
	meta := written.TransactItems[0].Put
	assert.Equal(t, &types.AttributeValueMemberS{Value: "ENTITY#Q7"}, meta.Item["PK"])
	assert.Contains(t, aws.ToString(meta.ConditionExpression), "attribute_not_exists")
	assert.Equal(t, &types.AttributeValueMemberS{Value: "STMT#P1|url:https://x/1"}, written.TransactItems[1].Put.Item["GSI1PK"])
}

func TestEntityStore_CreateEntityRejectsUnauthorizedSession(t *testing.T) {
	client := new(mockClient)

	_, err := newStore(client).CreateEntity(context.Background(), fixtures.NewEntityBuilder().WithString("P2", "a").Build(), ports.EditSession{}, "s")

	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	client.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything)
}

func TestEntityStore_UpdateEntityWritesStatementDiff(t *testing.T) {
	client := new(mockClient)
	client.On("GetItem", mock.Anything, mock.Anything).
		Return(metadataOutput(t, "Q1", 1, fixtures.NewEntityBuilder().WithURL("P1", "https://x/1").WithString("P2", "old")), nil)
	var written *dynamodb.TransactWriteItemsInput
	client.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { written = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	entity := fixtures.NewEntityBuilder().WithID("Q1").WithURL("P1", "https://x/1").WithString("P2", "new").Build()

	stored, err := newStore(client).UpdateEntity(context.Background(), entity, 1, session, "Reconciliation Edit")

	require.NoError(t, err)
	assert.Equal(t, valueobjects.RevisionID(2), stored.Revision)
	require.Len(t, written.TransactItems, 3)
	assert.NotNil(t, written.TransactItems[0].Put.ConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "STMT#P2|string:new"}, written.TransactItems[1].Put.Item["SK"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "STMT#P2|string:old"}, written.TransactItems[2].Delete.Key["SK"])
}

func TestEntityStore_UpdateEntityStaleRevision(t *testing.T) {
	client := new(mockClient)
	client.On("GetItem", mock.Anything, mock.Anything).
		Return(metadataOutput(t, "Q1", 3, fixtures.NewEntityBuilder().WithString("P2", "a")), nil)

	entity := fixtures.NewEntityBuilder().WithID("Q1").WithString("P2", "b").Build()

	_, err := newStore(client).UpdateEntity(context.Background(), entity, 2, session, "s")

	assert.ErrorIs(t, err, errors.ErrEditConflict)
	client.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
}

func TestEntityStore_UpdateEntityLostRace(t *testing.T) {
	client := new(mockClient)
	client.On("GetItem", mock.Anything, mock.Anything).
		Return(metadataOutput(t, "Q1", 2, fixtures.NewEntityBuilder().WithString("P2", "a")), nil)
	client.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	})

	entity := fixtures.NewEntityBuilder().WithID("Q1").WithString("P2", "b").Build()

	_, err := newStore(client).UpdateEntity(context.Background(), entity, 2, session, "s")

	assert.ErrorIs(t, err, errors.ErrEditConflict)
	assert.True(t, errors.IsRetryable(err))
}

func TestEntityStore_UnavailableOnThrottling(t *testing.T) {
	client := new(mockClient)
	client.On("GetItem", mock.Anything, mock.Anything).
		Return(nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")})

	_, err := newStore(client).GetEntity(context.Background(), valueobjects.EntityIDFromNumber(1))

	require.ErrorIs(t, err, errors.ErrStoreUnavailable)
	assert.Equal(t, "ProvisionedThroughputExceededException", errors.GetDomainError(err).Details["aws_error_code"])
}

func TestEntityStore_GetEntityNotFound(t *testing.T) {
	client := new(mockClient)
	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := newStore(client).GetEntity(context.Background(), valueobjects.EntityIDFromNumber(9))

	assert.ErrorIs(t, err, errors.ErrEntityNotFound)
}

func TestEntityStore_LookupByStatement(t *testing.T) {
	client := new(mockClient)
	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == "GSI1"
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{
			"PK":     &types.AttributeValueMemberS{Value: "ENTITY#Q2"},
			"SK":     &types.AttributeValueMemberS{Value: "STMT#P1|url:https://x/1"},
			"GSI1PK": &types.AttributeValueMemberS{Value: "STMT#P1|url:https://x/1"},
			"GSI1SK": &types.AttributeValueMemberS{Value: "ENTITY#Q2"},
		},
	}}, nil)
	client.On("GetItem", mock.Anything, mock.Anything).
		Return(metadataOutput(t, "Q2", 4, fixtures.NewEntityBuilder().WithURL("P1", "https://x/1")), nil)

	found, err := newStore(client).LookupByStatement(context.Background(),
		valueobjects.MustPropertyID("P1"), valueobjects.MustValue(valueobjects.ValueTypeURL, "https://x/1"))

	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Q2", found[0].ID().String())
	assert.Equal(t, valueobjects.RevisionID(4), found[0].Revision)
}

func TestEntityStore_LookupByStatementSkipsMalformedIndexRows(t *testing.T) {
	client := new(mockClient)
	row := func(sortKey string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"GSI1PK": &types.AttributeValueMemberS{Value: "STMT#P1|url:https://x/1"},
			"GSI1SK": &types.AttributeValueMemberS{Value: sortKey},
		}
	}
	client.On("Query", mock.Anything, mock.Anything).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
			row(""), row("Q3"), row("ENT"), row("ENTITY#Q2"),
		}}, nil)
	client.On("GetItem", mock.Anything, mock.Anything).
		Return(metadataOutput(t, "Q2", 1, fixtures.NewEntityBuilder().WithURL("P1", "https://x/1")), nil)

	found, err := newStore(client).LookupByStatement(context.Background(),
		valueobjects.MustPropertyID("P1"), valueobjects.MustValue(valueobjects.ValueTypeURL, "https://x/1"))

	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Q2", found[0].ID().String())
	client.AssertNumberOfCalls(t, "GetItem", 1)
}
