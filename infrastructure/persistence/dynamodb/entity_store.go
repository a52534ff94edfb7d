package dynamodb

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/infrastructure/persistence/abstractions"
	"reconcileedit/pkg/errors"
)

// maxTransactItems is the DynamoDB limit for TransactWriteItems
const maxTransactItems = 100

// Client is the subset of the DynamoDB API the store uses
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Table layout. One table holds three item kinds:
//
//	PK=ENTITY#<id>  SK=METADATA     the current revision and its document
//	PK=ENTITY#<id>  SK=STMT#<key>   one per distinct statement, projected into GSI1
//	PK=COUNTER      SK=ENTITY       the last assigned entity number
const (
	metadataSK   = "METADATA"
	counterPK    = "COUNTER"
	counterSK    = "ENTITY"
	statementSK  = "STMT#"
	entityPrefix = "ENTITY#"
)

type entityItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	EntityID  string `dynamodbav:"EntityID"`
	Revision  int64  `dynamodbav:"Revision"`
	Document  string `dynamodbav:"Document"`
	UserID    string `dynamodbav:"UserID"`
	Summary   string `dynamodbav:"Summary"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

type statementItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
}

// EntityStore implements ports.EntityStore on a single DynamoDB table.
// Revision checks are condition expressions on the metadata item; the
// metadata item and its statement items are written in one transaction.
type EntityStore struct {
	client    Client
	tableName string
	indexName string
	guard     *abstractions.WriteGuard
	logger    *zap.Logger
	now       func() time.Time
}

var _ ports.EntityStore = (*EntityStore)(nil)

// NewEntityStore creates a new DynamoDB entity store
func NewEntityStore(client Client, tableName, indexName string, guard *abstractions.WriteGuard, logger *zap.Logger) *EntityStore {
	return &EntityStore{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		guard:     guard,
		logger:    logger,
		now:       time.Now,
	}
}

func entityPK(id string) string { return entityPrefix + id }

func statementGSI(key string) string { return "STMT#" + key }

// LookupByStatement queries GSI1 and then reads every candidate with a
// consistent read. The GSI is eventually consistent, so candidates may be
// stale; the matcher drops those that no longer hold the statement.
func (s *EntityStore) LookupByStatement(ctx context.Context, property valueobjects.PropertyID, value valueobjects.Value) ([]*entities.RevisionedEntity, error) {
	keyEx := expression.Key("GSI1PK").Equal(expression.Value(statementGSI(abstractions.StatementKey(property, value))))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup expression: %w", err)
	}

	ids := make([]string, 0)
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			IndexName:                 aws.String(s.indexName),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, s.mapError("lookup", "", 0, err)
		}

		var items []statementItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal statement items: %w", err)
		}
		for _, item := range items {
			raw, ok := strings.CutPrefix(item.GSI1SK, entityPrefix)
			if !ok {
				s.logger.Warn("Skipping malformed index entry", zap.String("sort_key", item.GSI1SK))
				continue
			}
			ids = append(ids, raw)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	result := make([]*entities.RevisionedEntity, 0, len(ids))
	for _, raw := range ids {
		id, err := valueobjects.NewEntityID(raw)
		if err != nil {
			s.logger.Warn("Skipping malformed index entry", zap.String("entity_id", raw))
			continue
		}
		stored, err := s.GetEntity(ctx, id)
		if err != nil {
			if stderrors.Is(err, errors.ErrEntityNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, stored)
	}
	return result, nil
}

// GetEntity implements ports.EntityStore
func (s *EntityStore) GetEntity(ctx context.Context, id valueobjects.EntityID) (*entities.RevisionedEntity, error) {
	item, err := s.getMetadata(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.NewEntityNotFoundError(id.String())
	}
	return decodeEntity(item)
}

func (s *EntityStore) getMetadata(ctx context.Context, id string) (*entityItem, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: entityPK(id)},
			"SK": &types.AttributeValueMemberS{Value: metadataSK},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.mapError("get", id, 0, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item entityItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity %s: %w", id, err)
	}
	return &item, nil
}

// CreateEntity implements ports.EntityStore
func (s *EntityStore) CreateEntity(ctx context.Context, entity *entities.Entity, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	if err := s.guard.CheckCreate(entity, session); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("dynamodb-entity-store").Start(ctx, "CreateEntity")
	defer span.End()

	number, err := s.nextEntityNumber(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	id := valueobjects.EntityIDFromNumber(number)
	stored := entity.WithID(id)
	span.SetAttributes(attribute.String("entity.id", id.String()))

	meta, err := s.metadataItem(stored, 1, session, summary)
	if err != nil {
		return nil, err
	}
	cond, err := expression.NewBuilder().WithCondition(expression.AttributeNotExists(expression.Name("PK"))).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build create condition: %w", err)
	}

	transactItems := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                 aws.String(s.tableName),
			Item:                      meta,
			ConditionExpression:       cond.Condition(),
			ExpressionAttributeNames:  cond.Names(),
			ExpressionAttributeValues: cond.Values(),
		},
	}}
	puts, err := s.statementPuts(id.String(), abstractions.StatementKeys(stored))
	if err != nil {
		return nil, err
	}
	transactItems = append(transactItems, puts...)
	if len(transactItems) > maxTransactItems {
		return nil, errors.NewValidationRejectedError(
			fmt.Sprintf("an entity may be created with at most %d distinct statements", maxTransactItems-1))
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: transactItems,
	}); err != nil {
		mapped := s.mapError("create", id.String(), 0, err)
		span.SetStatus(codes.Error, mapped.Error())
		return nil, mapped
	}

	s.logger.Debug("Entity created",
		zap.String("entity_id", id.String()),
		zap.String("user_id", session.UserID),
	)
	return &entities.RevisionedEntity{Entity: stored.Clone(), Revision: 1}, nil
}

// UpdateEntity implements ports.EntityStore. The statement diff against the
// stored revision is written in the same transaction as the metadata, which
// is conditioned on Revision = baseRevision.
func (s *EntityStore) UpdateEntity(ctx context.Context, entity *entities.Entity, baseRevision valueobjects.RevisionID, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	if err := s.guard.CheckUpdate(entity, baseRevision, session); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("dynamodb-entity-store").Start(ctx, "UpdateEntity")
	defer span.End()

	id := entity.ID().String()
	span.SetAttributes(
		attribute.String("entity.id", id),
		attribute.Int64("entity.base_revision", baseRevision.Int64()),
	)

	current, err := s.getMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.NewEntityNotFoundError(id)
	}
	if current.Revision != baseRevision.Int64() {
		return nil, errors.NewEditConflictError(id, baseRevision.Int64()).
			WithDetail("current_revision", current.Revision)
	}
	old, err := decodeEntity(current)
	if err != nil {
		return nil, err
	}

	next := baseRevision + 1
	meta, err := s.metadataItem(entity, next, session, summary)
	if err != nil {
		return nil, err
	}
	cond, err := expression.NewBuilder().
		WithCondition(expression.Equal(expression.Name("Revision"), expression.Value(baseRevision.Int64()))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build update condition: %w", err)
	}

	transactItems := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                 aws.String(s.tableName),
			Item:                      meta,
			ConditionExpression:       cond.Condition(),
			ExpressionAttributeNames:  cond.Names(),
			ExpressionAttributeValues: cond.Values(),
		},
	}}

	added, removed := diffKeys(abstractions.StatementKeys(old.Entity), abstractions.StatementKeys(entity))
	puts, err := s.statementPuts(id, added)
	if err != nil {
		return nil, err
	}
	transactItems = append(transactItems, puts...)
	for _, key := range removed {
		transactItems = append(transactItems, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: entityPK(id)},
					"SK": &types.AttributeValueMemberS{Value: statementSK + key},
				},
			},
		})
	}
	if len(transactItems) > maxTransactItems {
		return nil, errors.NewValidationRejectedError(
			fmt.Sprintf("a revision may change at most %d distinct statements", maxTransactItems-1))
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: transactItems,
	}); err != nil {
		mapped := s.mapError("update", id, baseRevision.Int64(), err)
		span.SetStatus(codes.Error, mapped.Error())
		return nil, mapped
	}

	return &entities.RevisionedEntity{Entity: entity.Clone(), Revision: next}, nil
}

// Ping implements ports.HealthChecker
func (s *EntityStore) Ping(ctx context.Context) error {
	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)}); err != nil {
		return s.mapError("ping", "", 0, err)
	}
	return nil
}

func (s *EntityStore) nextEntityNumber(ctx context.Context) (int64, error) {
	update := expression.Add(expression.Name("Value"), expression.Value(1))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build counter update: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: counterPK},
			"SK": &types.AttributeValueMemberS{Value: counterSK},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, s.mapError("allocate-id", "", 0, err)
	}

	raw, ok := out.Attributes["Value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.NewStoreUnavailableError("allocate-id", fmt.Errorf("counter item has no numeric Value"))
	}
	n, err := strconv.ParseInt(raw.Value, 10, 64)
	if err != nil {
		return 0, errors.NewStoreUnavailableError("allocate-id", err)
	}
	return n, nil
}

func (s *EntityStore) metadataItem(entity *entities.Entity, revision valueobjects.RevisionID, session ports.EditSession, summary string) (map[string]types.AttributeValue, error) {
	doc, err := json.Marshal(entity.ToDocument())
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	id := entity.ID().String()
	av, err := attributevalue.MarshalMap(entityItem{
		PK:        entityPK(id),
		SK:        metadataSK,
		EntityID:  id,
		Revision:  revision.Int64(),
		Document:  string(doc),
		UserID:    session.UserID,
		Summary:   summary,
		UpdatedAt: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity %s: %w", id, err)
	}
	return av, nil
}

func (s *EntityStore) statementPuts(id string, keys []string) ([]types.TransactWriteItem, error) {
	items := make([]types.TransactWriteItem, 0, len(keys))
	for _, key := range keys {
		av, err := attributevalue.MarshalMap(statementItem{
			PK:     entityPK(id),
			SK:     statementSK + key,
			GSI1PK: statementGSI(key),
			GSI1SK: entityPK(id),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statement item: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(s.tableName), Item: av},
		})
	}
	return items, nil
}

// mapError converts SDK errors into save errors. Conditional check failures
// on the metadata item are edit conflicts; everything else is an outage.
func (s *EntityStore) mapError(operation, id string, baseRevision int64, err error) error {
	var canceled *types.TransactionCanceledException
	if stderrors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return errors.NewEditConflictError(id, baseRevision)
			}
		}
	}

	var ccf *types.ConditionalCheckFailedException
	if stderrors.As(err, &ccf) {
		return errors.NewEditConflictError(id, baseRevision)
	}

	code := "unknown"
	var ae smithy.APIError
	if stderrors.As(err, &ae) {
		code = ae.ErrorCode()
	}
	s.logger.Warn("DynamoDB request failed",
		zap.String("operation", operation),
		zap.String("entity_id", id),
		zap.String("aws_error_code", code),
		zap.Error(err),
	)
	return errors.NewStoreUnavailableError(operation, err).WithDetail("aws_error_code", code)
}

func decodeEntity(item *entityItem) (*entities.RevisionedEntity, error) {
	var doc entities.EntityDocument
	if err := json.Unmarshal([]byte(item.Document), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s: %w", item.EntityID, err)
	}
	return &entities.RevisionedEntity{
		Entity:   entities.ReconstructEntity(doc),
		Revision: valueobjects.RevisionID(item.Revision),
	}, nil
}

func diffKeys(before, after []string) (added, removed []string) {
	old := make(map[string]struct{}, len(before))
	for _, k := range before {
		old[k] = struct{}{}
	}
	cur := make(map[string]struct{}, len(after))
	for _, k := range after {
		cur[k] = struct{}{}
		if _, ok := old[k]; !ok {
			added = append(added, k)
		}
	}
	for _, k := range before {
		if _, ok := cur[k]; !ok {
			removed = append(removed, k)
		}
	}
	return added, removed
}
