package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CounterTable is the subset of the DynamoDB API the distributed limiter uses
type CounterTable interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DistributedRateLimiter counts requests per fixed window in DynamoDB so the
// limit holds across Lambda instances. It shares the entity table; its items
// live under PK=RATELIMIT#... and expire through the TTL attribute.
type DistributedRateLimiter struct {
	table     CounterTable
	tableName string
	limit     int
	window    time.Duration
	now       func() time.Time
}

var _ RateLimiter = (*DistributedRateLimiter)(nil)

// NewDistributedRateLimiter allows limit requests per key and window
func NewDistributedRateLimiter(table CounterTable, tableName string, limit int, window time.Duration) *DistributedRateLimiter {
	return &DistributedRateLimiter{
		table:     table,
		tableName: tableName,
		limit:     limit,
		window:    window,
		now:       time.Now,
	}
}

func (r *DistributedRateLimiter) key(key string) map[string]types.AttributeValue {
	windowStart := r.now().Truncate(r.window)
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("RATELIMIT#%s#%d", key, windowStart.Unix())},
		"SK": &types.AttributeValueMemberS{Value: "WINDOW"},
	}
}

// Allow increments the window counter unless it already reached the limit.
// Other DynamoDB errors fail open and are returned for logging.
func (r *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	expiresAt := r.now().Truncate(r.window).Add(r.window + time.Hour)

	update := expression.Add(expression.Name("Count"), expression.Value(1)).
		Set(expression.Name("TTL"), expression.Value(expiresAt.Unix()))
	cond := expression.Or(
		expression.AttributeNotExists(expression.Name("Count")),
		expression.LessThan(expression.Name("Count"), expression.Value(r.limit)),
	)
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return true, fmt.Errorf("build rate limit expression: %w", err)
	}

	_, err = r.table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       r.key(key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return true, fmt.Errorf("rate limiter error (failing open): %w", err)
	}
	return true, nil
}

// Reset clears the current window of key
func (r *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	_, err := r.table.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(key),
	})
	return err
}

// Limit returns the configured limit and window
func (r *DistributedRateLimiter) Limit() (int, time.Duration) {
	return r.limit, r.window
}
