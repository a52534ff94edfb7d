package auth

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestJWTValidator_RoundTrip(t *testing.T) {
	gen, err := NewJWTGenerator("secret", "reconcile-edit", []string{"reconcile-edit-api"}, time.Hour)
	require.NoError(t, err)
	validator, err := NewJWTValidator(JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     "secret",
		Issuer:        "reconcile-edit",
		Audience:      []string{"reconcile-edit-api"},
	})
	require.NoError(t, err)

	token, err := gen.GenerateToken("alice", "Alice", []string{"editor"})
	require.NoError(t, err)
	claims, err := validator.ValidateToken("Bearer " + token)

	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, []string{"editor"}, claims.Roles)
}

func TestJWTValidator_Rejects(t *testing.T) {
	validator, err := NewJWTValidator(JWTConfig{SigningMethod: "HS256", SecretKey: "secret", Issuer: "reconcile-edit"})
	require.NoError(t, err)

	expired, err := NewJWTGenerator("secret", "reconcile-edit", nil, -time.Minute)
	require.NoError(t, err)
	otherKey, err := NewJWTGenerator("other", "reconcile-edit", nil, time.Hour)
	require.NoError(t, err)
	otherIssuer, err := NewJWTGenerator("secret", "someone-else", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		gen     *JWTGenerator
		wantErr error
	}{
		{"expired", expired, ErrExpiredToken},
		{"wrong key", otherKey, ErrInvalidSignature},
		{"wrong issuer", otherIssuer, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := tt.gen.GenerateToken("alice", "", nil)
			require.NoError(t, err)

			_, err = validator.ValidateToken(token)

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = validator.ValidateToken("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestEditTokens(t *testing.T) {
	tokens, err := NewEditTokens("s3cret")
	require.NoError(t, err)

	token := tokens.Issue("alice")

	assert.True(t, tokens.Verify("alice", token))
	assert.False(t, tokens.Verify("bob", token))
	assert.False(t, tokens.Verify("alice", ""))
	assert.Equal(t, token, tokens.Issue("alice"))

	_, err = NewEditTokens("")
	assert.Error(t, err)
}

func TestTokenBucketLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	limiter := NewTokenBucketLimiter(2, time.Second)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := limiter.Allow(ctx, "1.2.3.4")
	assert.False(t, ok, "bucket should be empty")

	ok, _ = limiter.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "keys have separate buckets")

	now = now.Add(1500 * time.Millisecond)
	ok, _ = limiter.Allow(ctx, "1.2.3.4")
	assert.True(t, ok, "one token refilled")
	ok, _ = limiter.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	now = now.Add(2 * time.Hour)
	limiter.sweep()
	assert.Empty(t, limiter.buckets)
}

type mockCounterTable struct {
	mock.Mock
}

func (m *mockCounterTable) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.UpdateItemOutput), args.Error(1)
}

func (m *mockCounterTable) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DeleteItemOutput), args.Error(1)
}

func TestDistributedRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("under the limit", func(t *testing.T) {
		table := new(mockCounterTable)
		table.On("UpdateItem", ctx, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return aws.ToString(in.TableName) == "entities" && in.ConditionExpression != nil
		})).Return(&dynamodb.UpdateItemOutput{}, nil)

		ok, err := NewDistributedRateLimiter(table, "entities", 10, time.Minute).Allow(ctx, "ip:1.2.3.4")

		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("limit reached", func(t *testing.T) {
		table := new(mockCounterTable)
		table.On("UpdateItem", ctx, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("limit")})

		ok, err := NewDistributedRateLimiter(table, "entities", 10, time.Minute).Allow(ctx, "ip:1.2.3.4")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("fails open", func(t *testing.T) {
		table := new(mockCounterTable)
		table.On("UpdateItem", ctx, mock.Anything).
			Return(nil, &types.InternalServerError{Message: aws.String("boom")})

		ok, err := NewDistributedRateLimiter(table, "entities", 10, time.Minute).Allow(ctx, "ip:1.2.3.4")

		assert.Error(t, err)
		assert.True(t, ok)
	})
}
