//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"reconcileedit/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideDomainConfig,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideWriteGuard,
	ProvideEntityStore,
	ProvideHealthChecker,
	ProvideEventPublisher,
	ProvideMetrics,
	ProvideEditMetrics,
	ProvideTracing,
	ProvideMatcher,
	ProvideCommandBus,
	ProvideQueryBus,
	ProvideJWTValidator,
	ProvideEditTokens,
	ProvideRateLimiter,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
