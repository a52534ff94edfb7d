package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reconcileedit/application/commands"
	"reconcileedit/application/commands/bus"
	cmdhandlers "reconcileedit/application/commands/handlers"
	"reconcileedit/application/ports"
	"reconcileedit/application/queries"
	querybus "reconcileedit/application/queries/bus"
	queryhandlers "reconcileedit/application/queries/handlers"
	"reconcileedit/application/reconciliation"
	"reconcileedit/application/sagas"
	domainconfig "reconcileedit/domain/config"
	"reconcileedit/domain/core/validators"
	"reconcileedit/infrastructure/config"
	"reconcileedit/infrastructure/messaging/eventbridge"
	logpublisher "reconcileedit/infrastructure/messaging/logging"
	"reconcileedit/infrastructure/persistence/abstractions"
	dynamostore "reconcileedit/infrastructure/persistence/dynamodb"
	"reconcileedit/infrastructure/persistence/memory"
	"reconcileedit/infrastructure/persistence/postgres"
	"reconcileedit/infrastructure/persistence/resilient"
	"reconcileedit/infrastructure/persistence/sqlite"
	"reconcileedit/interfaces/http/rest"
	"reconcileedit/pkg/auth"
	"reconcileedit/pkg/observability"
)

const developmentSecret = "development-secret-change-in-production"

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      ports.EntityStore
	Publisher  ports.EventPublisher
	CommandBus *bus.CommandBus
	QueryBus   *querybus.QueryBus
	Metrics    *observability.Collector
	Limiter    auth.RateLimiter
	Tracing    *observability.TracerProvider
	Router     *rest.Router
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// ProvideDomainConfig selects the entity rules for the environment
func ProvideDomainConfig(cfg *config.Config) *domainconfig.DomainConfig {
	return domainconfig.LoadDomainConfig(cfg.Environment)
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideWriteGuard creates the write checks shared by all stores
func ProvideWriteGuard(domainCfg *domainconfig.DomainConfig) *abstractions.WriteGuard {
	return abstractions.NewWriteGuard(validators.NewEntityValidator(domainCfg))
}

// ProvideEntityStore opens the configured store backend, wrapped in a
// circuit breaker when enabled
func ProvideEntityStore(
	ctx context.Context,
	cfg *config.Config,
	client *awsdynamodb.Client,
	guard *abstractions.WriteGuard,
	logger *zap.Logger,
) (ports.EntityStore, func(), error) {
	var (
		store   ports.EntityStore
		cleanup = func() {}
	)

	switch cfg.StoreBackend {
	case config.StoreMemory:
		store = memory.NewEntityStore(guard, logger)
	case config.StoreDynamoDB:
		store = dynamostore.NewEntityStore(client, cfg.DynamoDBTable, cfg.IndexName, guard, logger)
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store = postgres.NewEntityStore(pool, guard, logger)
		cleanup = pool.Close
	case config.StoreSQLite:
		s, err := sqlite.NewEntityStore(cfg.SQLitePath, guard, logger)
		if err != nil {
			return nil, nil, err
		}
		store = s
		cleanup = func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close sqlite store", zap.Error(err))
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger.Info("Entity store ready", zap.String("backend", cfg.StoreBackend))

	if cfg.BreakerEnabled {
		breakerCfg := resilient.DefaultBreakerConfig(cfg.StoreBackend + "-store")
		breakerCfg.Timeout = cfg.BreakerTimeout
		store = resilient.NewEntityStore(store, breakerCfg, logger)
	}
	return store, cleanup, nil
}

// ProvideHealthChecker exposes the store's Ping for readiness checks
func ProvideHealthChecker(store ports.EntityStore) ports.HealthChecker {
	if hc, ok := store.(ports.HealthChecker); ok {
		return hc
	}
	return nil
}

// ProvideEventPublisher publishes to EventBridge when a bus is configured
// and only logs events otherwise
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBusName == "" {
		return logpublisher.NewPublisher(logger)
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector("reconcile_edit")
}

// ProvideEditMetrics records edit outcomes unless metrics are disabled
func ProvideEditMetrics(cfg *config.Config, collector *observability.Collector) ports.EditMetrics {
	if !cfg.EnableMetrics {
		return cmdhandlers.NopMetrics{}
	}
	return collector
}

// ProvideTracing installs the global tracer provider when tracing is enabled
func ProvideTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	if !cfg.EnableTracing {
		return nil, func() {}, nil
	}

	var exporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		otlp, err := observability.NewOTLPExporter(ctx, cfg.OTLPEndpoint, cfg.OTLPInsecure)
		if err != nil {
			return nil, nil, err
		}
		exporter = otlp
		logger.Info("Exporting spans over OTLP", zap.String("endpoint", cfg.OTLPEndpoint))
	}

	tp, err := observability.InitTracing("reconcile-edit", cfg.Environment, exporter)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}
	return tp, cleanup, nil
}

// ProvideMatcher creates the reconciliation matcher
func ProvideMatcher(store ports.EntityStore, logger *zap.Logger) *reconciliation.Matcher {
	return reconciliation.NewMatcher(store, logger)
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(
	store ports.EntityStore,
	matcher *reconciliation.Matcher,
	publisher ports.EventPublisher,
	metrics ports.EditMetrics,
	domainCfg *domainconfig.DomainConfig,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus(bus.LoggingMiddleware(logger))

	handler := cmdhandlers.NewReconcileEditHandler(
		reconciliation.NewItemReconciler(matcher, logger),
		sagas.NewSaveCoordinator(store, publisher, domainCfg.EditSummary, logger),
		metrics,
		domainCfg,
		logger,
	)
	if err := commandBus.Register(commands.ReconcileEditCommand{}, handler); err != nil {
		return nil, err
	}
	return commandBus, nil
}

// ProvideQueryBus creates a query bus with registered handlers
func ProvideQueryBus(
	store ports.EntityStore,
	matcher *reconciliation.Matcher,
	cfg *config.Config,
	collector *observability.Collector,
	logger *zap.Logger,
) (*querybus.QueryBus, error) {
	var observer querybus.Observer
	if cfg.EnableMetrics {
		observer = collector
	}
	queryBus := querybus.NewQueryBus(observer)

	if err := queryBus.Register(queries.GetEntityQuery{}, queryhandlers.NewGetEntityHandler(store, logger)); err != nil {
		return nil, err
	}
	if err := queryBus.Register(queries.MatchEntitiesQuery{}, queryhandlers.NewMatchEntitiesHandler(matcher, logger)); err != nil {
		return nil, err
	}
	return queryBus, nil
}

// ProvideJWTValidator creates the session validator
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = developmentSecret
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     secret,
		Issuer:        cfg.JWTIssuer,
		Audience:      []string{"reconcile-edit-api"},
	})
}

// ProvideEditTokens creates the edit token issuer
func ProvideEditTokens(cfg *config.Config) (*auth.EditTokens, error) {
	secret := cfg.EditTokenSecret
	if secret == "" {
		secret = developmentSecret
	}
	return auth.NewEditTokens(secret)
}

// ProvideRateLimiter shares counters through DynamoDB when several Lambda
// instances serve the same table, and keeps them in process otherwise
func ProvideRateLimiter(ctx context.Context, cfg *config.Config, client *awsdynamodb.Client) auth.RateLimiter {
	if cfg.IsLambda && cfg.StoreBackend == config.StoreDynamoDB {
		return auth.NewDistributedRateLimiter(client, cfg.DynamoDBTable, cfg.RateLimitPerMinute, time.Minute)
	}
	limiter := auth.NewPerMinuteLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	go limiter.Run(ctx, 5*time.Minute)
	return limiter
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	validator *auth.JWTValidator,
	tokens *auth.EditTokens,
	limiter auth.RateLimiter,
	collector *observability.Collector,
	health ports.HealthChecker,
	logger *zap.Logger,
) *rest.Router {
	routerCfg := rest.RouterConfig{
		BasePath:   cfg.BasePath,
		EnableCORS: cfg.EnableCORS,
		Debug:      cfg.IsDevelopment(),
		Validator:  validator,
		EditTokens: tokens,
		Limiter:    limiter,
		Health:     health,
	}
	if cfg.EnableMetrics {
		routerCfg.Metrics = collector
	}
	return rest.NewRouter(commandBus, queryBus, routerCfg, logger)
}
