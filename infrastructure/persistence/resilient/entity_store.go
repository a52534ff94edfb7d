package resilient

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/pkg/errors"
)

// BreakerConfig holds configuration for the store circuit breaker
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns a default configuration for the store breaker
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// EntityStore decorates an EntityStore with a circuit breaker. Only outages
// (STORE_UNAVAILABLE) count as failures; conflicts and rejections are normal
// answers from a healthy store. Calls are never retried.
type EntityStore struct {
	next    ports.EntityStore
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ ports.EntityStore = (*EntityStore)(nil)

// NewEntityStore wraps next
func NewEntityStore(next ports.EntityStore, cfg BreakerConfig, logger *zap.Logger) *EntityStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Store circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !stderrors.Is(err, errors.ErrStoreUnavailable)
		},
	})
	return &EntityStore{next: next, breaker: breaker, logger: logger}
}

// State returns the breaker state
func (s *EntityStore) State() gobreaker.State {
	return s.breaker.State()
}

// LookupByStatement implements ports.EntityStore
func (s *EntityStore) LookupByStatement(ctx context.Context, property valueobjects.PropertyID, value valueobjects.Value) ([]*entities.RevisionedEntity, error) {
	out, err := s.execute("lookup", func() (interface{}, error) {
		return s.next.LookupByStatement(ctx, property, value)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*entities.RevisionedEntity), nil
}

// GetEntity implements ports.EntityStore
func (s *EntityStore) GetEntity(ctx context.Context, id valueobjects.EntityID) (*entities.RevisionedEntity, error) {
	return s.revisioned("get", func() (interface{}, error) {
		return s.next.GetEntity(ctx, id)
	})
}

// CreateEntity implements ports.EntityStore
func (s *EntityStore) CreateEntity(ctx context.Context, entity *entities.Entity, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	return s.revisioned("create", func() (interface{}, error) {
		return s.next.CreateEntity(ctx, entity, session, summary)
	})
}

// UpdateEntity implements ports.EntityStore
func (s *EntityStore) UpdateEntity(ctx context.Context, entity *entities.Entity, baseRevision valueobjects.RevisionID, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	return s.revisioned("update", func() (interface{}, error) {
		return s.next.UpdateEntity(ctx, entity, baseRevision, session, summary)
	})
}

// Ping forwards to the wrapped store when it supports health checks
func (s *EntityStore) Ping(ctx context.Context) error {
	if hc, ok := s.next.(ports.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

func (s *EntityStore) revisioned(operation string, fn func() (interface{}, error)) (*entities.RevisionedEntity, error) {
	out, err := s.execute(operation, fn)
	if err != nil {
		return nil, err
	}
	return out.(*entities.RevisionedEntity), nil
}

func (s *EntityStore) execute(operation string, fn func() (interface{}, error)) (interface{}, error) {
	out, err := s.breaker.Execute(fn)
	switch {
	case err == nil:
		return out, nil
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		s.logger.Debug("Store call rejected by circuit breaker", zap.String("operation", operation))
		return nil, errors.NewStoreUnavailableError(operation, err).WithDetail("circuit", s.breaker.State().String())
	default:
		return nil, err
	}
}
