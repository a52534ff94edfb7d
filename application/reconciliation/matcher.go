package reconciliation

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/pkg/errors"
)

const tracerName = "reconcileedit/application/reconciliation"

// Matcher finds the stored entities holding a given statement
type Matcher struct {
	store  ports.EntityStore
	logger *zap.Logger
	tracer trace.Tracer
}

// NewMatcher creates a matcher over the store's statement index
func NewMatcher(store ports.EntityStore, logger *zap.Logger) *Matcher {
	return &Matcher{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Match returns every entity currently holding (property, value), ordered by
// ascending numeric entity id. An empty result is not an error. Candidates the
// index returns that no longer hold the statement are dropped, so a lagging
// index cannot produce a false match.
func (m *Matcher) Match(ctx context.Context, property valueobjects.PropertyID, value valueobjects.Value) ([]*entities.RevisionedEntity, error) {
	ctx, span := m.tracer.Start(ctx, "reconciliation.Match", trace.WithAttributes(
		attribute.String("reconcile.property", property.String()),
		attribute.String("reconcile.value_type", string(value.Type())),
	))
	defer span.End()

	candidates, err := m.store.LookupByStatement(ctx, property, value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		if errors.GetDomainError(err) != nil {
			return nil, err
		}
		return nil, errors.NewStoreUnavailableError("lookup", err)
	}

	want := entities.Statement{Property: property, Value: value}
	seen := make(map[string]struct{}, len(candidates))
	matches := make([]*entities.RevisionedEntity, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || c.Entity == nil {
			continue
		}
		if _, dup := seen[c.ID().String()]; dup {
			continue
		}
		if !c.Entity.HasStatement(want) {
			m.logger.Debug("Dropping stale index candidate",
				zap.String("entity_id", c.ID().String()),
				zap.String("property", property.String()),
			)
			continue
		}
		seen[c.ID().String()] = struct{}{}
		matches = append(matches, c)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ID().Compare(matches[j].ID()) < 0
	})

	span.SetAttributes(attribute.Int("reconcile.matches", len(matches)))
	return matches, nil
}
