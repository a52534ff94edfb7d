package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/application/queries"
	"reconcileedit/application/queries/bus"
	"reconcileedit/application/reconciliation"
	"reconcileedit/domain/core/valueobjects"
)

// GetEntityHandler reads one entity from the store
type GetEntityHandler struct {
	store  ports.EntityStore
	logger *zap.Logger
}

// NewGetEntityHandler creates a new get entity handler
func NewGetEntityHandler(store ports.EntityStore, logger *zap.Logger) *GetEntityHandler {
	return &GetEntityHandler{store: store, logger: logger}
}

// Handle implements bus.QueryHandler
func (h *GetEntityHandler) Handle(ctx context.Context, query bus.Query) (interface{}, error) {
	q, ok := query.(queries.GetEntityQuery)
	if !ok {
		return nil, fmt.Errorf("unexpected query type %T", query)
	}

	id, err := valueobjects.NewEntityID(q.EntityID)
	if err != nil {
		return nil, err
	}

	stored, err := h.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return queries.NewEntityResult(stored), nil
}

// MatchEntitiesHandler runs the reconciliation matcher as a read-only query
type MatchEntitiesHandler struct {
	matcher *reconciliation.Matcher
	logger  *zap.Logger
}

// NewMatchEntitiesHandler creates a new match handler
func NewMatchEntitiesHandler(matcher *reconciliation.Matcher, logger *zap.Logger) *MatchEntitiesHandler {
	return &MatchEntitiesHandler{matcher: matcher, logger: logger}
}

// Handle implements bus.QueryHandler
func (h *MatchEntitiesHandler) Handle(ctx context.Context, query bus.Query) (interface{}, error) {
	q, ok := query.(queries.MatchEntitiesQuery)
	if !ok {
		return nil, fmt.Errorf("unexpected query type %T", query)
	}

	property, value, err := q.Parsed()
	if err != nil {
		return nil, err
	}

	matches, err := h.matcher.Match(ctx, property, value)
	if err != nil {
		return nil, err
	}

	result := &queries.MatchEntitiesResult{
		Matches: make([]queries.EntityResult, len(matches)),
		Unique:  len(matches) == 1,
	}
	for i, m := range matches {
		result.Matches[i] = queries.NewEntityResult(m)
	}
	return result, nil
}
