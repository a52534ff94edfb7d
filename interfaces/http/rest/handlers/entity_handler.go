package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"reconcileedit/application/queries"
	querybus "reconcileedit/application/queries/bus"
	"reconcileedit/pkg/errors"
)

// EntityHandler serves the read-only entity endpoints
type EntityHandler struct {
	queryBus *querybus.QueryBus
	errors   *errors.ErrorHandler
	logger   *zap.Logger
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(queryBus *querybus.QueryBus, errorHandler *errors.ErrorHandler, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{queryBus: queryBus, errors: errorHandler, logger: logger}
}

// GetEntity handles GET /entities/{entityID}
func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetEntityQuery{EntityID: chi.URLParam(r, "entityID")})
}

// Match handles GET /match?property=P1&type=url&value=...
func (h *EntityHandler) Match(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.ask(w, r, queries.MatchEntitiesQuery{
		Property:  q.Get("property"),
		ValueType: q.Get("type"),
		Value:     q.Get("value"),
	})
}

func (h *EntityHandler) ask(w http.ResponseWriter, r *http.Request, query querybus.Query) {
	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		if stderrors.Is(err, querybus.ErrInvalidQuery) {
			err = errors.NewValidationError(err.Error()).WithCode("INVALID_QUERY")
		}
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
