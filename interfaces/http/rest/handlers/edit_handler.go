package handlers

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"reconcileedit/application/commands"
	"reconcileedit/application/commands/bus"
	cmdhandlers "reconcileedit/application/commands/handlers"
	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/pkg/auth"
	"reconcileedit/pkg/errors"
	"reconcileedit/pkg/utils"
)

const maxEditBodyBytes = 2 << 20

// EditHandler serves the reconciliation edit and edit token endpoints
type EditHandler struct {
	commandBus *bus.CommandBus
	tokens     *auth.EditTokens
	errors     *errors.ErrorHandler
	logger     *zap.Logger
}

// NewEditHandler creates a new edit handler
func NewEditHandler(
	commandBus *bus.CommandBus,
	tokens *auth.EditTokens,
	errorHandler *errors.ErrorHandler,
	logger *zap.Logger,
) *EditHandler {
	return &EditHandler{
		commandBus: commandBus,
		tokens:     tokens,
		errors:     errorHandler,
		logger:     logger,
	}
}

// EditRequest is the body of POST /edit
type EditRequest struct {
	Entity     *entities.EntityDocument `json:"entity" validate:"required"`
	Reconcile  *ReconcileRequest        `json:"reconcile" validate:"required"`
	OtherItems []OtherItemRequest       `json:"otherItems,omitempty" validate:"omitempty,dive"`
	Token      string                   `json:"token,omitempty"`
}

// ReconcileRequest names the property to reconcile on. urlReconcile is the
// historical field name; property is accepted as well.
type ReconcileRequest struct {
	Version      string `json:"wikibasereconcileedit-version,omitempty"`
	URLReconcile string `json:"urlReconcile,omitempty" validate:"omitempty,propertyid"`
	Property     string `json:"property,omitempty" validate:"omitempty,propertyid"`
}

// PropertyID returns the property to reconcile on
func (r *ReconcileRequest) PropertyID() string {
	if r.Property != "" {
		return r.Property
	}
	return r.URLReconcile
}

// OtherItemRequest is an auxiliary entity. Self marks the submitted entity
// itself; a revision marks an entity that is already stored.
type OtherItemRequest struct {
	Self     bool                     `json:"self,omitempty"`
	Entity   *entities.EntityDocument `json:"entity,omitempty" validate:"required_without=Self"`
	Revision int64                    `json:"revision,omitempty" validate:"gte=0"`
}

// editEnvelope is the first decoding pass of POST /edit. Entity documents
// stay raw until the caller is authorized.
type editEnvelope struct {
	Entity     json.RawMessage   `json:"entity"`
	Reconcile  *ReconcileRequest `json:"reconcile"`
	OtherItems []json.RawMessage `json:"otherItems"`
	Token      string            `json:"token"`
}

// request decodes the entity documents held by the envelope
func (e *editEnvelope) request() (EditRequest, error) {
	req := EditRequest{Reconcile: e.Reconcile, Token: e.Token}
	if len(e.Entity) > 0 {
		if err := json.Unmarshal(e.Entity, &req.Entity); err != nil {
			return EditRequest{}, fmt.Errorf("entity: %w", err)
		}
	}
	for i, raw := range e.OtherItems {
		var item OtherItemRequest
		if err := json.Unmarshal(raw, &item); err != nil {
			return EditRequest{}, fmt.Errorf("otherItems[%d]: %w", i, err)
		}
		req.OtherItems = append(req.OtherItems, item)
	}
	return req, nil
}

// EditResponse is the body of every POST /edit answer past authorization
type EditResponse struct {
	Success          bool       `json:"success"`
	EntityID         string     `json:"entityId,omitempty"`
	RevisionID       int64      `json:"revisionId,omitempty"`
	Error            *EditError `json:"error,omitempty"`
	MainWritten      *bool      `json:"mainWritten,omitempty"`
	AuxiliaryCreated []string   `json:"auxiliaryCreated,omitempty"`
}

// EditError describes why an edit failed
type EditError struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// TokenResponse is the body of GET /token
type TokenResponse struct {
	Token string `json:"token"`
}

// Edit handles POST /edit
func (h *EditHandler) Edit(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		h.errors.HandleStatus(w, r, http.StatusUnsupportedMediaType, "the request body must be application/json")
		return
	}

	var envelope editEnvelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEditBodyBytes)).Decode(&envelope); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()).WithCode("INVALID_REQUEST"))
		return
	}

	session, ok := h.authorize(r, envelope.Token)
	if !ok {
		h.errors.Handle(w, r, errors.NewPermissionDeniedError("unauthorized access"))
		return
	}

	req, err := envelope.request()
	if err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()).WithCode("INVALID_REQUEST"))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if req.Reconcile.PropertyID() == "" {
		h.errors.Handle(w, r, errors.NewValidationError("reconcile.urlReconcile is required").WithCode("INVALID_REQUEST"))
		return
	}

	cmd := req.toCommand(session)
	out, err := h.commandBus.Send(r.Context(), cmd)
	result, _ := out.(*cmdhandlers.ReconcileEditResult)

	if err != nil {
		if result == nil || result.SaveResult == nil {
			h.errors.Handle(w, r, err)
			return
		}
		h.respondSaveFailure(w, result)
		return
	}

	respondJSON(w, http.StatusOK, EditResponse{
		Success:    true,
		EntityID:   result.EntityID.String(),
		RevisionID: result.RevisionID.Int64(),
	})
}

// Token handles GET /token
func (h *EditHandler) Token(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, errors.NewUnauthorizedError("a session is required to obtain an edit token"))
		return
	}
	respondJSON(w, http.StatusOK, TokenResponse{Token: h.tokens.Issue(user.UserID)})
}

// authorize resolves the edit token for the caller. Bearer sessions cannot
// be forged cross-site, so they use the token issued for the user; cookie
// sessions must send the token in the body.
func (h *EditHandler) authorize(r *http.Request, bodyToken string) (ports.EditSession, bool) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		return ports.EditSession{}, false
	}

	token := bodyToken
	if user.CSRFSafe() {
		token = h.tokens.Issue(user.UserID)
	}
	if !h.tokens.Verify(user.UserID, token) {
		h.logger.Warn("Edit token mismatch",
			zap.String("user_id", user.UserID),
			zap.String("source", string(user.Source)),
		)
		return ports.EditSession{}, false
	}

	return ports.EditSession{UserID: user.UserID, Token: token, Authorized: true}, true
}

func (h *EditHandler) respondSaveFailure(w http.ResponseWriter, result *cmdhandlers.ReconcileEditResult) {
	failure := result.Failure
	status := failure.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	mainWritten := result.MainWritten
	created := make([]string, len(result.AuxiliaryCreated))
	for i, id := range result.AuxiliaryCreated {
		created[i] = id.String()
	}

	h.logger.Warn("Reconciliation edit failed",
		zap.String("code", failure.Code),
		zap.Bool("main_written", mainWritten),
		zap.Strings("auxiliary_created", created),
	)

	respondJSON(w, status, EditResponse{
		Success: false,
		Error: &EditError{
			Type:      string(failure.Type),
			Code:      failure.Code,
			Message:   failure.Message,
			Retryable: failure.Retryable,
		},
		MainWritten:      &mainWritten,
		AuxiliaryCreated: created,
	})
}

// toCommand maps the request onto the domain. A self reference shares the
// submitted entity so the coordinator recognizes it.
func (req *EditRequest) toCommand(session ports.EditSession) commands.ReconcileEditCommand {
	entity := entities.ReconstructEntity(*req.Entity)

	otherItems := make([]entities.OtherItem, 0, len(req.OtherItems))
	for _, item := range req.OtherItems {
		if item.Self {
			otherItems = append(otherItems, entities.OtherItem{Entity: entity})
			continue
		}
		otherItems = append(otherItems, entities.OtherItem{
			Entity:   entities.ReconstructEntity(*item.Entity),
			Revision: valueobjects.RevisionID(item.Revision),
		})
	}

	return commands.ReconcileEditCommand{
		Entity:            entity,
		ReconcileProperty: req.Reconcile.PropertyID(),
		OtherItems:        otherItems,
		Session:           session,
	}
}
