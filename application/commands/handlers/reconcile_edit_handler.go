package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"reconcileedit/application/commands"
	"reconcileedit/application/commands/bus"
	"reconcileedit/application/ports"
	"reconcileedit/application/reconciliation"
	"reconcileedit/application/sagas"
	"reconcileedit/domain/config"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/pkg/errors"
)

// ReconcileEditResult is returned by the handler even when the save failed,
// so callers can tell which writes happened.
type ReconcileEditResult struct {
	*sagas.SaveResult
	IsNew        bool
	BaseRevision valueobjects.RevisionID
}

// ReconcileEditHandler reconciles the submitted entity and coordinates the save
type ReconcileEditHandler struct {
	reconciler  *reconciliation.ItemReconciler
	coordinator *sagas.SaveCoordinator
	metrics     ports.EditMetrics
	cfg         *config.DomainConfig
	logger      *zap.Logger
}

// NewReconcileEditHandler creates a new reconcile edit handler
func NewReconcileEditHandler(
	reconciler *reconciliation.ItemReconciler,
	coordinator *sagas.SaveCoordinator,
	metrics ports.EditMetrics,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *ReconcileEditHandler {
	return &ReconcileEditHandler{
		reconciler:  reconciler,
		coordinator: coordinator,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
	}
}

// Handle implements bus.CommandHandler
func (h *ReconcileEditHandler) Handle(ctx context.Context, cmd bus.Command) (interface{}, error) {
	c, ok := cmd.(commands.ReconcileEditCommand)
	if !ok {
		return nil, fmt.Errorf("unexpected command type %T", cmd)
	}

	if !c.Session.Authorized {
		return nil, errors.NewPermissionDeniedError("session is not authorized to edit")
	}

	if len(c.OtherItems) > h.cfg.MaxOtherItems {
		return nil, errors.NewValidationError(
			fmt.Sprintf("at most %d other items may be submitted", h.cfg.MaxOtherItems),
		).WithCode("TOO_MANY_OTHER_ITEMS")
	}

	property, err := valueobjects.NewPropertyID(c.ReconcileProperty)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	item, err := h.reconciler.ReconcileItem(ctx, c.Entity, property)
	if err != nil {
		if de := errors.GetDomainError(err); de != nil {
			h.metrics.ObserveReconciliation(de.Code)
		}
		return nil, err
	}
	if item.IsNew {
		h.metrics.ObserveReconciliation("new")
	} else {
		h.metrics.ObserveReconciliation("update")
	}

	result, err := h.coordinator.Save(ctx, item, c.OtherItems, c.Session)

	code := ""
	if result.Failure != nil {
		code = result.Failure.Code
	}
	h.metrics.ObserveSave(code, len(result.AuxiliaryCreated))

	out := &ReconcileEditResult{
		SaveResult:   result,
		IsNew:        item.IsNew,
		BaseRevision: item.BaseRevision,
	}
	if err != nil {
		return out, err
	}

	h.logger.Info("Reconciliation edit saved",
		zap.String("entity_id", result.EntityID.String()),
		zap.Int64("revision_id", result.RevisionID.Int64()),
		zap.Bool("is_new", item.IsNew),
		zap.Int("auxiliary_created", len(result.AuxiliaryCreated)),
		zap.String("user_id", c.Session.UserID),
	)
	return out, nil
}

// NopMetrics discards all observations
type NopMetrics struct{}

func (NopMetrics) ObserveReconciliation(string) {}
func (NopMetrics) ObserveSave(string, int)      {}
