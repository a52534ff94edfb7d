package sagas

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/application/reconciliation"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/domain/events"
	"reconcileedit/pkg/errors"
)

// SaveResult is the outcome of a coordinated save. When OK is false, Failure
// holds the first failure and MainWritten tells whether the main entity was
// written; auxiliary entities created before the failure stay in the store.
type SaveResult struct {
	OK               bool
	EntityID         valueobjects.EntityID
	RevisionID       valueobjects.RevisionID
	Failure          *errors.DomainError
	AuxiliaryCreated []valueobjects.EntityID
	AuxiliarySkipped int
	MainWritten      bool
	SagaID           string
}

// saveState is the state shared by the steps of one save
type saveState struct {
	result *SaveResult
	main   *entities.RevisionedEntity
}

// SaveCoordinator writes a reconciled item and its auxiliary entities. It is
// the only component that calls the store's write operations.
type SaveCoordinator struct {
	store     ports.EntityStore
	publisher ports.EventPublisher
	summary   string
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSaveCoordinator creates a coordinator. publisher may be nil.
func NewSaveCoordinator(store ports.EntityStore, publisher ports.EventPublisher, summary string, logger *zap.Logger) *SaveCoordinator {
	return &SaveCoordinator{
		store:     store,
		publisher: publisher,
		summary:   summary,
		logger:    logger,
		tracer:    otel.Tracer("reconcileedit/application/sagas"),
		now:       time.Now,
	}
}

// Save persists the auxiliary entities in list order and then the main
// entity. Items that already carry a revision, and items that are the
// reconciled entity itself, are skipped. The first failed write stops the
// save; nothing already written is rolled back. The returned error is the
// result's Failure when OK is false.
func (c *SaveCoordinator) Save(
	ctx context.Context,
	reconciled *reconciliation.ReconciledItem,
	otherItems []entities.OtherItem,
	session ports.EditSession,
) (*SaveResult, error) {
	ctx, span := c.tracer.Start(ctx, "sagas.SaveCoordinator.Save", trace.WithAttributes(
		attribute.Bool("reconcile.is_new", reconciled.IsNew),
		attribute.Int("reconcile.other_items", len(otherItems)),
	))
	defer span.End()

	result := &SaveResult{}

	if !session.Authorized {
		result.Failure = errors.NewPermissionDeniedError("session is not authorized to edit")
		span.SetStatus(codes.Error, result.Failure.Code)
		return result, result.Failure
	}

	saga := NewSaga[saveState]("ReconciliationSave", c.logger).
		SetMetadata("user_id", session.UserID).
		SetMetadata("is_new", reconciled.IsNew)
	result.SagaID = saga.GetID()

	for i, other := range otherItems {
		if other.IsDurable() {
			result.AuxiliarySkipped++
			continue
		}
		if other.Entity == reconciled.Item || other.Entity == reconciled.Input {
			result.AuxiliarySkipped++
			continue
		}
		aux := other.Entity
		saga.AddStep(fmt.Sprintf("create-auxiliary-%d", i), func(ctx context.Context, st *saveState) error {
			created, err := c.store.CreateEntity(ctx, aux, session, c.summary)
			if err != nil {
				return err
			}
			st.result.AuxiliaryCreated = append(st.result.AuxiliaryCreated, created.ID())
			return nil
		})
	}

	saga.AddStep("write-main", func(ctx context.Context, st *saveState) error {
		var (
			written *entities.RevisionedEntity
			err     error
		)
		if reconciled.IsNew {
			written, err = c.store.CreateEntity(ctx, reconciled.Item, session, c.summary)
		} else {
			written, err = c.store.UpdateEntity(ctx, reconciled.Item, reconciled.BaseRevision, session, c.summary)
			if stderrors.Is(err, errors.ErrEntityNotFound) {
				// the matched entity went away after reconciliation
				err = errors.NewEditConflictError(reconciled.Item.ID().String(), reconciled.BaseRevision.Int64()).WithCause(err)
			}
		}
		if err != nil {
			return err
		}
		st.main = written
		st.result.MainWritten = true
		return nil
	})

	state := &saveState{result: result}
	if err := saga.Execute(ctx, state); err != nil {
		result.Failure = toSaveFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, result.Failure.Code)
		c.logger.Warn("Reconciliation save failed",
			zap.String("saga_id", result.SagaID),
			zap.String("error_code", result.Failure.Code),
			zap.Int("auxiliary_created", len(result.AuxiliaryCreated)),
			zap.Bool("main_written", result.MainWritten),
		)
		return result, result.Failure
	}

	result.OK = true
	result.EntityID = state.main.ID()
	result.RevisionID = state.main.Revision
	span.SetAttributes(
		attribute.String("entity.id", result.EntityID.String()),
		attribute.Int64("entity.revision", result.RevisionID.Int64()),
	)

	c.publish(ctx, reconciled, result, session)
	return result, nil
}

// publish announces the write. Failures are logged and never affect the result.
func (c *SaveCoordinator) publish(ctx context.Context, reconciled *reconciliation.ReconciledItem, result *SaveResult, session ports.EditSession) {
	if c.publisher == nil {
		return
	}
	event := events.NewEntityReconciled(
		result.EntityID,
		result.RevisionID,
		reconciled.IsNew,
		reconciled.Property,
		len(result.AuxiliaryCreated),
		session.UserID,
		c.now(),
	)
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("Failed to publish reconciliation event",
			zap.String("entity_id", result.EntityID.String()),
			zap.Error(err),
		)
	}
}

// toSaveFailure maps a step error onto the save error taxonomy
func toSaveFailure(err error) *errors.DomainError {
	if de := errors.GetDomainError(err); de != nil {
		return de
	}
	failure := errors.NewStoreUnavailableError("save", err)
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		failure.WithDetail("cancelled", true)
	}
	return failure
}
