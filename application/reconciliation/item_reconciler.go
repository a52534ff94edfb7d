package reconciliation

import (
	"context"

	"go.uber.org/zap"

	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/pkg/errors"
)

// ReconciledItem is the outcome of matching one input entity against the
// store. Item is what must be written; BaseRevision is zero when IsNew.
type ReconciledItem struct {
	Item         *entities.Entity
	Input        *entities.Entity
	Property     valueobjects.PropertyID
	IsNew        bool
	BaseRevision valueobjects.RevisionID
}

// ItemReconciler decides whether an input entity creates a new entity or
// updates the single stored entity sharing its reconciliation value.
type ItemReconciler struct {
	matcher *Matcher
	logger  *zap.Logger
}

// NewItemReconciler creates a new ItemReconciler
func NewItemReconciler(matcher *Matcher, logger *zap.Logger) *ItemReconciler {
	return &ItemReconciler{
		matcher: matcher,
		logger:  logger,
	}
}

// ReconcileItem requires the input to hold exactly one value for property and
// at most one stored entity to hold that value. It performs no writes.
func (r *ItemReconciler) ReconcileItem(ctx context.Context, input *entities.Entity, property valueobjects.PropertyID) (*ReconciledItem, error) {
	values := input.ValuesFor(property)
	switch len(values) {
	case 0:
		return nil, errors.NewMissingKeyError(property.String())
	case 1:
	default:
		contents := make([]string, len(values))
		for i, v := range values {
			contents[i] = v.Content()
		}
		return nil, errors.NewAmbiguousKeyError(property.String(), contents)
	}
	key := values[0]

	matches, err := r.matcher.Match(ctx, property, key)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		r.logger.Debug("No entity matched, reconciling as new",
			zap.String("property", property.String()),
			zap.String("value", key.Content()),
		)
		return &ReconciledItem{
			Item:     input,
			Input:    input,
			Property: property,
			IsNew:    true,
		}, nil

	case 1:
		base := matches[0]
		merged := base.Entity.Clone()
		merged.MergeFrom(input)

		r.logger.Debug("Reconciled against existing entity",
			zap.String("property", property.String()),
			zap.String("entity_id", base.ID().String()),
			zap.Int64("base_revision", base.Revision.Int64()),
		)
		return &ReconciledItem{
			Item:         merged,
			Input:        input,
			Property:     property,
			IsNew:        false,
			BaseRevision: base.Revision,
		}, nil

	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID().String()
		}
		return nil, errors.NewAmbiguousMatchError(property.String(), key.Content(), ids)
	}
}
