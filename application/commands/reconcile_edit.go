package commands

import (
	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/pkg/utils"
)

// ReconcileEditCommand asks for Entity to be reconciled on ReconcileProperty
// and saved together with the auxiliary entities it references.
type ReconcileEditCommand struct {
	Entity            *entities.Entity     `validate:"required"`
	ReconcileProperty string               `validate:"required,propertyid"`
	OtherItems        []entities.OtherItem `validate:"omitempty"`
	Session           ports.EditSession
}

// Validate validates the command
func (c ReconcileEditCommand) Validate() error {
	return utils.ValidateStruct(c)
}
