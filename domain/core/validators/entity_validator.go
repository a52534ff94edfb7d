package validators

import (
	"fmt"
	"unicode/utf8"

	"reconcileedit/domain/config"
	"reconcileedit/domain/core/entities"
	"reconcileedit/pkg/errors"
)

// EntityValidator applies the content rules every store enforces before a
// write. A rejection surfaces as VALIDATION_REJECTED.
type EntityValidator struct {
	cfg *config.DomainConfig
}

// NewEntityValidator creates a validator for the given rules
func NewEntityValidator(cfg *config.DomainConfig) *EntityValidator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &EntityValidator{cfg: cfg}
}

// Validate checks an entity about to be written
func (v *EntityValidator) Validate(entity *entities.Entity) error {
	if entity == nil {
		return errors.NewValidationRejectedError("entity is missing")
	}

	if entity.IsEmpty() && !v.cfg.AllowEmptyEntities {
		return errors.NewValidationRejectedError("entity has no terms and no statements")
	}

	statements := entity.Statements()
	if len(statements) > v.cfg.MaxStatementsPerEntity {
		return errors.NewValidationRejectedError(
			fmt.Sprintf("entity has %d statements, at most %d are allowed", len(statements), v.cfg.MaxStatementsPerEntity),
		)
	}

	for _, s := range statements {
		if utf8.RuneCountInString(s.Value.Content()) > v.cfg.MaxValueLength {
			return errors.NewValidationRejectedError(
				fmt.Sprintf("value for %s exceeds %d characters", s.Property, v.cfg.MaxValueLength),
			).WithDetail("property", s.Property.String())
		}
	}

	for lang, label := range entity.Labels() {
		if utf8.RuneCountInString(label) > v.cfg.MaxLabelLength {
			return errors.NewValidationRejectedError(
				fmt.Sprintf("label exceeds %d characters", v.cfg.MaxLabelLength),
			).WithDetail("language", lang)
		}
	}

	for lang, desc := range entity.Descriptions() {
		if utf8.RuneCountInString(desc) > v.cfg.MaxDescriptionLength {
			return errors.NewValidationRejectedError(
				fmt.Sprintf("description exceeds %d characters", v.cfg.MaxDescriptionLength),
			).WithDetail("language", lang)
		}
	}

	for lang, aliases := range entity.Aliases() {
		if len(aliases) > v.cfg.MaxAliasesPerLanguage {
			return errors.NewValidationRejectedError(
				fmt.Sprintf("more than %d aliases", v.cfg.MaxAliasesPerLanguage),
			).WithDetail("language", lang)
		}
	}

	return nil
}
