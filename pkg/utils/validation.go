package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("propertyid", func(fl validator.FieldLevel) bool {
		_, err := valueobjects.NewPropertyID(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("entityid", func(fl validator.FieldLevel) bool {
		_, err := valueobjects.NewEntityID(fl.Field().String())
		return err == nil
	})
	return v
}

// ValidateStruct validates a struct based on its validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError turns validator errors into a 400 AppError
func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	fields := make(map[string]interface{}, len(validationErrors))
	for _, e := range validationErrors {
		msg := formatFieldError(e)
		messages = append(messages, msg)
		fields[strings.ToLower(e.Field())] = msg
	}
	return errors.NewValidationError(strings.Join(messages, "; ")).
		WithCode("INVALID_REQUEST").
		WithDetails(fields)
}

// formatFieldError formats a single field validation error
func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s elements", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s elements", field, e.Param())
	case "propertyid":
		return fmt.Sprintf("%s must be a property ID such as P31", field)
	case "entityid":
		return fmt.Sprintf("%s must be an entity ID such as Q42", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
