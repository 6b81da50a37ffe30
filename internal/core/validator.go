package core

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"tomorrow/internal/clock"
	"tomorrow/internal/types"
)

// Validator wraps go-playground/validator with the platform's domain rules:
// the "hhmm" tag for send times and "selection_mode" for delivery modes.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the custom tags registered.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Registration only fails for an empty tag name.
	_ = v.RegisterValidation("hhmm", validateHHMM)
	_ = v.RegisterValidation("selection_mode", validateSelectionMode)

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates a request struct and translates the first failure
// into the matching validation AppError. All failing fields are reported in
// the error details so clients can fix a form in one round trip.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	details := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		details[fieldName(fe)] = fe.Tag()
	}

	first := validationErrs[0]
	return types.NewAppErrorWithDetails(
		codeForTag(first.Tag()),
		fmt.Sprintf("invalid value for field %q", fieldName(first)),
		err,
		details,
	)
}

// codeForTag maps a validation tag to the domain error code.
func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "hhmm":
		return types.ErrCodeValidationInvalidTime
	case "email":
		return types.ErrCodeValidationInvalidEmail
	case "required":
		return types.ErrCodeValidationMissingField
	case "selection_mode", "oneof":
		return types.ErrCodeValidationInvalidMode
	default:
		return types.ErrCodeValidationMissingField
	}
}

// fieldName reports the JSON-ish field name for error details.
func fieldName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

// validateHHMM accepts 24h "HH:MM" strings.
func validateHHMM(fl validator.FieldLevel) bool {
	_, _, err := clock.ParseTimeOfDay(fl.Field().String())
	return err == nil
}

// validateSelectionMode accepts the known delivery selection modes.
func validateSelectionMode(fl validator.FieldLevel) bool {
	switch types.SelectionMode(fl.Field().String()) {
	case types.SelectionRandom, types.SelectionSpecific:
		return true
	default:
		return false
	}
}
