package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// New creates a validator instance with the custom rules registered.
func New() *validator.Validate {
	v := validator.New()

	// "notblank" rejects whitespace-only strings.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true // not a string, other validators apply
		}
		return strings.TrimSpace(str) != ""
	})

	return v
}
