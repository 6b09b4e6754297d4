package models

import (
	"errors"
	"fmt"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the validate tags of v. Failures are returned as *flowerrors.ValidationError.
func Validate(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%s: %w", op, err)
	}

	verr := &flowerrors.ValidationError{Op: op}

	for _, fe := range validationErrors {
		if fe.Tag() == "required" {
			verr.Missing = append(verr.Missing, fe.Field())

			continue
		}

		verr.Problems = append(verr.Problems, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
	}

	return verr
}
