package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

var requestValidator = validator.New()

func decodeAndValidate(body io.Reader, dst any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body")
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}

	return validateStruct(dst)
}

// validateStruct runs the validate tags on dst and reports the first
// failure as a client-facing message.
func validateStruct(dst any) error {
	err := requestValidator.Struct(dst)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return fmt.Errorf("invalid request payload")
	}

	first := validationErrors[0]
	field := strings.ToLower(first.Field())
	switch first.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "email":
		return fmt.Errorf("invalid email format")
	case "min":
		return fmt.Errorf("%s must be at least %s characters", field, first.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, first.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, first.Param())
	case "gte":
		return fmt.Errorf("%s must be %s or more", field, first.Param())
	default:
		return fmt.Errorf("invalid %s", field)
	}
}
