package http

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

// ValidateRequest checks struct tags and reports failing fields as
// VALIDATION_FAILED details keyed by JSON field name.
func ValidateRequest(req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return commonerrors.ErrInvalidPayload.WithCause(err)
	}

	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}

	return commonerrors.ErrValidation.
		WithMessage("request validation failed").
		WithDetails(details)
}

func ValidateUUID(s string) error {
	if s == "" {
		return commonerrors.ErrValidation.WithMessage("id is required")
	}
	if _, err := uuid.Parse(s); err != nil {
		return commonerrors.ErrValidation.WithMessage("id must be a valid uuid").WithCause(err)
	}
	return nil
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}
