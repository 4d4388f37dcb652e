package service

import (
	"strings"
	"unicode"

	"github.com/AlibekovAA/authcore/internal/common/constants"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
)

func validateLoginInput(identifier, password string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || len(identifier) > constants.IdentifierMaxLen {
		return commonerrors.ErrValidation.WithMessage("identifier is required").
			WithDetails(map[string]any{"field": "identifier"})
	}
	if password == "" || len(password) > constants.PasswordMaxLength {
		return commonerrors.ErrValidation.WithMessage("password is required").
			WithDetails(map[string]any{"field": "password"})
	}
	return nil
}

func validateNewPassword(newPassword, currentPassword string) error {
	if len(newPassword) < constants.PasswordMinLength || len(newPassword) > constants.PasswordMaxLength {
		return commonerrors.ErrValidation.
			WithMessage("password must be between 8 and 72 characters").
			WithDetails(map[string]any{"field": "newPassword"})
	}

	if !isValidPassword(newPassword) {
		return commonerrors.ErrValidation.
			WithMessage("password must contain at least one letter and one digit").
			WithDetails(map[string]any{"field": "newPassword"})
	}

	if newPassword == currentPassword {
		return commonerrors.ErrValidation.
			WithMessage("new password must differ from the current password").
			WithDetails(map[string]any{"field": "newPassword"})
	}

	return nil
}

func isValidPassword(value string) bool {
	hasLetter := false
	hasDigit := false

	for _, r := range value {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
		if hasLetter && hasDigit {
			return true
		}
	}

	return false
}
