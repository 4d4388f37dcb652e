package service

import (
	"errors"

	authrepo "github.com/AlibekovAA/authcore/internal/auth/repository"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
)

func isPrincipalNotFound(err error) bool {
	return errors.Is(err, authrepo.ErrPrincipalNotFound)
}

// handleStoreError maps infrastructure failures to domain errors and passes
// domain errors through untouched.
func handleStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, commonerrors.ErrCircuitOpen) {
		return commonerrors.ErrServiceUnavailable.WithCause(err)
	}
	if commonerrors.IsDomainError(err) {
		return err
	}
	return commonerrors.ErrInternalError.WithCause(err)
}
