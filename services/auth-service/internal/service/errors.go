package service

import (
	"errors"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

func errInvalidCredentials() error {
	return pkgerrors.New(pkgerrors.ErrInvalidCredentials, "invalid credentials")
}

func errAccountLocked() error {
	return pkgerrors.New(pkgerrors.ErrAccountLocked, "account locked")
}

func errAccountInactive() error {
	return pkgerrors.New(pkgerrors.ErrAccountInactive, "account inactive")
}

func errInvalidSession() error {
	return pkgerrors.New(pkgerrors.ErrInvalidSession, "invalid session")
}

func errSessionExpired() error {
	return pkgerrors.New(pkgerrors.ErrSessionExpired, "session expired")
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
