package handlers

import (
	"errors"

	"github.com/spec-kit/marshal-client/internal/auth"
	"github.com/spec-kit/marshal-client/internal/locale"
	"github.com/spec-kit/marshal-client/internal/service"
	"github.com/spec-kit/marshal-client/internal/validation"
	apperrors "github.com/spec-kit/marshal-client/pkg/util/errorutil"
)

// mapServiceError translates service errors into bridge responses. Anything
// unrecognised came from the backend call.
func mapServiceError(err error) error {
	if err == nil {
		return nil
	}
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return apperrors.NewInvalidPayload("invalid push payload", map[string]any{"violations": verr.Violations})
	case errors.Is(err, service.ErrNoSession):
		return apperrors.NewNoSession()
	case errors.Is(err, service.ErrNotificationNotFound):
		return apperrors.NewNotFound("notification", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		return apperrors.NewUnauthorized("invalid credentials")
	case errors.Is(err, auth.ErrTokenExpired):
		return apperrors.NewUnauthorized("token expired")
	case errors.Is(err, locale.ErrUnsupportedLocale):
		return apperrors.NewValidationError(err.Error(), nil)
	default:
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		return apperrors.NewBackendUnavailable(err)
	}
}
