package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	wrapped := fmt.Errorf("handler: %w", NewNoSession())
	de := ToDomainError(wrapped)
	assert.Equal(t, "NO_SESSION", de.Code)
	assert.Equal(t, http.StatusUnauthorized, de.HTTPStatus)

	de = ToDomainError(fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.Equal(t, "TIMEOUT", de.Code)
	assert.Equal(t, http.StatusGatewayTimeout, de.HTTPStatus)

	cause := errors.New("socket closed")
	de = ToDomainError(cause)
	assert.Equal(t, "INTERNAL_ERROR", de.Code)
	assert.ErrorIs(t, de, cause)
}

func TestNewBackendUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewBackendUnavailable(cause)

	de := ToDomainError(err)
	assert.Equal(t, "BACKEND_UNAVAILABLE", de.Code)
	assert.Equal(t, http.StatusBadGateway, de.HTTPStatus)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}
