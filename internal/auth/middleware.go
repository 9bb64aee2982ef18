package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marshal-client/internal/domain"
	apperrors "github.com/spec-kit/marshal-client/pkg/util/errorutil"
)

const sessionKey = "marshal_session"

// SessionSource exposes the active session to the middleware.
type SessionSource interface {
	Current() (domain.Session, bool)
}

// SessionMiddleware guards bridge routes that need a signed-in account.
type SessionMiddleware struct {
	sessions SessionSource
	codec    TokenCodec
}

// NewSessionMiddleware constructs middleware.
func NewSessionMiddleware(sessions SessionSource, codec TokenCodec) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, codec: codec}
}

// Handle rejects the request when there is no session or its token is
// already expired. The lifecycle monitor ends such sessions on its next tick.
func (m *SessionMiddleware) Handle(c *fiber.Ctx) error {
	current, ok := m.sessions.Current()
	if !ok {
		return apperrors.NewNoSession()
	}
	if state, _ := m.codec.State(current.Token); state == domain.TokenExpired {
		return apperrors.NewUnauthorized("session expired")
	}

	c.Locals(sessionKey, current)
	return c.Next()
}

// SessionFromContext retrieves the session admitted by the middleware.
func SessionFromContext(c *fiber.Ctx) (domain.Session, bool) {
	val := c.Locals(sessionKey)
	if val == nil {
		return domain.Session{}, false
	}
	s, ok := val.(domain.Session)
	return s, ok
}
