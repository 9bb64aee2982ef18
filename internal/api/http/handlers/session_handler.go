package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marshal-client/internal/api/dto"
	"github.com/spec-kit/marshal-client/internal/auth"
	"github.com/spec-kit/marshal-client/internal/domain"
	apperrors "github.com/spec-kit/marshal-client/pkg/util/errorutil"
)

// SessionAuth is the login/logout surface used by the session endpoints.
type SessionAuth interface {
	Login(ctx context.Context, email, password string) (domain.Session, error)
	Adopt(ctx context.Context, s domain.Session) (domain.TokenState, error)
	Logout(ctx context.Context)
}

// SessionReader exposes the active session.
type SessionReader interface {
	Current() (domain.Session, bool)
}

// SessionHandler exposes the session slot to the shell.
type SessionHandler struct {
	auth     SessionAuth
	sessions SessionReader
	codec    auth.TokenCodec
}

// NewSessionHandler constructs handler.
func NewSessionHandler(authService SessionAuth, sessions SessionReader, codec auth.TokenCodec) *SessionHandler {
	return &SessionHandler{auth: authService, sessions: sessions, codec: codec}
}

// Get handles GET /session.
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	current, ok := h.sessions.Current()
	if !ok {
		return apperrors.NewNoSession()
	}
	state, claims := h.codec.State(current.Token)
	return c.JSON(fiber.Map{"data": dto.NewSessionResponse(current, state, claims)})
}

// Adopt handles PUT /session.
func (h *SessionHandler) Adopt(c *fiber.Ctx) error {
	var req dto.AdoptSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Token) == "" {
		return apperrors.NewValidationError("token required", nil)
	}

	state, err := h.auth.Adopt(c.UserContext(), req.Session())
	if err != nil {
		return mapServiceError(err)
	}
	current, _ := h.sessions.Current()
	resp := dto.NewSessionResponse(current, state, auth.Decode(current.Token))
	return c.JSON(fiber.Map{"data": resp})
}

// Login handles POST /session/login.
func (h *SessionHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	sess, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return mapServiceError(err)
	}
	state, claims := h.codec.State(sess.Token)
	resp := dto.NewSessionResponse(sess, state, claims)
	resp.Token = sess.Token
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": resp})
}

// Logout handles DELETE /session.
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	h.auth.Logout(c.UserContext())
	return c.SendStatus(fiber.StatusNoContent)
}
