package handlers

import (
	"bytes"
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marshal-client/internal/api/dto"
	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/validation"
	apperrors "github.com/spec-kit/marshal-client/pkg/util/errorutil"
)

// PushReports receives push reports from the shell.
type PushReports interface {
	Foreground(ctx context.Context, payload domain.PushPayload) error
	Background(ctx context.Context, payload domain.PushPayload)
	Launch(ctx context.Context, payload *domain.PushPayload) bool
	Opened(ctx context.Context, payload domain.PushPayload) error
	TokenRefreshed(ctx context.Context, token string) error
}

// NavigationGate is told when the shell's navigation container is mounted.
type NavigationGate interface {
	NavigationReady(ctx context.Context)
}

// PushHandler exposes push arrival endpoints.
type PushHandler struct {
	reports    PushReports
	navigation NavigationGate
}

func NewPushHandler(reports PushReports, navigation NavigationGate) *PushHandler {
	return &PushHandler{reports: reports, navigation: navigation}
}

// Foreground handles POST /push/foreground.
func (h *PushHandler) Foreground(c *fiber.Ctx) error {
	payload, err := validation.ValidatePush(c.Body())
	if err != nil {
		return mapServiceError(err)
	}
	if err := h.reports.Foreground(c.UserContext(), payload); err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// Background handles POST /push/background. It returns once handling has
// finished or the background budget ran out.
func (h *PushHandler) Background(c *fiber.Ctx) error {
	payload, err := validation.ValidatePush(c.Body())
	if err != nil {
		return mapServiceError(err)
	}
	h.reports.Background(c.UserContext(), payload)
	return c.SendStatus(fiber.StatusAccepted)
}

// Launch handles POST /push/launch. An empty or null body means the app was
// not opened from a notification.
func (h *PushHandler) Launch(c *fiber.Ctx) error {
	var payload *domain.PushPayload
	body := bytes.TrimSpace(c.Body())
	if len(body) > 0 && !bytes.Equal(body, []byte("null")) {
		p, err := validation.ValidatePush(body)
		if err != nil {
			return mapServiceError(err)
		}
		payload = &p
	}
	checked := h.reports.Launch(c.UserContext(), payload)
	return c.JSON(fiber.Map{"data": dto.LaunchResponse{Checked: checked}})
}

// Opened handles POST /push/opened.
func (h *PushHandler) Opened(c *fiber.Ctx) error {
	payload, err := validation.ValidatePush(c.Body())
	if err != nil {
		return mapServiceError(err)
	}
	if err := h.reports.Opened(c.UserContext(), payload); err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// Token handles POST /push/token.
func (h *PushHandler) Token(c *fiber.Ctx) error {
	var req dto.PushTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Token) == "" {
		return apperrors.NewValidationError("token required", nil)
	}
	if err := h.reports.TokenRefreshed(c.UserContext(), req.Token); err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// NavigationReady handles POST /navigation/ready.
func (h *PushHandler) NavigationReady(c *fiber.Ctx) error {
	h.navigation.NavigationReady(c.UserContext())
	return c.SendStatus(fiber.StatusNoContent)
}
