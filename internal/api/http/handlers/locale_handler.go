package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marshal-client/internal/api/dto"
	"github.com/spec-kit/marshal-client/internal/locale"
	apperrors "github.com/spec-kit/marshal-client/pkg/util/errorutil"
)

// LocaleSetter owns the active locale.
type LocaleSetter interface {
	Locale() locale.Locale
	Set(ctx context.Context, l locale.Locale) error
}

type LocaleHandler struct {
	locales LocaleSetter
}

func NewLocaleHandler(locales LocaleSetter) *LocaleHandler {
	return &LocaleHandler{locales: locales}
}

// Get handles GET /locale.
func (h *LocaleHandler) Get(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": localeResponse(h.locales.Locale())})
}

// Set handles PUT /locale.
func (h *LocaleHandler) Set(c *fiber.Ctx) error {
	var req dto.LocaleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	l, err := locale.Parse(req.Locale)
	if err != nil {
		return mapServiceError(err)
	}
	if err := h.locales.Set(c.UserContext(), l); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(fiber.Map{"data": localeResponse(l)})
}

func localeResponse(l locale.Locale) dto.LocaleResponse {
	return dto.LocaleResponse{Locale: string(l), RTL: l.RTL()}
}
