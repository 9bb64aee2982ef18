package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marshal-client/internal/api/dto"
	"github.com/spec-kit/marshal-client/internal/auth"
	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/service"
	apperrors "github.com/spec-kit/marshal-client/pkg/util/errorutil"
)

// InboxService is the notification inbox surface.
type InboxService interface {
	Sync(ctx context.Context) ([]domain.NotificationRecord, error)
	Localized() []service.LocalizedNotification
	MarkRead(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// BadgeCounter reports the unread count last pushed to the badge.
type BadgeCounter interface {
	Count() int
}

// NotificationsHandler exposes the inbox and the badge. The inbox routes
// sit behind auth.SessionMiddleware.
type NotificationsHandler struct {
	inbox InboxService
	badge BadgeCounter
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(inbox InboxService, badge BadgeCounter) *NotificationsHandler {
	return &NotificationsHandler{inbox: inbox, badge: badge}
}

// List handles GET /notifications.
func (h *NotificationsHandler) List(c *fiber.Ctx) error {
	if _, ok := auth.SessionFromContext(c); !ok {
		return apperrors.NewNoSession()
	}
	items := h.inbox.Localized()
	unread := 0
	for _, item := range items {
		if !item.IsRead {
			unread++
		}
	}
	return c.JSON(fiber.Map{"data": dto.NotificationListResponse{Notifications: items, Unread: unread}})
}

// Sync handles POST /notifications/sync.
func (h *NotificationsHandler) Sync(c *fiber.Ctx) error {
	if _, err := h.inbox.Sync(c.UserContext()); err != nil {
		return mapServiceError(err)
	}
	return h.List(c)
}

// MarkRead handles POST /notifications/:id/read.
func (h *NotificationsHandler) MarkRead(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperrors.NewValidationError("id required", nil)
	}
	if err := h.inbox.MarkRead(c.UserContext(), id); err != nil {
		return mapServiceError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Delete handles DELETE /notifications/:id.
func (h *NotificationsHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperrors.NewValidationError("id required", nil)
	}
	if err := h.inbox.Delete(c.UserContext(), id); err != nil {
		return mapServiceError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Badge handles GET /badge.
func (h *NotificationsHandler) Badge(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": dto.BadgeResponse{Count: h.badge.Count()}})
}
