package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/marshal-client/internal/api/http/handlers"
	"github.com/spec-kit/marshal-client/internal/auth"
	"github.com/spec-kit/marshal-client/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Session        *handlers.SessionHandler
	Push           *handlers.PushHandler
	Notifications  *handlers.NotificationsHandler
	Locale         *handlers.LocaleHandler
	RequireSession *auth.SessionMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires the bridge routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	session := app.Group("/session")
	session.Get("", cfg.Session.Get)
	session.Put("", cfg.Session.Adopt)
	session.Delete("", cfg.Session.Logout)
	session.Post("/login", cfg.Session.Login)

	push := app.Group("/push")
	push.Post("/foreground", cfg.Push.Foreground)
	push.Post("/background", cfg.Push.Background)
	push.Post("/launch", cfg.Push.Launch)
	push.Post("/opened", cfg.Push.Opened)
	push.Post("/token", cfg.Push.Token)
	app.Post("/navigation/ready", cfg.Push.NavigationReady)

	notifications := app.Group("/notifications", cfg.RequireSession.Handle)
	notifications.Get("", cfg.Notifications.List)
	notifications.Post("/sync", cfg.Notifications.Sync)
	notifications.Post("/:id/read", cfg.Notifications.MarkRead)
	notifications.Delete("/:id", cfg.Notifications.Delete)
	app.Get("/badge", cfg.Notifications.Badge)

	app.Get("/locale", cfg.Locale.Get)
	app.Put("/locale", cfg.Locale.Set)
}
