package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/events"
)

// Kinds of push reports the shell sends.
const (
	KindForeground = "foreground"
	KindBackground = "background"
	KindLaunch     = "launch"
	KindOpened     = "opened"
	KindToken      = "token"
)

// PushIngress is the single entry point for push reports coming from the
// shell, whether over the bridge or the inbound stream. Reports that the
// running app would receive through listeners are published on the
// dispatcher; background and launch reports go to the coordinator directly.
type PushIngress struct {
	dispatcher  events.Dispatcher
	coordinator *DeliveryCoordinator
	logger      *zap.Logger
}

// NewPushIngress builds the ingress.
func NewPushIngress(dispatcher events.Dispatcher, coordinator *DeliveryCoordinator, logger *zap.Logger) *PushIngress {
	return &PushIngress{dispatcher: dispatcher, coordinator: coordinator, logger: logger.Named("ingress")}
}

func (p *PushIngress) Foreground(ctx context.Context, payload domain.PushPayload) error {
	return p.dispatcher.Publish(ctx, events.New(events.EventPushReceived, events.PushMessagePayload{Message: payload}))
}

func (p *PushIngress) Background(ctx context.Context, payload domain.PushPayload) {
	p.coordinator.HandleBackground(ctx, payload)
}

// Launch reports the launch message; nil means the app was not opened from
// a notification. It reports whether this was the first launch check.
func (p *PushIngress) Launch(ctx context.Context, payload *domain.PushPayload) bool {
	return p.coordinator.CheckInitialMessage(ctx, payload)
}

func (p *PushIngress) Opened(ctx context.Context, payload domain.PushPayload) error {
	return p.dispatcher.Publish(ctx, events.New(events.EventPushOpened, events.PushMessagePayload{Message: payload}))
}

func (p *PushIngress) TokenRefreshed(ctx context.Context, token string) error {
	return p.dispatcher.Publish(ctx, events.New(events.EventPushTokenRefreshed, events.PushTokenPayload{Token: token}))
}

// Route dispatches a report by kind. token is only used for KindToken.
func (p *PushIngress) Route(ctx context.Context, kind string, payload *domain.PushPayload, token string) error {
	switch kind {
	case KindToken:
		return p.TokenRefreshed(ctx, token)
	case KindLaunch:
		p.Launch(ctx, payload)
		return nil
	}

	if payload == nil {
		return fmt.Errorf("%s report without a message", kind)
	}
	switch kind {
	case KindForeground:
		return p.Foreground(ctx, *payload)
	case KindBackground:
		p.Background(ctx, *payload)
		return nil
	case KindOpened:
		return p.Opened(ctx, *payload)
	default:
		return fmt.Errorf("unknown push report kind %q", kind)
	}
}
