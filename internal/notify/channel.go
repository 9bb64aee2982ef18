package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/config"
	"github.com/spec-kit/marshal-client/internal/domain"
)

// ErrChannelUnavailable wraps a failed channel creation.
var ErrChannelUnavailable = errors.New("notification channel unavailable")

// ChannelSpec describes the delivery channel to create.
type ChannelSpec struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Importance string `json:"importance"`
	Sound      string `json:"sound"`
}

// Notification is the content of a local notification.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// AndroidOptions are Android presentation flags.
type AndroidOptions struct {
	ChannelID   string `json:"channelId"`
	Importance  string `json:"importance"`
	Sound       string `json:"sound"`
	PressAction string `json:"pressAction"`
}

// ForegroundPresentation controls how iOS shows a notification while the app is active.
type ForegroundPresentation struct {
	Alert bool `json:"alert"`
	Badge bool `json:"badge"`
	Sound bool `json:"sound"`
}

// IOSOptions are iOS presentation flags.
type IOSOptions struct {
	Sound                  string                 `json:"sound"`
	BadgeIncrement         int                    `json:"badgeIncrement"`
	ForegroundPresentation ForegroundPresentation `json:"foregroundPresentationOptions"`
}

// Presentation carries the platform-specific flags for one display.
type Presentation struct {
	Android *AndroidOptions `json:"android,omitempty"`
	IOS     *IOSOptions     `json:"ios,omitempty"`
}

// DisplayRequest is what a Presenter renders.
type DisplayRequest struct {
	Notification
	ChannelID    string       `json:"channelId"`
	Presentation Presentation `json:"presentation"`
}

// Presenter renders notifications on the device.
type Presenter interface {
	// CreateChannel must be idempotent and return the channel id to display on.
	CreateChannel(ctx context.Context, spec ChannelSpec) (string, error)
	Display(ctx context.Context, req DisplayRequest) error
}

// BadgeWriter sets the app icon badge.
type BadgeWriter interface {
	SetBadge(ctx context.Context, count int) error
}

// Navigator asks the shell to open a screen.
type Navigator interface {
	Navigate(ctx context.Context, target domain.NavigationTarget) error
}

// Channel creates the delivery channel once and renders notifications on it.
// It holds no UI state and is safe to use from background handlers.
type Channel struct {
	presenter Presenter
	spec      ChannelSpec
	platform  string
	logger    *zap.Logger

	mu        sync.Mutex
	channelID string
}

// NewChannel constructs a channel.
func NewChannel(presenter Presenter, spec ChannelSpec, platform string, logger *zap.Logger) *Channel {
	return &Channel{presenter: presenter, spec: spec, platform: platform, logger: logger.Named("notify")}
}

// EnsureChannel returns the channel id, creating the channel on first use.
// A failed creation is not cached; the next call retries.
func (c *Channel) EnsureChannel(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channelID != "" {
		return c.channelID, nil
	}
	id, err := c.presenter.CreateChannel(ctx, c.spec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if id == "" {
		id = c.spec.ID
	}
	c.channelID = id
	c.logger.Debug("notification channel ready", zap.String("channel_id", id))
	return id, nil
}

// Display renders n on the channel with presentation flags for the platform.
func (c *Channel) Display(ctx context.Context, n Notification) error {
	channelID, err := c.EnsureChannel(ctx)
	if err != nil {
		return err
	}
	req := DisplayRequest{
		Notification: n,
		ChannelID:    channelID,
		Presentation: c.presentation(channelID),
	}
	if err := c.presenter.Display(ctx, req); err != nil {
		return fmt.Errorf("display notification: %w", err)
	}
	return nil
}

func (c *Channel) presentation(channelID string) Presentation {
	switch c.platform {
	case config.PlatformAndroid:
		return Presentation{Android: &AndroidOptions{
			ChannelID:   channelID,
			Importance:  c.spec.Importance,
			Sound:       c.spec.Sound,
			PressAction: "default",
		}}
	case config.PlatformIOS:
		return Presentation{IOS: &IOSOptions{
			Sound:          c.spec.Sound,
			BadgeIncrement: 1,
			ForegroundPresentation: ForegroundPresentation{
				Alert: true,
				Badge: true,
				Sound: true,
			},
		}}
	default:
		return Presentation{}
	}
}
