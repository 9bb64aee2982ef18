package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/marshal-client/internal/domain"
)

// Outbox command types read by the native shell.
const (
	CommandCreateChannel = "create_channel"
	CommandDisplay       = "display"
	CommandBadge         = "badge"
	CommandNavigate      = "navigate"
)

const outboxMaxLen = 1000

// StreamPresenter forwards display, badge and navigation commands to the
// native shell through a Redis stream outbox.
type StreamPresenter struct {
	client redis.UniversalClient
	stream string
}

// NewStreamPresenter constructs a presenter writing to stream.
func NewStreamPresenter(client redis.UniversalClient, stream string) *StreamPresenter {
	return &StreamPresenter{client: client, stream: stream}
}

func (p *StreamPresenter) channelsKey() string {
	return p.stream + ":channels"
}

// CreateChannel records the channel once; repeated calls do not emit a second command.
func (p *StreamPresenter) CreateChannel(ctx context.Context, spec ChannelSpec) (string, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	created, err := p.client.HSetNX(ctx, p.channelsKey(), spec.ID, payload).Result()
	if err != nil {
		return "", fmt.Errorf("register channel: %w", err)
	}
	if !created {
		return spec.ID, nil
	}
	if err := p.emit(ctx, CommandCreateChannel, payload); err != nil {
		_ = p.client.HDel(ctx, p.channelsKey(), spec.ID).Err()
		return "", err
	}
	return spec.ID, nil
}

func (p *StreamPresenter) Display(ctx context.Context, req DisplayRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return p.emit(ctx, CommandDisplay, payload)
}

func (p *StreamPresenter) SetBadge(ctx context.Context, count int) error {
	payload, err := json.Marshal(map[string]int{"count": count})
	if err != nil {
		return err
	}
	return p.emit(ctx, CommandBadge, payload)
}

func (p *StreamPresenter) Navigate(ctx context.Context, target domain.NavigationTarget) error {
	payload, err := json.Marshal(target)
	if err != nil {
		return err
	}
	return p.emit(ctx, CommandNavigate, payload)
}

func (p *StreamPresenter) emit(ctx context.Context, command string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: outboxMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    command,
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("outbox %s: %w", command, err)
	}
	return nil
}
