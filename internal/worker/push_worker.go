package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/validation"
)

// PushRouter receives decoded push reports.
type PushRouter interface {
	Route(ctx context.Context, kind string, payload *domain.PushPayload, token string) error
}

// PushWorkerConfig configures the inbound stream consumer.
type PushWorkerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Block is how long one read waits for entries; negative does not block.
	Block time.Duration
	Count int64
}

// PushWorker consumes push reports the shell writes to the inbound stream.
// Entries carry a "kind" field, a JSON "payload" and, for token reports, a "token".
type PushWorker struct {
	client redis.UniversalClient
	cfg    PushWorkerConfig
	router PushRouter
	logger *zap.Logger
}

// NewPushWorker builds the worker.
func NewPushWorker(client redis.UniversalClient, cfg PushWorkerConfig, router PushRouter, logger *zap.Logger) *PushWorker {
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	return &PushWorker{client: client, cfg: cfg, router: router, logger: logger.Named("push_worker")}
}

// EnsureGroup creates the consumer group and stream when missing.
func (w *PushWorker) EnsureGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run replays entries left unacknowledged by a previous run, then consumes
// new entries until ctx is cancelled.
func (w *PushWorker) Run(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return err
	}
	if replayed, err := w.replayPending(ctx); err != nil && ctx.Err() == nil {
		w.logger.Warn("replay pending entries", zap.Error(err))
	} else if replayed > 0 {
		w.logger.Info("replayed pending entries", zap.Int("count", replayed))
	}

	w.logger.Info("push worker started", zap.String("stream", w.cfg.Stream), zap.String("group", w.cfg.Group))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("push worker stopped")
			return nil
		default:
		}

		if _, err := w.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("stream read error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
		}
	}
}

// ProcessOnce reads one batch of new entries and returns how many were handled.
func (w *PushWorker) ProcessOnce(ctx context.Context) (int, error) {
	msgs, err := w.fetch(ctx, ">", w.cfg.Block)
	if err != nil {
		return 0, err
	}
	return w.process(ctx, msgs), nil
}

// replayPending walks this consumer's pending entries batch by batch. Each
// read starts after the last entry seen, so an entry whose ack failed is not
// read twice.
func (w *PushWorker) replayPending(ctx context.Context) (int, error) {
	start, handled := "0", 0
	for {
		msgs, err := w.fetch(ctx, start, -1)
		if err != nil {
			return handled, err
		}
		if len(msgs) == 0 {
			return handled, nil
		}
		handled += w.process(ctx, msgs)
		start = msgs[len(msgs)-1].ID
	}
}

func (w *PushWorker) fetch(ctx context.Context, start string, block time.Duration) ([]redis.XMessage, error) {
	result, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		Streams:  []string{w.cfg.Stream, start},
		Count:    w.cfg.Count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var msgs []redis.XMessage
	for _, stream := range result {
		msgs = append(msgs, stream.Messages...)
	}
	return msgs, nil
}

func (w *PushWorker) process(ctx context.Context, msgs []redis.XMessage) int {
	handled := 0
	for _, msg := range msgs {
		if err := w.handle(ctx, msg); err != nil {
			w.logger.Warn("drop push report", zap.String("entry_id", msg.ID), zap.Error(err))
		} else {
			handled++
		}
		// Reports are acked even when rejected; a malformed entry never becomes valid.
		if err := w.client.XAck(ctx, w.cfg.Stream, w.cfg.Group, msg.ID).Err(); err != nil {
			w.logger.Error("ack failed", zap.String("entry_id", msg.ID), zap.Error(err))
		}
	}
	return handled
}

func (w *PushWorker) handle(ctx context.Context, msg redis.XMessage) error {
	kind, _ := msg.Values["kind"].(string)
	token, _ := msg.Values["token"].(string)
	raw, _ := msg.Values["payload"].(string)

	var payload *domain.PushPayload
	if strings.TrimSpace(raw) != "" && raw != "null" {
		decoded, err := validation.ValidatePush([]byte(raw))
		if err != nil {
			return err
		}
		payload = &decoded
	}
	return w.router.Route(ctx, kind, payload, token)
}
