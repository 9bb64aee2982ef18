package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/config"
	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/notify"
	"github.com/spec-kit/marshal-client/internal/observability"
)

// BadgeSynchronizer keeps the app badge equal to the unread count of the
// current notification collection. The count is always recomputed from the
// collection, never adjusted incrementally.
type BadgeSynchronizer struct {
	writer    notify.BadgeWriter
	supported bool
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	count int
}

// NewBadgeSynchronizer builds the synchronizer. Only iOS shows a numeric
// badge; on other platforms writes are skipped.
func NewBadgeSynchronizer(writer notify.BadgeWriter, platform string, metrics *observability.Metrics, logger *zap.Logger) *BadgeSynchronizer {
	return &BadgeSynchronizer{
		writer:    writer,
		supported: writer != nil && platform == config.PlatformIOS,
		metrics:   metrics,
		logger:    logger.Named("badge"),
	}
}

// UnreadCount counts records not yet read.
func UnreadCount(records []domain.NotificationRecord) int {
	n := 0
	for _, r := range records {
		if !r.IsRead {
			n++
		}
	}
	return n
}

// Recompute sets the badge to the unread count of records and returns it.
func (b *BadgeSynchronizer) Recompute(ctx context.Context, records []domain.NotificationRecord) int {
	count := UnreadCount(records)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = count
	b.metrics.SetBadge(count)

	if !b.supported {
		return count
	}
	if err := b.writer.SetBadge(ctx, count); err != nil {
		b.logger.Warn("set badge", zap.Int("count", count), zap.Error(err))
	}
	return count
}

// Count returns the last recomputed value.
func (b *BadgeSynchronizer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
