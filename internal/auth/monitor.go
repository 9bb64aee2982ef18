package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/events"
	"github.com/spec-kit/marshal-client/internal/observability"
)

// DefaultCheckInterval is the lifecycle tick period.
const DefaultCheckInterval = 60 * time.Second

// Refresher exchanges a token for a fresh one.
type Refresher interface {
	Refresh(ctx context.Context, token string) (string, error)
}

// TokenSource exposes the active session to the monitor.
type TokenSource interface {
	Current() (domain.Session, bool)
	// ReplaceToken stores newToken only if the session still carries oldToken.
	ReplaceToken(ctx context.Context, oldToken, newToken string) bool
}

// ExpiredFunc is called once when the session carrying token can no longer
// be kept alive. Implementations must leave a session with a different token
// untouched.
type ExpiredFunc func(ctx context.Context, token string)

// MonitorConfig tunes the monitor.
type MonitorConfig struct {
	Interval  time.Duration
	Threshold time.Duration
	Now       func() time.Time
}

// Monitor periodically classifies the active token and refreshes or expires it.
type Monitor struct {
	codec     TokenCodec
	interval  time.Duration
	refresher Refresher
	source    TokenSource
	onExpired ExpiredFunc
	logger    *zap.Logger
	metrics   *observability.Metrics

	refreshing atomic.Bool

	mu        sync.Mutex
	scheduler *cron.Cron
	cancel    context.CancelFunc
}

// NewMonitor constructs a stopped monitor.
func NewMonitor(cfg MonitorConfig, source TokenSource, refresher Refresher, onExpired ExpiredFunc, logger *zap.Logger, metrics *observability.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	codec := NewTokenCodec(cfg.Threshold)
	if cfg.Now != nil {
		codec.Now = cfg.Now
	}
	return &Monitor{
		codec:     codec,
		interval:  cfg.Interval,
		refresher: refresher,
		source:    source,
		onExpired: onExpired,
		logger:    logger.Named("token_monitor"),
		metrics:   metrics,
	}
}

// Bind starts the monitor whenever a session is saved and stops it when the
// session is cleared. The returned function removes both subscriptions.
func (m *Monitor) Bind(dispatcher events.Dispatcher) func() {
	unsubSaved := dispatcher.Subscribe(events.EventSessionSaved, func(context.Context, events.Event) error {
		m.Start()
		return nil
	})
	unsubCleared := dispatcher.Subscribe(events.EventSessionCleared, func(context.Context, events.Event) error {
		m.Stop()
		return nil
	})
	return func() {
		unsubSaved()
		unsubCleared()
	}
}

// Start schedules the periodic check and runs one check immediately.
// Starting a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduler != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cronLogger := observability.NewCronLogger(m.logger)
	scheduler := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	scheduler.Schedule(cron.Every(m.interval), cron.FuncJob(func() { m.tick(ctx) }))
	scheduler.Start()

	m.scheduler = scheduler
	m.cancel = cancel
	m.logger.Debug("token monitor started", zap.Duration("interval", m.interval))

	go m.tick(ctx)
}

// Stop cancels the schedule and any in-flight refresh. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	scheduler, cancel := m.scheduler, m.cancel
	m.scheduler, m.cancel = nil, nil
	m.mu.Unlock()

	if scheduler == nil {
		return
	}
	cancel()
	scheduler.Stop()
	m.logger.Debug("token monitor stopped")
}

func (m *Monitor) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduler != nil
}

func (m *Monitor) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	current, ok := m.source.Current()
	if !ok {
		m.Stop()
		return
	}

	m.CheckAndRefresh(ctx, current.Token,
		func(ctx context.Context, fresh string) {
			if !m.source.ReplaceToken(ctx, current.Token, fresh) {
				m.logger.Info("session changed during refresh; discarding new token")
			}
		},
		func(ctx context.Context, token string) {
			if !m.carries(token) {
				m.logger.Info("session changed during refresh; keeping the new session")
				return
			}
			m.Stop()
			if m.onExpired != nil {
				m.onExpired(ctx, token)
			}
		},
	)
}

// CheckAndRefresh classifies token and acts on it: nothing when valid, a
// refresh when expiring soon, onExpired when expired or when the refresh
// fails. A call that overlaps a pending refresh does nothing.
func (m *Monitor) CheckAndRefresh(ctx context.Context, token string, onRefreshed func(context.Context, string), onExpired ExpiredFunc) domain.TokenState {
	state, claims := m.codec.State(token)
	m.metrics.RecordTokenCheck(state.String())

	switch state {
	case domain.TokenValid:
		return state
	case domain.TokenExpired:
		fields := []zap.Field{zap.Bool("decoded", claims != nil)}
		if claims != nil {
			fields = append(fields, zap.Time("expires_at", claims.ExpiresAt))
		}
		m.logger.Info("session token expired", fields...)
		onExpired(context.WithoutCancel(ctx), token)
		return state
	}

	if !m.refreshing.CompareAndSwap(false, true) {
		m.logger.Debug("refresh already in flight; skipping tick")
		return state
	}
	defer m.refreshing.Store(false)

	m.logger.Info("session token expiring soon; refreshing",
		zap.Time("expires_at", claims.ExpiresAt),
		zap.String("token", observability.MaskToken(token)))

	fresh, err := m.refresher.Refresh(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			m.metrics.RecordRefresh("cancelled")
			m.logger.Debug("refresh cancelled", zap.Error(err))
			return state
		}
		m.metrics.RecordRefresh("failure")
		m.logger.Warn("token refresh failed; expiring session", zap.Error(err))
		onExpired(context.WithoutCancel(ctx), token)
		return domain.TokenExpired
	}

	m.metrics.RecordRefresh("success")
	onRefreshed(ctx, fresh)
	return state
}

func (m *Monitor) carries(token string) bool {
	current, ok := m.source.Current()
	return ok && current.Token == token
}
