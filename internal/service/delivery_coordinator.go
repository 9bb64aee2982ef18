package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/config"
	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/events"
	"github.com/spec-kit/marshal-client/internal/notify"
	"github.com/spec-kit/marshal-client/internal/observability"
	"github.com/spec-kit/marshal-client/internal/repository"
)

const (
	defaultBackgroundBudget = 25 * time.Second
	defaultNavigationWait   = 5 * time.Second
)

// Displayer renders a local notification.
type Displayer interface {
	Display(ctx context.Context, n notify.Notification) error
}

// SessionReader exposes the active session snapshot.
type SessionReader interface {
	Current() (domain.Session, bool)
}

// PushTokenRegistrar registers the device push token with the backend.
type PushTokenRegistrar interface {
	RegisterPushToken(ctx context.Context, token, pushToken, platform string) error
}

// DeliveryDependencies groups the coordinator collaborators.
type DeliveryDependencies struct {
	Channel    Displayer
	Navigator  notify.Navigator
	Sessions   SessionReader
	Registrar  PushTokenRegistrar
	Markers    repository.KeyValueRepository
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
}

// DeliveryCoordinator routes push messages to display and navigation across
// the foreground, background and cold-start arrival contexts. One instance
// lives for the whole process.
type DeliveryCoordinator struct {
	cfg        config.DeliveryConfig
	platform   string
	channel    Displayer
	navigator  notify.Navigator
	sessions   SessionReader
	registrar  PushTokenRegistrar
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	dedup      *deduplicator

	initialOnce sync.Once

	navMu        sync.Mutex
	navReady     bool
	pending      *domain.NavigationTarget
	pendingSeq   uint64
	pendingTimer *time.Timer

	attachMu sync.Mutex
	detach   func()

	tokenMu       sync.Mutex
	pushToken     string
	registeredFor string
}

// NewDeliveryCoordinator builds the coordinator.
func NewDeliveryCoordinator(cfg config.DeliveryConfig, platform string, deps DeliveryDependencies, logger *zap.Logger) *DeliveryCoordinator {
	if cfg.BackgroundBudget <= 0 {
		cfg.BackgroundBudget = defaultBackgroundBudget
	}
	if cfg.NavigationWait <= 0 {
		cfg.NavigationWait = defaultNavigationWait
	}
	logger = logger.Named("delivery")
	return &DeliveryCoordinator{
		cfg:        cfg,
		platform:   platform,
		channel:    deps.Channel,
		navigator:  deps.Navigator,
		sessions:   deps.Sessions,
		registrar:  deps.Registrar,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		dedup:      newDeduplicator(cfg.DedupCapacity, deps.Markers, cfg.DedupTTL, logger),
	}
}

// HandleForeground displays a message that arrived while the app is active.
func (c *DeliveryCoordinator) HandleForeground(ctx context.Context, payload domain.PushPayload) {
	c.deliver(ctx, c.event(payload, domain.ArrivalForeground))
}

// HandleBackground displays a message that arrived while the app was not
// active. It runs within the background budget, recovers panics and never
// returns an error.
func (c *DeliveryCoordinator) HandleBackground(ctx context.Context, payload domain.PushPayload) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BackgroundBudget)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordDelivery(string(domain.ArrivalBackground), "panic")
			c.logger.Error("background handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	c.deliver(ctx, c.event(payload, domain.ArrivalBackground))
}

// CheckInitialMessage handles the message that launched the app, at most once
// per process. The message was already shown by the OS, so it only becomes a
// deferred navigation request. It reports whether this call performed the check.
func (c *DeliveryCoordinator) CheckInitialMessage(ctx context.Context, payload *domain.PushPayload) bool {
	checked := false
	c.initialOnce.Do(func() {
		checked = true
		if payload == nil {
			c.logger.Debug("app not launched from a notification")
			return
		}
		ev := c.event(*payload, domain.ArrivalColdStart)
		if !c.claim(ctx, actionNavigate, ev.MessageID) {
			return
		}
		c.metrics.RecordDelivery(string(ev.Context), "navigated")
		c.navigate(ctx, ResolveTarget(ev.Payload.Data))
	})
	return checked
}

// HandleOpened navigates for a notification the user tapped while the app was running.
func (c *DeliveryCoordinator) HandleOpened(ctx context.Context, payload domain.PushPayload) {
	id := messageID(payload)
	if !c.claim(ctx, actionNavigate, id) {
		return
	}
	c.metrics.RecordDelivery(string(domain.ArrivalForeground), "navigated")
	c.navigate(ctx, ResolveTarget(payload.Data))
}

// NavigationReady marks the navigation container as mounted and flushes a
// deferred navigation request.
func (c *DeliveryCoordinator) NavigationReady(ctx context.Context) {
	c.navMu.Lock()
	c.navReady = true
	target := c.pending
	c.pending = nil
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
		c.pendingTimer = nil
	}
	c.navMu.Unlock()

	if target != nil {
		c.dispatchNavigation(ctx, *target)
	}
}

func (c *DeliveryCoordinator) pendingNavigation() (domain.NavigationTarget, bool) {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	if c.pending == nil {
		return domain.NavigationTarget{}, false
	}
	return *c.pending, true
}

// Attach registers the foreground, tap and push-token listeners on source and
// returns a single disposer. Attaching again disposes the previous registration.
func (c *DeliveryCoordinator) Attach(source events.Dispatcher) func() {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()

	if c.detach != nil {
		c.detach()
	}

	unsubscribes := []events.Unsubscribe{
		source.Subscribe(events.EventPushReceived, c.onReceived),
		source.Subscribe(events.EventPushOpened, c.onOpened),
		source.Subscribe(events.EventPushTokenRefreshed, c.onTokenRefreshed),
		source.Subscribe(events.EventSessionSaved, c.onSessionSaved),
		source.Subscribe(events.EventSessionCleared, c.onSessionCleared),
	}
	var once sync.Once
	detach := func() {
		once.Do(func() {
			for _, unsubscribe := range unsubscribes {
				unsubscribe()
			}
		})
	}
	c.detach = detach
	return detach
}

// Close disposes the listeners and drops any deferred navigation.
func (c *DeliveryCoordinator) Close() {
	c.attachMu.Lock()
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
	c.attachMu.Unlock()

	c.navMu.Lock()
	c.pending = nil
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
		c.pendingTimer = nil
	}
	c.navMu.Unlock()
}

// ResolveTarget maps push data to a screen: an event reference opens the
// event, anything else opens the notification list.
func ResolveTarget(data map[string]string) domain.NavigationTarget {
	if id := strings.TrimSpace(data["eventId"]); id != "" {
		return domain.NavigationTarget{Route: domain.RouteEventDetails, Params: map[string]string{"eventId": id}}
	}
	target := domain.NavigationTarget{Route: domain.RouteNotifications}
	if kind := strings.TrimSpace(data["type"]); kind != "" {
		target.Params = map[string]string{"type": kind}
	}
	return target
}

func (c *DeliveryCoordinator) deliver(ctx context.Context, ev domain.DeliveryEvent) {
	log := c.logger.With(zap.String("message_id", ev.MessageID), zap.String("context", string(ev.Context)))

	if !ev.Payload.Renderable() {
		c.metrics.RecordDelivery(string(ev.Context), "data_only")
		log.Debug("data-only message")
		c.publish(ctx, events.New(events.EventPushDataOnly, events.PushDataOnlyPayload{
			MessageID: ev.MessageID,
			Data:      ev.Payload.Data,
		}))
		return
	}
	if !c.claim(ctx, actionDisplay, ev.MessageID) {
		return
	}

	n := notify.Notification{
		Title: ev.Payload.Notification.Title,
		Body:  ev.Payload.Notification.Body,
		Data:  ev.Payload.Data,
	}
	if err := c.channel.Display(ctx, n); err != nil {
		c.dedup.release(context.WithoutCancel(ctx), actionDisplay, ev.MessageID)
		c.metrics.RecordDelivery(string(ev.Context), "failed")
		log.Warn("display failed", zap.Error(err))
		return
	}

	c.metrics.RecordDelivery(string(ev.Context), "displayed")
	log.Info("notification displayed")
	c.publish(ctx, events.New(events.EventPushDisplayed, events.PushDisplayedPayload{
		MessageID: ev.MessageID,
		Context:   ev.Context,
		Title:     n.Title,
		Body:      n.Body,
		EventID:   eventIDOf(ev.Payload.Data),
	}))
}

func (c *DeliveryCoordinator) claim(ctx context.Context, action, id string) bool {
	if c.dedup.claim(ctx, action, id) {
		return true
	}
	c.metrics.RecordDuplicate(action)
	c.logger.Debug("duplicate message suppressed", zap.String("message_id", id), zap.String("action", action))
	return false
}

// navigate dispatches target now, or defers it until the navigation
// container is ready. A deferred request is dropped after the navigation wait.
func (c *DeliveryCoordinator) navigate(ctx context.Context, target domain.NavigationTarget) {
	c.navMu.Lock()
	if c.navReady {
		c.navMu.Unlock()
		c.dispatchNavigation(ctx, target)
		return
	}

	c.pending = &target
	c.pendingSeq++
	seq := c.pendingSeq
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
	}
	c.pendingTimer = time.AfterFunc(c.cfg.NavigationWait, func() { c.dropPending(seq) })
	c.navMu.Unlock()

	c.logger.Debug("navigation deferred", zap.String("route", string(target.Route)))
}

func (c *DeliveryCoordinator) dropPending(seq uint64) {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	if c.pendingSeq != seq || c.pending == nil {
		return
	}
	c.logger.Warn("navigation container not ready; dropping request", zap.String("route", string(c.pending.Route)))
	c.pending = nil
	c.pendingTimer = nil
}

func (c *DeliveryCoordinator) dispatchNavigation(ctx context.Context, target domain.NavigationTarget) {
	if c.navigator == nil {
		return
	}
	if err := c.navigator.Navigate(context.WithoutCancel(ctx), target); err != nil {
		c.logger.Warn("navigation failed", zap.String("route", string(target.Route)), zap.Error(err))
	}
}

func (c *DeliveryCoordinator) onReceived(ctx context.Context, event events.Event) error {
	if payload, ok := event.Payload.(events.PushMessagePayload); ok {
		c.HandleForeground(ctx, payload.Message)
	}
	return nil
}

func (c *DeliveryCoordinator) onOpened(ctx context.Context, event events.Event) error {
	if payload, ok := event.Payload.(events.PushMessagePayload); ok {
		c.HandleOpened(ctx, payload.Message)
	}
	return nil
}

func (c *DeliveryCoordinator) onTokenRefreshed(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PushTokenPayload)
	if !ok || payload.Token == "" {
		return nil
	}
	c.tokenMu.Lock()
	changed := c.pushToken != payload.Token
	c.pushToken = payload.Token
	if changed {
		c.registeredFor = ""
	}
	c.tokenMu.Unlock()

	c.registerPushToken(ctx)
	return nil
}

func (c *DeliveryCoordinator) onSessionSaved(ctx context.Context, _ events.Event) error {
	go c.registerPushToken(context.WithoutCancel(ctx))
	return nil
}

func (c *DeliveryCoordinator) onSessionCleared(context.Context, events.Event) error {
	c.tokenMu.Lock()
	c.registeredFor = ""
	c.tokenMu.Unlock()
	return nil
}

// registerPushToken registers the latest device push token once per signed-in user.
func (c *DeliveryCoordinator) registerPushToken(ctx context.Context) {
	if c.registrar == nil || c.sessions == nil {
		return
	}
	current, ok := c.sessions.Current()
	if !ok {
		return
	}

	c.tokenMu.Lock()
	pushToken := c.pushToken
	if pushToken == "" || c.registeredFor == current.UserID {
		c.tokenMu.Unlock()
		return
	}
	c.registeredFor = current.UserID
	c.tokenMu.Unlock()

	if err := c.registrar.RegisterPushToken(ctx, current.Token, pushToken, c.platform); err != nil {
		c.tokenMu.Lock()
		if c.registeredFor == current.UserID && c.pushToken == pushToken {
			c.registeredFor = ""
		}
		c.tokenMu.Unlock()
		c.logger.Warn("register push token", zap.String("user_id", current.UserID), zap.Error(err))
		return
	}
	c.logger.Info("push token registered", zap.String("user_id", current.UserID), zap.String("push_token", observability.MaskToken(pushToken)))
}

func (c *DeliveryCoordinator) event(payload domain.PushPayload, arrival domain.ArrivalContext) domain.DeliveryEvent {
	return domain.DeliveryEvent{MessageID: messageID(payload), Payload: payload, Context: arrival}
}

func (c *DeliveryCoordinator) publish(ctx context.Context, event events.Event) {
	if c.dispatcher == nil {
		return
	}
	if err := c.dispatcher.Publish(ctx, event); err != nil {
		c.logger.Warn("delivery subscriber failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}

// messageID returns the provider id, or a fresh one for messages without an id.
// Messages without an id cannot be deduplicated.
func messageID(payload domain.PushPayload) string {
	if id := strings.TrimSpace(payload.MessageID); id != "" {
		return id
	}
	return uuid.NewString()
}

func eventIDOf(data map[string]string) *string {
	id := strings.TrimSpace(data["eventId"])
	if id == "" {
		return nil
	}
	return &id
}
