package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/marshal-client/internal/config"
	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/events"
	"github.com/spec-kit/marshal-client/internal/observability"
	"github.com/spec-kit/marshal-client/internal/repository"
)

type coordinatorFixture struct {
	coordinator *DeliveryCoordinator
	display     *fakeDisplayer
	navigator   *fakeNavigator
	sessions    *fakeSessions
	registrar   *fakeRegistrar
	dispatcher  events.Dispatcher
	markers     repository.KeyValueRepository
}

func newCoordinatorFixture(t *testing.T, markers repository.KeyValueRepository) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		display:    &fakeDisplayer{},
		navigator:  &fakeNavigator{},
		sessions:   &fakeSessions{},
		registrar:  &fakeRegistrar{},
		dispatcher: events.NewInMemoryDispatcher(),
		markers:    markers,
	}
	f.coordinator = NewDeliveryCoordinator(config.DeliveryConfig{
		BackgroundBudget: time.Second,
		NavigationWait:   time.Second,
		DedupCapacity:    16,
		DedupTTL:         time.Hour,
	}, config.PlatformAndroid, DeliveryDependencies{
		Channel:    f.display,
		Navigator:  f.navigator,
		Sessions:   f.sessions,
		Registrar:  f.registrar,
		Markers:    markers,
		Dispatcher: f.dispatcher,
		Metrics:    observability.NewMetrics(),
	}, zaptest.NewLogger(t))
	t.Cleanup(f.coordinator.Close)
	return f
}

func eventMessage(id, eventID string) domain.PushPayload {
	return domain.PushPayload{
		MessageID:    id,
		Notification: &domain.PushNotification{Title: "Event updated", Body: "Gate changed"},
		Data:         map[string]string{"eventId": eventID},
	}
}

func TestDelivery_ForegroundThenColdStartReplay(t *testing.T) {
	f := newCoordinatorFixture(t, repository.NewMemoryKVRepository())
	ctx := context.Background()
	msg := eventMessage("m-1", "7")

	f.coordinator.HandleForeground(ctx, msg)
	f.coordinator.HandleForeground(ctx, msg)
	assert.True(t, f.coordinator.CheckInitialMessage(ctx, &msg))
	f.coordinator.HandleOpened(ctx, msg)
	f.coordinator.NavigationReady(ctx)

	assert.Equal(t, 1, f.display.count())
	assert.Equal(t, []domain.NavigationTarget{{
		Route:  domain.RouteEventDetails,
		Params: map[string]string{"eventId": "7"},
	}}, f.navigator.all())
}

func TestDelivery_BackgroundThenLaunchAcrossRestart(t *testing.T) {
	markers := repository.NewMemoryKVRepository()
	ctx := context.Background()
	msg := eventMessage("m-2", "9")

	first := newCoordinatorFixture(t, markers)
	first.coordinator.HandleBackground(ctx, msg)
	assert.Equal(t, 1, first.display.count())

	// a new process replays the same message as background and as the launch message
	second := newCoordinatorFixture(t, markers)
	second.coordinator.HandleBackground(ctx, msg)
	assert.Zero(t, second.display.count())

	second.coordinator.NavigationReady(ctx)
	assert.True(t, second.coordinator.CheckInitialMessage(ctx, &msg))
	assert.Len(t, second.navigator.all(), 1)

	third := newCoordinatorFixture(t, markers)
	third.coordinator.NavigationReady(ctx)
	third.coordinator.CheckInitialMessage(ctx, &msg)
	assert.Empty(t, third.navigator.all())
}

func TestDelivery_InitialMessageCheckedOnce(t *testing.T) {
	f := newCoordinatorFixture(t, nil)
	ctx := context.Background()
	f.coordinator.NavigationReady(ctx)

	assert.True(t, f.coordinator.CheckInitialMessage(ctx, nil))
	msg := eventMessage("m-3", "1")
	assert.False(t, f.coordinator.CheckInitialMessage(ctx, &msg))
	assert.Empty(t, f.navigator.all())
	assert.Zero(t, f.display.count())
}

func TestDelivery_BackgroundRecoversPanics(t *testing.T) {
	f := newCoordinatorFixture(t, nil)
	f.display.panic = true

	assert.NotPanics(t, func() {
		f.coordinator.HandleBackground(context.Background(), eventMessage("m-4", "1"))
	})
}

func TestDelivery_DisplayFailureIsSwallowed(t *testing.T) {
	f := newCoordinatorFixture(t, nil)
	f.display.err = errors.New("channel blocked")

	var displayed int
	f.dispatcher.Subscribe(events.EventPushDisplayed, func(context.Context, events.Event) error {
		displayed++
		return nil
	})

	f.coordinator.HandleForeground(context.Background(), eventMessage("m-5", "1"))
	f.coordinator.HandleBackground(context.Background(), eventMessage("m-6", "1"))
	assert.Zero(t, displayed)
}

func TestDelivery_FailedDisplayIsRetriedOnRedelivery(t *testing.T) {
	markers := repository.NewMemoryKVRepository()
	f := newCoordinatorFixture(t, markers)
	ctx := context.Background()
	msg := eventMessage("m-12", "3")

	f.display.err = errors.New("channel blocked")
	f.coordinator.HandleForeground(ctx, msg)
	assert.Zero(t, f.display.count())

	f.display.mu.Lock()
	f.display.err = nil
	f.display.mu.Unlock()
	f.coordinator.HandleForeground(ctx, msg)
	f.coordinator.HandleBackground(ctx, msg)
	assert.Equal(t, 1, f.display.count())

	_, err := markers.Get(ctx, "delivery:display:m-12")
	assert.NoError(t, err)
}

func TestDelivery_DataOnlyMessageIsNotDisplayed(t *testing.T) {
	f := newCoordinatorFixture(t, nil)

	var dataOnly []events.PushDataOnlyPayload
	f.dispatcher.Subscribe(events.EventPushDataOnly, func(_ context.Context, e events.Event) error {
		dataOnly = append(dataOnly, e.Payload.(events.PushDataOnlyPayload))
		return nil
	})

	f.coordinator.HandleForeground(context.Background(), domain.PushPayload{MessageID: "m-7", Data: map[string]string{"type": "sync"}})

	assert.Zero(t, f.display.count())
	require.Len(t, dataOnly, 1)
	assert.Equal(t, "m-7", dataOnly[0].MessageID)
}

func TestDelivery_NavigationDeferredUntilReady(t *testing.T) {
	f := newCoordinatorFixture(t, nil)
	ctx := context.Background()

	f.coordinator.HandleOpened(ctx, eventMessage("m-8", "3"))
	assert.Empty(t, f.navigator.all())

	pending, ok := f.coordinator.pendingNavigation()
	require.True(t, ok)
	assert.Equal(t, domain.RouteEventDetails, pending.Route)

	f.coordinator.NavigationReady(ctx)
	assert.Len(t, f.navigator.all(), 1)
	_, ok = f.coordinator.pendingNavigation()
	assert.False(t, ok)

	// once ready, navigation is immediate
	f.coordinator.HandleOpened(ctx, domain.PushPayload{MessageID: "m-9"})
	targets := f.navigator.all()
	require.Len(t, targets, 2)
	assert.Equal(t, domain.RouteNotifications, targets[1].Route)
}

func TestDelivery_DeferredNavigationIsDroppedAfterWait(t *testing.T) {
	f := newCoordinatorFixture(t, nil)
	f.coordinator.cfg.NavigationWait = 20 * time.Millisecond
	ctx := context.Background()

	f.coordinator.HandleOpened(ctx, eventMessage("m-10", "3"))
	assert.Eventually(t, func() bool {
		_, ok := f.coordinator.pendingNavigation()
		return !ok
	}, time.Second, 5*time.Millisecond)

	f.coordinator.NavigationReady(ctx)
	assert.Empty(t, f.navigator.all())
}

func TestDelivery_AttachRoutesListenersAndReattachReplaces(t *testing.T) {
	f := newCoordinatorFixture(t, nil)
	ctx := context.Background()
	noID := domain.PushPayload{Notification: &domain.PushNotification{Title: "t", Body: "b"}}

	f.coordinator.Attach(f.dispatcher)
	dispose := f.coordinator.Attach(f.dispatcher)

	require.NoError(t, f.dispatcher.Publish(ctx, events.New(events.EventPushReceived, events.PushMessagePayload{Message: noID})))
	assert.Equal(t, 1, f.display.count())

	dispose()
	dispose()
	require.NoError(t, f.dispatcher.Publish(ctx, events.New(events.EventPushReceived, events.PushMessagePayload{Message: noID})))
	assert.Equal(t, 1, f.display.count())
}

func TestDelivery_PushTokenRegisteredOncePerUser(t *testing.T) {
	f := newCoordinatorFixture(t, nil)
	ctx := context.Background()
	f.coordinator.Attach(f.dispatcher)

	// no session yet: the token is kept for later
	require.NoError(t, f.dispatcher.Publish(ctx, events.New(events.EventPushTokenRefreshed, events.PushTokenPayload{Token: "device-1"})))
	assert.Zero(t, f.registrar.count())

	f.sessions.Save(ctx, domain.Session{UserID: "42", Token: "session-token"})
	require.NoError(t, f.dispatcher.Publish(ctx, events.New(events.EventSessionSaved, nil)))
	assert.Eventually(t, func() bool { return f.registrar.count() == 1 }, time.Second, 5*time.Millisecond)

	// token refresh of the session token does not re-register
	require.NoError(t, f.dispatcher.Publish(ctx, events.New(events.EventSessionSaved, nil)))
	require.NoError(t, f.dispatcher.Publish(ctx, events.New(events.EventPushTokenRefreshed, events.PushTokenPayload{Token: "device-1"})))

	// a rotated device token does
	require.NoError(t, f.dispatcher.Publish(ctx, events.New(events.EventPushTokenRefreshed, events.PushTokenPayload{Token: "device-2"})))
	assert.Eventually(t, func() bool { return f.registrar.count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, f.registrar.count())

	f.registrar.mu.Lock()
	defer f.registrar.mu.Unlock()
	assert.Equal(t, registration{token: "session-token", pushToken: "device-2", platform: "android"}, f.registrar.calls[1])
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name string
		data map[string]string
		want domain.NavigationTarget
	}{
		{name: "event reference", data: map[string]string{"eventId": " 12 "}, want: domain.NavigationTarget{Route: domain.RouteEventDetails, Params: map[string]string{"eventId": "12"}}},
		{name: "typed without event", data: map[string]string{"type": "announcement"}, want: domain.NavigationTarget{Route: domain.RouteNotifications, Params: map[string]string{"type": "announcement"}}},
		{name: "no data", data: nil, want: domain.NavigationTarget{Route: domain.RouteNotifications}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveTarget(tt.data))
		})
	}
}

func TestRecentSet_EvictsOldest(t *testing.T) {
	s := newRecentSet(2)
	assert.True(t, s.add("a"))
	assert.True(t, s.add("b"))
	assert.False(t, s.add("a"))
	assert.True(t, s.add("c"))
	assert.Equal(t, 2, s.len())
	assert.True(t, s.add("a"))

	s.remove("a")
	s.remove("missing")
	assert.Equal(t, 1, s.len())
	assert.True(t, s.add("a"))
}
