package service

import (
	"context"
	"sync"

	"github.com/spec-kit/marshal-client/internal/backend"
	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/notify"
)

type fakeDisplayer struct {
	mu    sync.Mutex
	shown []notify.Notification
	err   error
	panic bool
}

func (d *fakeDisplayer) Display(_ context.Context, n notify.Notification) error {
	if d.panic {
		panic("presenter crashed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.shown = append(d.shown, n)
	return nil
}

func (d *fakeDisplayer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shown)
}

type fakeNavigator struct {
	mu      sync.Mutex
	targets []domain.NavigationTarget
}

func (n *fakeNavigator) Navigate(_ context.Context, target domain.NavigationTarget) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
	return nil
}

func (n *fakeNavigator) all() []domain.NavigationTarget {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.NavigationTarget(nil), n.targets...)
}

type refresherFunc func(ctx context.Context, token string) (string, error)

func (f refresherFunc) Refresh(ctx context.Context, token string) (string, error) { return f(ctx, token) }

type fakeSessions struct {
	mu      sync.Mutex
	session *domain.Session
	cleared []string
}

func (s *fakeSessions) Current() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.Session{}, false
	}
	return *s.session, true
}

func (s *fakeSessions) Save(_ context.Context, sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &sess
}

func (s *fakeSessions) Clear(_ context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.cleared = append(s.cleared, reason)
}

func (s *fakeSessions) ClearIfToken(_ context.Context, token, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.Token != token {
		return false
	}
	s.session = nil
	s.cleared = append(s.cleared, reason)
	return true
}

type registration struct {
	token, pushToken, platform string
}

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []registration
	err   error
}

func (r *fakeRegistrar) RegisterPushToken(_ context.Context, token, pushToken, platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, registration{token: token, pushToken: pushToken, platform: platform})
	return r.err
}

func (r *fakeRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeBadgeWriter struct {
	mu     sync.Mutex
	values []int
}

func (w *fakeBadgeWriter) SetBadge(_ context.Context, count int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = append(w.values, count)
	return nil
}

func (w *fakeBadgeWriter) last() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.values) == 0 {
		return -1
	}
	return w.values[len(w.values)-1]
}

type fakeNotificationAPI struct {
	mu        sync.Mutex
	records   []domain.NotificationRecord
	listCalls int
	markErr   error
	deleteErr error
}

func (a *fakeNotificationAPI) ListNotifications(context.Context, string) ([]domain.NotificationRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listCalls++
	return append([]domain.NotificationRecord(nil), a.records...), nil
}

func (a *fakeNotificationAPI) MarkNotificationRead(context.Context, string, string) error {
	return a.markErr
}

func (a *fakeNotificationAPI) DeleteNotification(context.Context, string, string) error {
	return a.deleteErr
}

func (a *fakeNotificationAPI) lists() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listCalls
}

type fakeAuthAPI struct {
	result       *backend.LoginResult
	err          error
	unregistered []string
}

func (a *fakeAuthAPI) Login(context.Context, string, string) (*backend.LoginResult, error) {
	return a.result, a.err
}

func (a *fakeAuthAPI) UnregisterPushToken(_ context.Context, token string) error {
	a.unregistered = append(a.unregistered, token)
	return nil
}
