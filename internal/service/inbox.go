package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/events"
	"github.com/spec-kit/marshal-client/internal/locale"
)

var (
	// ErrNoSession is returned by operations that need a signed-in user.
	ErrNoSession = errors.New("no active session")
	// ErrNotificationNotFound is returned for ids not in the local collection.
	ErrNotificationNotFound = errors.New("notification not found")
)

// NotificationAPI is the backend surface the inbox uses.
type NotificationAPI interface {
	ListNotifications(ctx context.Context, token string) ([]domain.NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, token, id string) error
	DeleteNotification(ctx context.Context, token, id string) error
}

// LocaleReader exposes the active locale.
type LocaleReader interface {
	Locale() locale.Locale
}

// LocalizedNotification is a record rendered in the active locale.
type LocalizedNotification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	EventID   *string   `json:"eventId,omitempty"`
}

// Inbox is the local notification collection. Mutations are applied
// optimistically and rolled back when the backend rejects them; every change
// recomputes the badge.
type Inbox struct {
	api        NotificationAPI
	sessions   SessionReader
	badge      *BadgeSynchronizer
	locale     LocaleReader
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	records []domain.NotificationRecord
	syncing bool
}

// NewInbox builds the inbox.
func NewInbox(api NotificationAPI, sessions SessionReader, badge *BadgeSynchronizer, loc LocaleReader, dispatcher events.Dispatcher, logger *zap.Logger) *Inbox {
	return &Inbox{
		api:        api,
		sessions:   sessions,
		badge:      badge,
		locale:     loc,
		dispatcher: dispatcher,
		logger:     logger.Named("inbox"),
		now:        time.Now,
	}
}

// Sync replaces the collection with the backend's, newest first.
func (i *Inbox) Sync(ctx context.Context) ([]domain.NotificationRecord, error) {
	current, ok := i.sessions.Current()
	if !ok {
		return nil, ErrNoSession
	}
	records, err := i.api.ListNotifications(ctx, current.Token)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(a, b int) bool { return records[a].CreatedAt.After(records[b].CreatedAt) })

	i.mu.Lock()
	i.records = records
	snapshot := i.snapshotLocked()
	change := i.recomputeLocked(ctx)
	i.mu.Unlock()

	i.publishChanged(ctx, change)
	return snapshot, nil
}

// Records returns a copy of the collection.
func (i *Inbox) Records() []domain.NotificationRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshotLocked()
}

// Localized returns the collection rendered in the active locale.
func (i *Inbox) Localized() []LocalizedNotification {
	l := locale.English
	if i.locale != nil {
		l = i.locale.Locale()
	}
	records := i.Records()
	out := make([]LocalizedNotification, 0, len(records))
	for _, r := range records {
		out = append(out, LocalizedNotification{
			ID:        r.ID,
			Title:     locale.Pick(l, r.TitleEn, r.TitleAr),
			Message:   locale.Pick(l, r.MessageEn, r.MessageAr),
			IsRead:    r.IsRead,
			CreatedAt: r.CreatedAt,
			EventID:   r.EventID,
		})
	}
	return out
}

// MarkRead marks id as read locally, then on the backend. A backend failure
// restores the unread flag.
func (i *Inbox) MarkRead(ctx context.Context, id string) error {
	current, ok := i.sessions.Current()
	if !ok {
		return ErrNoSession
	}

	i.mu.Lock()
	idx := i.indexLocked(id)
	if idx < 0 {
		i.mu.Unlock()
		return ErrNotificationNotFound
	}
	if i.records[idx].IsRead {
		i.mu.Unlock()
		return nil
	}
	i.records[idx].IsRead = true
	change := i.recomputeLocked(ctx)
	i.mu.Unlock()
	i.publishChanged(ctx, change)

	if err := i.api.MarkNotificationRead(ctx, current.Token, id); err != nil {
		i.logger.Warn("mark read rejected; rolling back", zap.String("notification_id", id), zap.Error(err))
		i.mu.Lock()
		if idx := i.indexLocked(id); idx >= 0 {
			i.records[idx].IsRead = false
		}
		change = i.recomputeLocked(ctx)
		i.mu.Unlock()
		i.publishChanged(ctx, change)
		return err
	}
	return nil
}

// Delete removes id locally, then on the backend. A backend failure puts the
// record back at its previous position.
func (i *Inbox) Delete(ctx context.Context, id string) error {
	current, ok := i.sessions.Current()
	if !ok {
		return ErrNoSession
	}

	i.mu.Lock()
	idx := i.indexLocked(id)
	if idx < 0 {
		i.mu.Unlock()
		return ErrNotificationNotFound
	}
	removed := i.records[idx]
	i.records = append(i.records[:idx:idx], i.records[idx+1:]...)
	change := i.recomputeLocked(ctx)
	i.mu.Unlock()
	i.publishChanged(ctx, change)

	if err := i.api.DeleteNotification(ctx, current.Token, id); err != nil {
		i.logger.Warn("delete rejected; rolling back", zap.String("notification_id", id), zap.Error(err))
		i.mu.Lock()
		if i.indexLocked(id) < 0 {
			pos := idx
			if pos > len(i.records) {
				pos = len(i.records)
			}
			i.records = append(i.records[:pos:pos], append([]domain.NotificationRecord{removed}, i.records[pos:]...)...)
		}
		change = i.recomputeLocked(ctx)
		i.mu.Unlock()
		i.publishChanged(ctx, change)
		return err
	}
	return nil
}

// Reset empties the collection, for example after logout.
func (i *Inbox) Reset(ctx context.Context) {
	i.mu.Lock()
	i.records = nil
	change := i.recomputeLocked(ctx)
	i.mu.Unlock()
	i.publishChanged(ctx, change)
}

// Attach keeps the inbox in step with delivery and session events.
func (i *Inbox) Attach(dispatcher events.Dispatcher) func() {
	unsubscribes := []events.Unsubscribe{
		dispatcher.Subscribe(events.EventPushDisplayed, i.onDisplayed),
		dispatcher.Subscribe(events.EventPushDataOnly, i.onDataOnly),
		dispatcher.Subscribe(events.EventSessionCleared, func(ctx context.Context, _ events.Event) error {
			i.Reset(ctx)
			return nil
		}),
	}
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}

// onDisplayed inserts a just-displayed message as unread.
func (i *Inbox) onDisplayed(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PushDisplayedPayload)
	if !ok {
		return nil
	}

	i.mu.Lock()
	if i.indexLocked(payload.MessageID) >= 0 {
		i.mu.Unlock()
		return nil
	}
	record := domain.NotificationRecord{
		ID:        payload.MessageID,
		TitleEn:   payload.Title,
		TitleAr:   payload.Title,
		MessageEn: payload.Body,
		MessageAr: payload.Body,
		CreatedAt: i.now().UTC(),
		EventID:   payload.EventID,
	}
	i.records = append([]domain.NotificationRecord{record}, i.records...)
	change := i.recomputeLocked(ctx)
	i.mu.Unlock()

	i.publishChanged(ctx, change)
	return nil
}

// onDataOnly refreshes the collection in the background. Overlapping
// refreshes collapse into one.
func (i *Inbox) onDataOnly(ctx context.Context, _ events.Event) error {
	if _, ok := i.sessions.Current(); !ok {
		return nil
	}
	i.mu.Lock()
	if i.syncing {
		i.mu.Unlock()
		return nil
	}
	i.syncing = true
	i.mu.Unlock()

	go func() {
		defer func() {
			i.mu.Lock()
			i.syncing = false
			i.mu.Unlock()
		}()
		if _, err := i.Sync(context.WithoutCancel(ctx)); err != nil {
			i.logger.Warn("background inbox refresh failed", zap.Error(err))
		}
	}()
	return nil
}

// recomputeLocked runs under mu so badge writes follow mutation order.
func (i *Inbox) recomputeLocked(ctx context.Context) events.InboxChangedPayload {
	unread := i.badge.Recompute(ctx, i.records)
	return events.InboxChangedPayload{Unread: unread, Total: len(i.records)}
}

func (i *Inbox) publishChanged(ctx context.Context, payload events.InboxChangedPayload) {
	if i.dispatcher == nil {
		return
	}
	if err := i.dispatcher.Publish(ctx, events.New(events.EventInboxChanged, payload)); err != nil {
		i.logger.Warn("inbox subscriber failed", zap.Error(err))
	}
}

func (i *Inbox) indexLocked(id string) int {
	for idx, r := range i.records {
		if r.ID == id {
			return idx
		}
	}
	return -1
}

func (i *Inbox) snapshotLocked() []domain.NotificationRecord {
	if i.records == nil {
		return nil
	}
	return append([]domain.NotificationRecord(nil), i.records...)
}
