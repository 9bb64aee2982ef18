// Package locale holds the active UI language and pushes changes to subscribers.
package locale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/events"
	"github.com/spec-kit/marshal-client/internal/repository"
)

// Locale is a supported UI language.
type Locale string

const (
	English Locale = "en"
	Arabic  Locale = "ar"
)

// StorageKey is where the chosen locale is persisted.
const StorageKey = "app_language"

// ErrUnsupportedLocale is returned by Set for unknown languages.
var ErrUnsupportedLocale = errors.New("unsupported locale")

// Parse normalizes s to a supported locale.
func Parse(s string) (Locale, error) {
	switch l := Locale(strings.ToLower(strings.TrimSpace(s))); l {
	case English, Arabic:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLocale, s)
	}
}

// RTL reports whether the locale is written right to left.
func (l Locale) RTL() bool { return l == Arabic }

// Pick returns the text for l, falling back to English when the translation is empty.
func Pick(l Locale, en, ar string) string {
	if l == Arabic && ar != "" {
		return ar
	}
	return en
}

// Provider owns the active locale.
type Provider struct {
	kv         repository.KeyValueRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger

	mu     sync.RWMutex
	locale Locale
}

// NewProvider constructs a provider defaulting to English.
func NewProvider(kv repository.KeyValueRepository, dispatcher events.Dispatcher, logger *zap.Logger) *Provider {
	return &Provider{kv: kv, dispatcher: dispatcher, logger: logger.Named("locale"), locale: English}
}

// Load restores the persisted locale. Missing or unreadable values keep the default.
func (p *Provider) Load(ctx context.Context) Locale {
	raw, err := p.kv.Get(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, repository.ErrKeyNotFound) {
			p.logger.Warn("read locale", zap.Error(err))
		}
		return p.Locale()
	}
	l, err := Parse(string(raw))
	if err != nil {
		p.logger.Warn("discarding stored locale", zap.String("value", string(raw)))
		return p.Locale()
	}

	p.mu.Lock()
	p.locale = l
	p.mu.Unlock()
	return l
}

// Locale returns the active locale.
func (p *Provider) Locale() Locale {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.locale
}

// Set changes the active locale, persists it and notifies subscribers.
// Persistence failures are logged; the in-memory value still changes.
func (p *Provider) Set(ctx context.Context, l Locale) error {
	if _, err := Parse(string(l)); err != nil {
		return err
	}

	p.mu.Lock()
	changed := p.locale != l
	p.locale = l
	p.mu.Unlock()

	if err := p.kv.Set(ctx, StorageKey, []byte(l), 0); err != nil {
		p.logger.Warn("persist locale", zap.Error(err))
	}
	if !changed {
		return nil
	}
	if p.dispatcher != nil {
		if err := p.dispatcher.Publish(ctx, events.New(events.EventLocaleChanged, events.LocaleChangedPayload{Locale: string(l)})); err != nil {
			p.logger.Warn("locale subscriber failed", zap.Error(err))
		}
	}
	return nil
}

// Subscribe calls fn with every new locale until the returned function is called.
func (p *Provider) Subscribe(fn func(context.Context, Locale)) events.Unsubscribe {
	return p.dispatcher.Subscribe(events.EventLocaleChanged, func(ctx context.Context, event events.Event) error {
		payload, ok := event.Payload.(events.LocaleChangedPayload)
		if !ok {
			return nil
		}
		fn(ctx, Locale(payload.Locale))
		return nil
	})
}
