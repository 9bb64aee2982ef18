package locale

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/marshal-client/internal/events"
	"github.com/spec-kit/marshal-client/internal/repository"
)

func TestParse(t *testing.T) {
	l, err := Parse(" AR ")
	require.NoError(t, err)
	assert.Equal(t, Arabic, l)
	assert.True(t, l.RTL())

	_, err = Parse("fr")
	assert.ErrorIs(t, err, ErrUnsupportedLocale)
}

func TestPick(t *testing.T) {
	assert.Equal(t, "مرحبا", Pick(Arabic, "Hello", "مرحبا"))
	assert.Equal(t, "Hello", Pick(Arabic, "Hello", ""))
	assert.Equal(t, "Hello", Pick(English, "Hello", "مرحبا"))
}

func TestProvider_SetPersistsAndNotifies(t *testing.T) {
	kv := repository.NewMemoryKVRepository()
	dispatcher := events.NewInMemoryDispatcher()
	ctx := context.Background()

	p := NewProvider(kv, dispatcher, zaptest.NewLogger(t))
	assert.Equal(t, English, p.Locale())

	var seen []Locale
	unsubscribe := p.Subscribe(func(_ context.Context, l Locale) { seen = append(seen, l) })

	require.NoError(t, p.Set(ctx, Arabic))
	require.NoError(t, p.Set(ctx, Arabic))
	assert.Equal(t, []Locale{Arabic}, seen)

	unsubscribe()
	require.NoError(t, p.Set(ctx, English))
	assert.Equal(t, []Locale{Arabic}, seen)

	assert.ErrorIs(t, p.Set(ctx, Locale("de")), ErrUnsupportedLocale)
	assert.Equal(t, English, p.Locale())

	raw, err := kv.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "en", string(raw))
}

func TestProvider_LoadRestoresPersistedLocale(t *testing.T) {
	kv := repository.NewMemoryKVRepository()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, StorageKey, []byte("ar"), 0))

	p := NewProvider(kv, events.NewInMemoryDispatcher(), zaptest.NewLogger(t))
	assert.Equal(t, Arabic, p.Load(ctx))
	assert.Equal(t, Arabic, p.Locale())
}

func TestProvider_LoadIgnoresGarbage(t *testing.T) {
	kv := repository.NewMemoryKVRepository()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, StorageKey, []byte("klingon"), 0))

	p := NewProvider(kv, events.NewInMemoryDispatcher(), zaptest.NewLogger(t))
	assert.Equal(t, English, p.Load(ctx))
}
