package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/auth"
	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/events"
	"github.com/spec-kit/marshal-client/internal/observability"
	"github.com/spec-kit/marshal-client/internal/repository"
)

// Storage keys.
const (
	FallbackKey      = "user_data"
	ScopedKeyPrefix  = "user_"
	ScopedIndexKey   = "user_keys"
	MigrationFlagKey = "storage_migrated_v1"
)

// LegacyKeys were used by earlier versions of the store and are always removed on Clear.
var LegacyKeys = []string{"user", "userData", "token", "session"}

// Clear reasons published with session.cleared.
const (
	ReasonLogout  = "logout"
	ReasonExpired = "expired"
)

// Option configures a Store.
type Option func(*Store)

// WithResolver scopes persisted keys by the resolved device address.
func WithResolver(r AddressResolver) Option {
	return func(s *Store) { s.resolver = r }
}

// WithSealer encrypts persisted values.
func WithSealer(sealer *Sealer) Option {
	return func(s *Store) { s.sealer = sealer }
}

// WithMetrics records persistence failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store owns the single active session. Memory is authoritative for the
// process lifetime; persistence is best effort.
type Store struct {
	kv         repository.KeyValueRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	resolver   AddressResolver
	sealer     *Sealer
	metrics    *observability.Metrics

	mu         sync.RWMutex
	current    *domain.Session
	generation uint64

	// persistMu serializes storage writes so a slow save cannot land after a clear.
	persistMu  sync.Mutex
	scopedKeys map[string]struct{}
}

// NewStore constructs a store.
func NewStore(kv repository.KeyValueRepository, dispatcher events.Dispatcher, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		kv:         kv,
		dispatcher: dispatcher,
		logger:     logger.Named("session"),
		scopedKeys: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns a snapshot of the active session.
func (s *Store) Current() (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Session{}, false
	}
	return *s.current, true
}

// Claims decodes the active session token, or returns nil.
func (s *Store) Claims() *domain.TokenClaims {
	current, ok := s.Current()
	if !ok {
		return nil
	}
	return auth.Decode(current.Token)
}

// Save replaces the active session. The new session is visible to Current
// before Save starts writing to storage. Storage failures are logged only.
func (s *Store) Save(ctx context.Context, session domain.Session) {
	s.mu.Lock()
	gen := s.activate(session)
	s.mu.Unlock()

	s.publishSaved(ctx, session)
	s.persist(ctx, session, gen)
}

// ReplaceToken swaps the token of the active session if it still carries
// oldToken. It reports false when the session changed or was cleared in the
// meantime, in which case nothing is written.
func (s *Store) ReplaceToken(ctx context.Context, oldToken, newToken string) bool {
	s.mu.Lock()
	if s.current == nil || s.current.Token != oldToken {
		s.mu.Unlock()
		return false
	}
	updated := *s.current
	updated.Token = newToken
	gen := s.activate(updated)
	s.mu.Unlock()

	s.publishSaved(ctx, updated)
	s.persist(ctx, updated, gen)
	return true
}

// activate must be called with mu held.
func (s *Store) activate(session domain.Session) uint64 {
	snapshot := session
	s.current = &snapshot
	s.generation++
	return s.generation
}

func (s *Store) persist(ctx context.Context, session domain.Session, gen uint64) {
	payload, err := json.Marshal(session)
	if err != nil {
		s.persistFailed("save", "encode session", err)
		return
	}
	sealed, err := s.sealer.Seal(payload)
	if err != nil {
		s.persistFailed("save", "seal session", err)
		return
	}

	key, scoped := s.storageKey(ctx)

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.isGeneration(gen) {
		s.logger.Debug("session changed before write; skipping", zap.String("key", key))
		return
	}
	if scoped {
		s.trackScopedKey(ctx, key)
	}
	if err := s.kv.Set(ctx, key, sealed, 0); err != nil {
		s.persistFailed("save", "persist session", err, zap.String("key", key))
		return
	}
	s.logger.Debug("session persisted", zap.String("key", key))
}

// Load restores a persisted session into memory. The scoped key is tried
// before the fallback key; finding neither means no session.
func (s *Store) Load(ctx context.Context) (domain.Session, bool) {
	if current, ok := s.Current(); ok {
		return current, true
	}

	keys := make([]string, 0, 2)
	if key, scoped := s.storageKey(ctx); scoped {
		keys = append(keys, key)
	}
	keys = append(keys, FallbackKey)

	for _, key := range keys {
		session, ok := s.read(ctx, key)
		if !ok {
			continue
		}

		s.mu.Lock()
		if s.current != nil {
			restored := *s.current
			s.mu.Unlock()
			return restored, true
		}
		s.activate(session)
		s.mu.Unlock()

		if key != FallbackKey {
			s.persistMu.Lock()
			s.scopedKeys[key] = struct{}{}
			s.persistMu.Unlock()
		}
		s.logger.Info("session restored", zap.String("key", key), zap.String("user_id", session.UserID))
		s.publishSaved(ctx, session)
		return session, true
	}
	return domain.Session{}, false
}

func (s *Store) read(ctx context.Context, key string) (domain.Session, bool) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrKeyNotFound) {
			s.persistFailed("load", "read session", err, zap.String("key", key))
		}
		return domain.Session{}, false
	}
	plain, err := s.sealer.Open(raw)
	if err != nil {
		s.persistFailed("load", "open sealed session", err, zap.String("key", key))
		return domain.Session{}, false
	}
	var session domain.Session
	if err := json.Unmarshal(plain, &session); err != nil || session.IsZero() {
		s.logger.Warn("discarding unreadable session", zap.String("key", key), zap.Error(err))
		return domain.Session{}, false
	}
	return session, true
}

// Clear drops the active session and removes every key a session may have
// been persisted under.
func (s *Store) Clear(ctx context.Context, reason string) {
	s.mu.Lock()
	hadSession := s.current != nil
	s.current = nil
	s.generation++
	s.mu.Unlock()

	s.wipe(ctx, reason, hadSession)
}

// ClearIfToken clears the session only while it still carries token. It
// reports false, touching nothing, when another session replaced it.
func (s *Store) ClearIfToken(ctx context.Context, token, reason string) bool {
	s.mu.Lock()
	if s.current == nil || s.current.Token != token {
		s.mu.Unlock()
		return false
	}
	s.current = nil
	s.generation++
	s.mu.Unlock()

	s.wipe(ctx, reason, true)
	return true
}

func (s *Store) wipe(ctx context.Context, reason string, hadSession bool) {
	if hadSession {
		s.publish(ctx, events.New(events.EventSessionCleared, events.SessionClearedPayload{Reason: reason}))
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	keys := s.residualKeys(ctx)
	if err := s.kv.Delete(ctx, keys...); err != nil {
		s.persistFailed("clear", "remove session keys", err, zap.Strings("keys", keys))
		return
	}
	s.scopedKeys = make(map[string]struct{})
	s.logger.Info("session cleared", zap.String("reason", reason), zap.Int("keys", len(keys)))
}

// Migrate clears storage left by earlier versions once, on first launch.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.kv.Get(ctx, MigrationFlagKey); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrKeyNotFound) {
		return err
	}

	s.persistMu.Lock()
	keys := s.residualKeys(ctx)
	err := s.kv.Delete(ctx, keys...)
	s.persistMu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Info("storage migrated", zap.Int("removed_keys", len(keys)))
	return s.kv.Set(ctx, MigrationFlagKey, []byte("1"), 0)
}

// residualKeys must be called with persistMu held.
func (s *Store) residualKeys(ctx context.Context) []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0, 8)
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	if key, scoped := s.storageKey(ctx); scoped {
		add(key)
	}
	for key := range s.scopedKeys {
		add(key)
	}
	for _, key := range s.indexedKeys(ctx) {
		add(key)
	}
	add(ScopedIndexKey)
	add(FallbackKey)
	for _, key := range LegacyKeys {
		add(key)
	}
	return keys
}

// storageKey resolves the scoped key, falling back to the fixed key.
func (s *Store) storageKey(ctx context.Context) (string, bool) {
	if s.resolver == nil {
		return FallbackKey, false
	}
	addr, err := s.resolver.Resolve(ctx)
	if err != nil || addr == "" {
		s.logger.Debug("address unresolved; using fallback key", zap.Error(err))
		return FallbackKey, false
	}
	return ScopedKeyPrefix + addr, true
}

// trackScopedKey records key in memory and in the persisted index so a later
// process can remove it even when the address no longer resolves.
// Must be called with persistMu held.
func (s *Store) trackScopedKey(ctx context.Context, key string) {
	s.scopedKeys[key] = struct{}{}

	indexed := s.indexedKeys(ctx)
	for _, k := range indexed {
		if k == key {
			return
		}
	}
	payload, err := json.Marshal(append(indexed, key))
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, ScopedIndexKey, payload, 0); err != nil {
		s.persistFailed("save", "update scoped key index", err)
	}
}

func (s *Store) indexedKeys(ctx context.Context) []string {
	raw, err := s.kv.Get(ctx, ScopedIndexKey)
	if err != nil {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil
	}
	return keys
}

func (s *Store) isGeneration(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation == gen
}

func (s *Store) publishSaved(ctx context.Context, session domain.Session) {
	s.publish(ctx, events.New(events.EventSessionSaved, events.SessionSavedPayload{
		UserID: session.UserID,
		Role:   session.Role,
	}))
}

func (s *Store) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("session subscriber failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}

func (s *Store) persistFailed(op, msg string, err error, fields ...zap.Field) {
	s.metrics.RecordPersistenceFailure(op)
	s.logger.Warn(msg, append(fields, zap.Error(err))...)
}
