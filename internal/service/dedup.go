package service

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/repository"
)

// Delivery actions tracked independently by the dedup set.
const (
	actionDisplay  = "display"
	actionNavigate = "navigate"
)

const dedupKeyPrefix = "delivery:"

// recentSet is a bounded, insertion-ordered set of recently seen keys.
type recentSet struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newRecentSet(capacity int) *recentSet {
	if capacity <= 0 {
		capacity = 256
	}
	return &recentSet{capacity: capacity, order: list.New(), index: make(map[string]*list.Element, capacity)}
}

// add inserts key and reports whether it was new. The oldest key is evicted
// once capacity is exceeded.
func (s *recentSet) add(key string) bool {
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = s.order.PushBack(key)
	if s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
	return true
}

func (s *recentSet) remove(key string) {
	if el, ok := s.index[key]; ok {
		s.order.Remove(el)
		delete(s.index, key)
	}
}

func (s *recentSet) len() int { return s.order.Len() }

// deduplicator claims (action, message id) pairs at most once. The in-memory
// set covers the running process; the optional KV marker covers messages
// replayed after a restart.
type deduplicator struct {
	mu     sync.Mutex
	recent *recentSet
	kv     repository.KeyValueRepository
	ttl    time.Duration
	logger *zap.Logger
}

func newDeduplicator(capacity int, kv repository.KeyValueRepository, ttl time.Duration, logger *zap.Logger) *deduplicator {
	return &deduplicator{recent: newRecentSet(capacity), kv: kv, ttl: ttl, logger: logger}
}

// claim reports whether the caller is the first to perform action for id.
// A storage failure does not block delivery.
func (d *deduplicator) claim(ctx context.Context, action, id string) bool {
	key := dedupKey(action, id)

	d.mu.Lock()
	fresh := d.recent.add(key)
	d.mu.Unlock()
	if !fresh {
		return false
	}
	if d.kv == nil {
		return true
	}

	ok, err := d.kv.SetIfAbsent(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339)), d.ttl)
	if err != nil {
		d.logger.Warn("dedup marker unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// release gives up a claim whose action did not complete, so a redelivery of
// the same message is attempted again.
func (d *deduplicator) release(ctx context.Context, action, id string) {
	key := dedupKey(action, id)

	d.mu.Lock()
	d.recent.remove(key)
	d.mu.Unlock()
	if d.kv == nil {
		return
	}
	if err := d.kv.Delete(ctx, key); err != nil {
		d.logger.Warn("dedup marker not released", zap.String("key", key), zap.Error(err))
	}
}

func dedupKey(action, id string) string {
	return dedupKeyPrefix + action + ":" + id
}
