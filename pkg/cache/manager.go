package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCacheMiss is returned when no fresh result is stored for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned for undecodable or foreign entries.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores provider results in Redis.
type Manager struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewManager panics when rdb is nil.
func NewManager(rdb redis.Cmdable) *Manager {
	if rdb == nil {
		panic("cache: redis client cannot be nil")
	}
	return &Manager{rdb: rdb, now: time.Now}
}

// GetJSON decodes the stored result for key into v.
// Broken entries are removed so the next call repopulates them.
func (m *Manager) GetJSON(ctx context.Context, key Key, v any) error {
	raw, err := m.rdb.Get(ctx, key.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		CacheMisses.WithLabelValues(key.Operation).Inc()
		return ErrCacheMiss
	case err != nil:
		CacheErrors.WithLabelValues(key.Operation).Inc()
		return fmt.Errorf("redis get %s: %w", key.Operation, err)
	}

	entry, err := m.decode(raw, key, v)
	if err != nil {
		CacheErrors.WithLabelValues(key.Operation).Inc()
		m.evict(ctx, key)
		return err
	}
	if !entry.Fresh(m.now()) {
		CacheMisses.WithLabelValues(key.Operation).Inc()
		m.evict(ctx, key)
		return ErrCacheMiss
	}

	CacheHits.WithLabelValues(key.Operation).Inc()
	return nil
}

// SetJSON stores v under key for ttl. A non-positive ttl stores nothing.
func (m *Manager) SetJSON(ctx context.Context, key Key, v any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s result: %w", key.Operation, err)
	}
	raw, err := json.Marshal(newEntry(key, value, m.now(), ttl))
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.rdb.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues(key.Operation).Inc()
		return fmt.Errorf("redis set %s: %w", key.Operation, err)
	}
	return nil
}

func (m *Manager) decode(raw []byte, key Key, v any) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if !entry.written(key) {
		return Entry{}, fmt.Errorf("%w: written by %s/%s", ErrInvalidEntry, entry.Operation, entry.Model)
	}
	if err := json.Unmarshal(entry.Value, v); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return entry, nil
}

func (m *Manager) evict(ctx context.Context, key Key) {
	if err := m.rdb.Del(ctx, key.String()).Err(); err != nil {
		log.Debug().Err(err).Str("operation", key.Operation).Msg("Cache eviction failed")
	}
}
