package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
)

// SnapshotCache is a read-through student.Source. Cache failures are logged
// and fall through to the wrapped source; they never fail a load.
type SnapshotCache struct {
	cache       *Cache
	source      student.Source
	logger      *slog.Logger
	snapshotTTL time.Duration
	rosterTTL   time.Duration
}

// SnapshotCacheOption configures a SnapshotCache.
type SnapshotCacheOption func(*SnapshotCache)

// WithSnapshotTTL overrides the per-student snapshot TTL.
func WithSnapshotTTL(ttl time.Duration) SnapshotCacheOption {
	return func(c *SnapshotCache) { c.snapshotTTL = ttl }
}

// WithRosterTTL overrides the active-students TTL.
func WithRosterTTL(ttl time.Duration) SnapshotCacheOption {
	return func(c *SnapshotCache) { c.rosterTTL = ttl }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) SnapshotCacheOption {
	return func(c *SnapshotCache) { c.logger = logger }
}

// NewSnapshotCache wraps source with a Redis cache.
func NewSnapshotCache(cache *Cache, source student.Source, opts ...SnapshotCacheOption) *SnapshotCache {
	c := &SnapshotCache{
		cache:       cache,
		source:      source,
		logger:      slog.Default(),
		snapshotTTL: TTLSnapshot,
		rosterTTL:   TTLActiveStudents,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ student.Source = (*SnapshotCache)(nil)

// Snapshot implements student.Source.
func (c *SnapshotCache) Snapshot(ctx context.Context, userID string) (*student.Snapshot, error) {
	key := SnapshotKey(userID)

	var cached student.Snapshot
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("snapshot cache read failed", "user_id", userID, "error", err)
	}

	snap, err := c.source.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, snap, c.snapshotTTL); err != nil {
		c.logger.Warn("snapshot cache write failed", "user_id", userID, "error", err)
	}
	return snap, nil
}

// ActiveStudents implements student.Source.
func (c *SnapshotCache) ActiveStudents(ctx context.Context) ([]student.Summary, error) {
	var cached []student.Summary
	err := c.cache.Get(ctx, ActiveStudentsKey, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("roster cache read failed", "error", err)
	}

	list, err := c.source.ActiveStudents(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, ActiveStudentsKey, list, c.rosterTTL); err != nil {
		c.logger.Warn("roster cache write failed", "error", err)
	}
	return list, nil
}

// Invalidate drops the cached snapshot of a student.
func (c *SnapshotCache) Invalidate(ctx context.Context, userID string) error {
	return c.cache.Delete(ctx, SnapshotKey(userID))
}

// InvalidateOnChange subscribes the cache to academic change events so the
// next load after a change reads through to the source.
func (c *SnapshotCache) InvalidateOnChange(bus shared.EventSubscriber) error {
	handler := func(event shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Invalidate(ctx, event.AggregateID()); err != nil {
			c.logger.Warn("snapshot invalidation failed", "user_id", event.AggregateID(), "error", err)
		}
		return nil
	}
	for _, t := range []shared.EventType{shared.EventAttendanceChanged, shared.EventMarksChanged} {
		if err := bus.Subscribe(t, handler); err != nil {
			return err
		}
	}
	return nil
}
