package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/domain/notification"
	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/memory"
)

// unreachable returns a cache whose every command fails fast.
func unreachable() *Cache {
	return NewCacheFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, 10, cfg.Options().PoolSize)
	assert.Equal(t, "snapshot:u1", SnapshotKey("u1"))
	assert.Equal(t, "students:active", ActiveStudentsKey)
}

func TestCache_ArgumentErrors(t *testing.T) {
	c := unreachable()
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Set(ctx, "k", make(chan int), time.Minute), ErrCacheSerialization)
	assert.ErrorIs(t, c.Get(ctx, "", nil), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}

func TestSnapshotCache_FallsThroughWhenRedisIsDown(t *testing.T) {
	src := memory.NewStudentSource()
	src.Put(&student.Snapshot{UserID: "u1", Name: "Asha"})
	src.Put(&student.Snapshot{UserID: "u2", Name: "Ravi"})

	cache := NewSnapshotCache(unreachable(), src, WithSnapshotTTL(time.Minute), WithRosterTTL(time.Minute))
	ctx := context.Background()

	snap, err := cache.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", snap.Name)

	list, err := cache.ActiveStudents(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = cache.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)
}

func TestSnapshotCache_SourceErrorPropagates(t *testing.T) {
	src := memory.NewStudentSource()
	src.FailWith(errors.New("records offline"))

	cache := NewSnapshotCache(unreachable(), src)
	_, err := cache.ActiveStudents(context.Background())
	assert.ErrorContains(t, err, "records offline")
}

type recordingBus struct {
	handlers map[shared.EventType]shared.EventHandler
}

func (b *recordingBus) Subscribe(t shared.EventType, h shared.EventHandler) error {
	b.handlers[t] = h
	return nil
}

func (b *recordingBus) SubscribeAll(shared.EventHandler) error { return nil }

func TestSnapshotCache_InvalidateOnChange(t *testing.T) {
	bus := &recordingBus{handlers: map[shared.EventType]shared.EventHandler{}}
	cache := NewSnapshotCache(unreachable(), memory.NewStudentSource())
	require.NoError(t, cache.InvalidateOnChange(bus))

	assert.Contains(t, bus.handlers, shared.EventAttendanceChanged)
	assert.Contains(t, bus.handlers, shared.EventMarksChanged)

	// A failing delete is logged, never returned.
	evt := shared.NewAcademicDataChangedEvent(shared.EventMarksChanged, "u1", "Maths", "test")
	assert.NoError(t, bus.handlers[shared.EventMarksChanged](evt))
}

func TestStreamNotifier_ValidatesBeforePublishing(t *testing.T) {
	n := NewStreamNotifier(unreachable(), "", 1000)
	assert.Equal(t, DefaultNotificationStream, n.stream)

	err := n.Notify(context.Background(), notification.Event{Category: notification.CategoryStudyPlanGenerated})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	err = n.Notify(context.Background(), notification.PlanReady("u1", "s1", 7, false, time.Now()))
	assert.ErrorContains(t, err, "failed to publish notification")
}
