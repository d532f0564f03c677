package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/study-agent/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	var attendance, all []string

	require.NoError(t, bus.Subscribe(shared.EventAttendanceChanged, func(e shared.Event) error {
		attendance = append(attendance, e.AggregateID())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, string(e.EventType()))
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewAcademicDataChangedEvent(shared.EventAttendanceChanged, "u1", "Maths", "erp")))
	require.NoError(t, bus.Publish(shared.NewJobFailedEvent("u2", "j1", "boom")))

	assert.Equal(t, []string{"u1"}, attendance)
	assert.Equal(t, []string{string(shared.EventAttendanceChanged), string(shared.EventJobFailed)}, all)
	assert.Equal(t, int64(3), bus.Metrics().Snapshot().TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerPanicAndErrors(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Subscribe(shared.EventMarksChanged, func(shared.Event) error { panic("bad handler") }))
	require.NoError(t, bus.Subscribe(shared.EventMarksChanged, func(shared.Event) error { return errors.New("nope") }))

	err := bus.Publish(shared.NewAcademicDataChangedEvent(shared.EventMarksChanged, "u1", "", ""))
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.ErrorContains(t, err, "nope")
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	var mu sync.Mutex
	seen := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewJobFailedEvent("u", "j", "e")))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 5
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewJobFailedEvent("u", "j", "e")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventJobFailed, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestDecodeAcademicEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(Envelope{Type: shared.EventMarksChanged, UserID: "u1", Subject: "DBMS", OccurredAt: at})
	require.NoError(t, err)

	event, err := DecodeAcademicEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, shared.EventMarksChanged, event.EventType())
	assert.Equal(t, "u1", event.AggregateID())
	assert.Equal(t, "DBMS", event.Subject)
	assert.Equal(t, at, event.OccurredAt())

	_, err = DecodeAcademicEvent([]byte(`{"type":"agent.job_failed","userId":"u1"}`))
	assert.ErrorIs(t, err, ErrEventNotSupported)

	_, err = DecodeAcademicEvent([]byte(`{"type":"academics.marks_changed"}`))
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	_, err = DecodeAcademicEvent([]byte(`not json`))
	assert.Error(t, err)
}

// fakeReader replays messages and then reports EOF.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(shared.Event) error {
	p.calls++
	return errors.New("bus down")
}

func TestKafkaConsumer_RepublishesAndCommits(t *testing.T) {
	valid, err := EncodeEvent(shared.NewAcademicDataChangedEvent(shared.EventAttendanceChanged, "u1", "Maths", "erp"))
	require.NoError(t, err)

	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: valid},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: valid},
	}}
	bus := syncBus()
	var users []string
	require.NoError(t, bus.Subscribe(shared.EventAttendanceChanged, func(e shared.Event) error {
		users = append(users, e.AggregateID())
		return nil
	}))

	require.NoError(t, NewKafkaConsumer(reader, bus, nil).Run(context.Background()))

	assert.Equal(t, []string{"u1", "u1"}, users)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	assert.True(t, reader.closed)
}

func TestKafkaConsumer_PublishFailureLeavesOffset(t *testing.T) {
	valid, err := EncodeEvent(shared.NewAcademicDataChangedEvent(shared.EventMarksChanged, "u1", "", ""))
	require.NoError(t, err)

	reader := &fakeReader{messages: []kafka.Message{{Offset: 7, Value: valid}}}
	pub := &failingPublisher{}
	require.NoError(t, NewKafkaConsumer(reader, pub, nil).Run(context.Background()))

	assert.Equal(t, 1, pub.calls)
	assert.Empty(t, reader.committed)
}

type recordingWriter struct{ msgs []kafka.Message }

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &recordingWriter{}
	pub := NewKafkaPublisher(w, 0)

	require.NoError(t, pub.Publish(shared.NewPlanGeneratedEvent("u9", "j1", "s1", "high", true)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "u9", string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, shared.EventPlanGenerated, env.Type)
	assert.Equal(t, "s1", env.Payload["suggestion_id"])
	assert.Equal(t, true, env.Payload["fallback"])
}

func TestMultiPublisher(t *testing.T) {
	bus := syncBus()
	failing := &failingPublisher{}
	err := MultiPublisher{bus, nil, failing}.Publish(shared.NewJobFailedEvent("u", "j", "e"))
	assert.ErrorContains(t, err, "bus down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().Published[shared.EventJobFailed])
}
