package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mentorlink/study-agent/internal/domain/notification"
)

// DefaultNotificationStream is the stream the delivery service consumes.
const DefaultNotificationStream = PrefixStream + "notifications"

// StreamNotifier hands notification events to the delivery service by
// appending them to a capped Redis stream.
type StreamNotifier struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewStreamNotifier creates a notifier writing to stream. An empty stream
// uses DefaultNotificationStream; maxLen <= 0 leaves the stream uncapped.
func NewStreamNotifier(cache *Cache, stream string, maxLen int64) *StreamNotifier {
	if stream == "" {
		stream = DefaultNotificationStream
	}
	return &StreamNotifier{client: cache.Client(), stream: stream, maxLen: maxLen}
}

var _ notification.Notifier = (*StreamNotifier)(nil)

// Notify implements notification.Notifier.
func (n *StreamNotifier) Notify(ctx context.Context, event notification.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]any{
			"recipient_id": event.RecipientID,
			"category":     event.Category.String(),
			"title":        event.Title,
			"body":         event.Body,
			"priority":     string(event.Priority),
			"action_url":   event.ActionURL,
			"payload":      string(payload),
			"created_at":   event.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}

	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
