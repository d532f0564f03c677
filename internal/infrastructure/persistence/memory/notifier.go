package memory

import (
	"context"
	"sync"

	"github.com/mentorlink/study-agent/internal/domain/notification"
)

// Notifier records notification events and operator alerts in memory.
type Notifier struct {
	mu     sync.Mutex
	events []notification.Event
	alerts []notification.Alert
}

// NewNotifier creates an empty recorder.
func NewNotifier() *Notifier {
	return &Notifier{}
}

var (
	_ notification.Notifier = (*Notifier)(nil)
	_ notification.Alerter  = (*Notifier)(nil)
)

// Notify implements notification.Notifier.
func (n *Notifier) Notify(_ context.Context, event notification.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Alert implements notification.Alerter.
func (n *Notifier) Alert(_ context.Context, alert notification.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

// Events returns a copy of the recorded events.
func (n *Notifier) Events() []notification.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Event(nil), n.events...)
}

// Alerts returns a copy of the recorded alerts.
func (n *Notifier) Alerts() []notification.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Alert(nil), n.alerts...)
}
