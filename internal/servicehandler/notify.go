package servicehandler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// DefaultSubscriberBuffer is the channel size of a subscription.
const DefaultSubscriberBuffer = 64

// Notification reports a service state transition.
type Notification struct {
	ID          string             `json:"notification-id"`
	ServiceName string             `json:"service-name"`
	State       model.ServiceState `json:"state"`
	Message     string             `json:"message,omitempty"`
	Time        time.Time          `json:"event-time"`
}

// Notifier fans notifications out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the notification.
type Notifier struct {
	log logging.Logger

	mu   sync.Mutex
	next int
	subs map[int]chan Notification
}

// NewNotifier returns a notifier with no subscribers.
func NewNotifier(log logging.Logger) *Notifier {
	if log == nil {
		log = logging.Noop()
	}
	return &Notifier{log: log, subs: make(map[int]chan Notification)}
}

// Subscribe returns a notification channel and the function that closes it.
func (n *Notifier) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Notification, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers note to every subscriber.
func (n *Notifier) Publish(note Notification) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.Time.IsZero() {
		note.Time = time.Now()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		select {
		case ch <- note:
		default:
			n.log.Warn(context.Background(), "notification dropped",
				logging.Int("subscriber", id),
				logging.String("service", note.ServiceName),
			)
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
