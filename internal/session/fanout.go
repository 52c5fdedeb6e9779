package session

import (
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// StatusUpdate is one broadcast state transition.
type StatusUpdate struct {
	Key     Key       `json:"-"`
	Tenant  string    `json:"tenant"`
	Session string    `json:"session"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Reason  string    `json:"reason,omitempty"`
	QR      string    `json:"qr,omitempty"`
	At      time.Time `json:"at"`
}

// Fanout broadcasts state transitions to registered listeners over an
// in-process event bus. Delivery is synchronous; a panicking listener
// is isolated and never blocks delivery to the others.
type Fanout struct {
	bus  EventBus.Bus
	mu   sync.Mutex
	subs map[string]map[string]func(StatusUpdate)
}

func NewFanout() *Fanout {
	return &Fanout{
		bus:  EventBus.New(),
		subs: make(map[string]map[string]func(StatusUpdate)),
	}
}

func statusTopic(key Key) string {
	return "wa.status." + key.String()
}

// Subscribe registers fn for the key under a caller-chosen listener id.
// Listeners deregister themselves with Unsubscribe when their transport
// closes.
func (f *Fanout) Subscribe(key Key, id string, fn func(StatusUpdate)) error {
	wrapped := func(u StatusUpdate) {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Warn("status listener panicked",
					zap.String("key", key.String()),
					zap.String("listener", id),
					zap.Any("panic", r))
			}
		}()
		fn(u)
	}

	topic := statusTopic(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.bus.Subscribe(topic, wrapped); err != nil {
		return err
	}
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[string]func(StatusUpdate))
	}
	f.subs[topic][id] = wrapped
	return nil
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (f *Fanout) Unsubscribe(key Key, id string) {
	topic := statusTopic(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if wrapped, ok := f.subs[topic][id]; ok {
		_ = f.bus.Unsubscribe(topic, wrapped)
		delete(f.subs[topic], id)
		if len(f.subs[topic]) == 0 {
			delete(f.subs, topic)
		}
	}
}

// Notify delivers the update synchronously to all current listeners of
// its key.
func (f *Fanout) Notify(u StatusUpdate) {
	u.Tenant = u.Key.Tenant
	u.Session = u.Key.Session
	f.bus.Publish(statusTopic(u.Key), u)
}

// ListenerCount reports the current listener count for a key.
func (f *Fanout) ListenerCount(key Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[statusTopic(key)])
}
