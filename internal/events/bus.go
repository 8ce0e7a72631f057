package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const subscriberBuffer = 64

type subscriber struct {
	userID string // empty receives every user's events
	ch     chan Event
}

// Bus fans events out to subscribers keyed by user. Delivery is at most once:
// a subscriber whose buffer is full is disconnected rather than allowed to
// slow down the publisher.
type Bus struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   map[int64]*subscriber
	seq    atomic.Int64
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.Named("events"),
		subs:   make(map[int64]*subscriber),
	}
}

// Subscribe registers a listener for userID's events ("" for all users) and
// returns its id and channel. The channel is closed on Unsubscribe or when
// the subscriber lags.
func (b *Bus) Subscribe(userID string) (int64, <-chan Event) {
	id := b.seq.Add(1)
	sub := &subscriber{userID: userID, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish delivers evt to matching subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	var lagging []int64

	b.mu.RLock()
	for id, sub := range b.subs {
		if sub.userID != "" && sub.userID != evt.UserID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			lagging = append(lagging, id)
		}
	}
	b.mu.RUnlock()

	if len(lagging) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range lagging {
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
			b.logger.Warn("Disconnected lagging subscriber", zap.Int64("subscriber", id), zap.String("user_id", sub.userID))
		}
	}
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
