package relay

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/metrics"
	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

const DefaultQueueCapacity = 100

var ErrBusClosed = errors.New("event bus closed")

// Subscription is one consumer's bounded event queue. Events must be treated
// as read-only: the same reading is delivered to every subscriber.
type Subscription struct {
	events  chan messages.StreamEvent
	done    chan struct{}
	once    sync.Once
	evicted atomic.Bool
}

func newSubscription(capacity int) *Subscription {
	return &Subscription{
		events: make(chan messages.StreamEvent, capacity),
		done:   make(chan struct{}),
	}
}

// Events yields queued events and is closed once the subscription ends.
// Events queued before the end are still delivered.
func (s *Subscription) Events() <-chan messages.StreamEvent { return s.events }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Evicted reports whether the bus dropped this subscription for falling behind.
func (s *Subscription) Evicted() bool { return s.evicted.Load() }

// end must be called with the bus lock held, so no send races the close.
func (s *Subscription) end(evicted bool) bool {
	ended := false
	s.once.Do(func() {
		s.evicted.Store(evicted)
		close(s.done)
		close(s.events)
		ended = true
	})
	return ended
}

type BusConfig struct {
	QueueCapacity int
}

// Bus writes readings through to the store and fans the resulting events out
// to every subscriber. Publishing never blocks on a consumer: a subscriber
// whose queue is full is evicted.
type Bus struct {
	cfg     BusConfig
	store   *Store
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus(store *Store, cfg BusConfig, log *zap.Logger, m *metrics.Metrics) *Bus {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	return &Bus{
		cfg:     cfg,
		store:   store,
		log:     log,
		metrics: m,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new consumer. On a closed bus the returned
// subscription is already ended.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked()
}

// SubscribeWithSnapshot registers a consumer and returns the store contents
// as of that instant. No update is both in the snapshot and in the queue,
// and none falls between them.
func (b *Bus) SubscribeWithSnapshot() (*Subscription, []messages.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(), b.store.List()
}

func (b *Bus) subscribeLocked() *Subscription {
	sub := newSubscription(b.cfg.QueueCapacity)
	if b.closed {
		sub.end(false)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.metrics.SubscriberAdded()
	return sub
}

// Unsubscribe removes sub. Calling it more than once, or after an eviction,
// is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub, false)
}

func (b *Bus) removeLocked(sub *Subscription, evicted bool) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if sub.end(evicted) {
		b.metrics.SubscriberRemoved(evicted)
	}
}

// Publish stores r and broadcasts an update event. A status event follows
// when a known sensor changed status. The stored reading is returned.
func (b *Bus) Publish(r messages.Reading) (messages.Reading, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return messages.Reading{}, ErrBusClosed
	}
	u, err := b.store.Upsert(r)
	if err != nil {
		b.mu.Unlock()
		return messages.Reading{}, err
	}
	evicted := b.broadcastLocked(messages.Update(u.Current))
	if u.StatusChanged() {
		evicted += b.broadcastLocked(messages.StreamEvent{Event: messages.EventStatus, Data: u.Current})
	}
	b.mu.Unlock()

	b.logEvictions(evicted)
	return u.Current, nil
}

// PublishEvent broadcasts e without touching the store.
func (b *Bus) PublishEvent(e messages.StreamEvent) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	evicted := b.broadcastLocked(e)
	b.mu.Unlock()

	b.logEvictions(evicted)
	return nil
}

// broadcastLocked returns the number of subscribers it evicted.
func (b *Bus) broadcastLocked(e messages.StreamEvent) int {
	evicted := 0
	for sub := range b.subs {
		select {
		case sub.events <- e:
		default:
			b.removeLocked(sub, true)
			evicted++
		}
	}
	return evicted
}

// logEvictions must be called without the bus lock.
func (b *Bus) logEvictions(n int) {
	if n > 0 {
		b.log.Debug("evicted slow subscribers", zap.Int("count", n), zap.Int("queue", b.cfg.QueueCapacity))
	}
}

// Snapshot returns the latest reading of every known sensor.
func (b *Bus) Snapshot() []messages.Reading { return b.store.List() }

// Get returns the latest reading of one sensor.
func (b *Bus) Get(id string) (messages.Reading, bool) { return b.store.Get(id) }

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		b.removeLocked(sub, false)
	}
}
