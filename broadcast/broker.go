// Package broadcast carries live UI updates from the turn, memory and
// initiation subsystems to subscribers: streaming deltas, tool status,
// finalized messages and decision notices.
package broadcast

import (
	"sync"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/logging"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// BrokerOptions configures a Broker.
type BrokerOptions struct {
	// BufferSize is the per-subscriber channel capacity. A subscriber
	// whose buffer is full misses events rather than blocking publishers.
	BufferSize int

	// Logger receives drop diagnostics.
	Logger logging.Logger
}

// Broker is the in-process core.Broker: per-topic subscriber sets with
// buffered channels and best-effort delivery. Publishing never blocks.
type Broker struct {
	opts BrokerOptions

	mu     sync.RWMutex
	nextID int
	topics map[string]map[int]chan core.BroadcastEvent
}

var _ core.Broker = (*Broker)(nil)

// New creates a broker.
func New(optFns ...func(o *BrokerOptions)) *Broker {
	opts := BrokerOptions{
		BufferSize: DefaultBufferSize,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Broker{
		opts:   opts,
		topics: make(map[string]map[int]chan core.BroadcastEvent),
	}
}

// Publish implements core.Broker. Subscribers with a full buffer miss the
// event; a UI that fell behind can re-read chat state instead of stalling
// the producer.
func (b *Broker) Publish(topic string, event core.BroadcastEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[topic] {
		select {
		case ch <- event:
		default:
			b.opts.Logger.Debug("broadcast.dropped", "topic", topic, "kind", event.Kind)
		}
	}
}

// Subscribe implements core.Broker. The cancel function releases the
// subscription and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(topic string) (<-chan core.BroadcastEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan core.BroadcastEvent, b.opts.BufferSize)
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]chan core.BroadcastEvent)
	}
	b.topics[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.topics[topic], id)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the current subscriber count for a topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
