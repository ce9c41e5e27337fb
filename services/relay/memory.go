package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"connmonitor/core"
	"connmonitor/core/log"
)

const subscriberBufferSize = 256

// MemoryBus is an in-process bus. It is used when a single server process
// owns every agent session, and in tests.
type MemoryBus struct {
	origin      string
	connected   atomic.Bool
	mu          sync.RWMutex
	subscribers map[string]*memorySubscription
	closed      bool
}

type memorySubscription struct {
	id       string
	bus      *MemoryBus
	channels map[Channel]bool
	queue    chan Envelope
	done     chan struct{}
	once     sync.Once
}

func NewMemoryBus(origin string) *MemoryBus {
	b := &MemoryBus{
		origin:      origin,
		subscribers: make(map[string]*memorySubscription),
	}
	b.connected.Store(true)
	return b
}

// SetConnected simulates the transport going up or down.
func (b *MemoryBus) SetConnected(connected bool) {
	b.connected.Store(connected)
}

func (b *MemoryBus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed && b.connected.Load()
}

func (b *MemoryBus) Publish(ctx context.Context, channel Channel, event any) error {
	if !isKnownChannel(channel) {
		return fmt.Errorf("unknown relay channel: %s", channel)
	}
	if !b.Connected() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	env, err := NewEnvelope(b.origin, channel, event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	targets := make([]*memorySubscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.channels[channel] {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- env:
		case <-sub.done:
		default:
			log.Warn("⚠️ Dropped %s event %s for slow subscriber %s", channel, env.ID, sub.id)
		}
	}

	return nil
}

func (b *MemoryBus) Subscribe(channels []Channel, handler Handler) (Subscription, error) {
	if err := validateChannels(channels); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		id:       core.NewID("sub"),
		bus:      b,
		channels: make(map[Channel]bool, len(channels)),
		queue:    make(chan Envelope, subscriberBufferSize),
		done:     make(chan struct{}),
	}
	for _, c := range channels {
		sub.channels[c] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrNotConnected
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go sub.run(handler)
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySubscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

func (s *memorySubscription) run(handler Handler) {
	for {
		select {
		case env := <-s.queue:
			deliver(handler, env)
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s.id)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

func deliver(handler Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("❌ Relay handler panicked on %s event %s: %v", env.Channel, env.ID, r)
		}
	}()
	handler(env)
}
