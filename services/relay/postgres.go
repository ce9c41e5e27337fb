package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"connmonitor/core"
	"connmonitor/core/log"
)

// Postgres rejects NOTIFY payloads of 8000 bytes or more.
const maxNotifyPayloadBytes = 7999

const (
	minReconnectInterval = 5 * time.Second
	maxReconnectInterval = time.Minute
)

// PostgresBus relays events between server processes with LISTEN/NOTIFY.
// Every process listens on all channels it subscribes to, including events
// it published itself, so local viewers see the same stream as remote ones.
type PostgresBus struct {
	db        *sqlx.DB
	listener  *pq.Listener
	origin    string
	connected atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	mu          sync.RWMutex
	subscribers map[string]*postgresSubscription
	listening   map[Channel]int
	closed      bool
	done        chan struct{}
	wg          sync.WaitGroup
}

type postgresSubscription struct {
	id       string
	bus      *PostgresBus
	channels []Channel
	handler  Handler
	once     sync.Once
}

func NewPostgresBus(ctx context.Context, db *sqlx.DB, databaseURL, origin string) (*PostgresBus, error) {
	b := &PostgresBus{
		db:          db,
		origin:      origin,
		ready:       make(chan struct{}),
		subscribers: make(map[string]*postgresSubscription),
		listening:   make(map[Channel]int),
		done:        make(chan struct{}),
	}
	b.listener = pq.NewListener(databaseURL, minReconnectInterval, maxReconnectInterval, b.handleListenerEvent)

	b.wg.Add(1)
	go b.dispatchLoop()

	select {
	case <-b.ready:
		log.Info("✅ Relay bus connected to postgres (origin: %s)", origin)
	case <-ctx.Done():
		_ = b.Close()
		return nil, fmt.Errorf("relay bus did not connect: %w", ctx.Err())
	}

	return b, nil
}

func (b *PostgresBus) handleListenerEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		b.connected.Store(true)
		b.readyOnce.Do(func() { close(b.ready) })
	case pq.ListenerEventReconnected:
		b.connected.Store(true)
		log.Info("🔄 Relay bus listener reconnected")
	case pq.ListenerEventDisconnected:
		b.connected.Store(false)
		log.Warn("⚠️ Relay bus listener disconnected: %v", err)
	case pq.ListenerEventConnectionAttemptFailed:
		b.connected.Store(false)
		log.Warn("⚠️ Relay bus connection attempt failed: %v", err)
	}
}

func (b *PostgresBus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed && b.connected.Load()
}

func (b *PostgresBus) Publish(ctx context.Context, channel Channel, event any) error {
	if !isKnownChannel(channel) {
		return fmt.Errorf("unknown relay channel: %s", channel)
	}
	if !b.Connected() {
		return ErrNotConnected
	}

	env, err := NewEnvelope(b.origin, channel, event)
	if err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if len(data) > maxNotifyPayloadBytes {
		return fmt.Errorf("relay payload for %s is %d bytes, limit is %d", channel, len(data), maxNotifyPayloadBytes)
	}

	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", string(channel), string(data)); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}

	return nil
}

func (b *PostgresBus) Subscribe(channels []Channel, handler Handler) (Subscription, error) {
	if err := validateChannels(channels); err != nil {
		return nil, err
	}

	sub := &postgresSubscription{
		id:       core.NewID("sub"),
		bus:      b,
		channels: channels,
		handler:  handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrNotConnected
	}

	for _, c := range channels {
		if b.listening[c] == 0 {
			if err := b.listener.Listen(string(c)); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
				return nil, fmt.Errorf("failed to listen on %s: %w", c, err)
			}
		}
		b.listening[c]++
	}
	b.subscribers[sub.id] = sub

	log.Info("👂 Relay subscription %s listening on %v", sub.id, channels)
	return sub, nil
}

func (s *postgresSubscription) Unsubscribe() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.subscribers, s.id)
		if b.closed {
			return
		}
		for _, c := range s.channels {
			b.listening[c]--
			if b.listening[c] <= 0 {
				delete(b.listening, c)
				if err := b.listener.Unlisten(string(c)); err != nil {
					log.Warn("⚠️ Failed to unlisten %s: %v", c, err)
				}
			}
		}
	})
}

func (b *PostgresBus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case n, ok := <-b.listener.Notify:
			if !ok {
				return
			}
			// A nil notification signals a reconnect; anything sent while the
			// listener was down is lost.
			if n == nil {
				continue
			}
			b.dispatch(n)
		}
	}
}

func (b *PostgresBus) dispatch(n *pq.Notification) {
	var env Envelope
	if err := json.Unmarshal([]byte(n.Extra), &env); err != nil {
		log.Error("❌ Dropping malformed relay notification on %s: %v", n.Channel, err)
		return
	}
	// Anything else NOTIFYing on these channels is not one of our publishers.
	if !core.IsValidULID(env.ID) || env.Origin == "" {
		log.Warn("⚠️ Dropping foreign relay notification on %s (id: %q)", n.Channel, env.ID)
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		for _, c := range sub.channels {
			if string(c) == n.Channel {
				handlers = append(handlers, sub.handler)
				break
			}
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, env)
	}
}

func (b *PostgresBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	err := b.listener.Close()
	b.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close relay listener: %w", err)
	}
	log.Info("✅ Relay bus closed")
	return nil
}
