package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"connmonitor/core"
)

type Channel string

const (
	ChannelConnectionStatus Channel = "connection-status"
	ChannelSystemMetrics    Channel = "system-metrics"
	ChannelAlerts           Channel = "alerts"
)

// AllChannels lists every logical channel carried by the bus.
var AllChannels = []Channel{ChannelConnectionStatus, ChannelSystemMetrics, ChannelAlerts}

// ErrNotConnected is returned by Publish when the underlying transport is down.
// Publish makes a single attempt and never queues for retry.
var ErrNotConnected = errors.New("relay bus not connected")

// Envelope wraps every payload crossing the bus.
type Envelope struct {
	ID          string          `json:"id"`
	Origin      string          `json:"origin"`
	Channel     Channel         `json:"channel"`
	PublishedAt time.Time       `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// Handler receives envelopes in publish order for a given channel and origin.
type Handler func(env Envelope)

type Subscription interface {
	Unsubscribe()
}

type Publisher interface {
	Publish(ctx context.Context, channel Channel, event any) error
	Connected() bool
}

type Bus interface {
	Publisher
	Subscribe(channels []Channel, handler Handler) (Subscription, error)
	Close() error
}

// NewEnvelope serializes event into an envelope stamped with origin.
func NewEnvelope(origin string, channel Channel, event any) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", channel, err)
	}

	return Envelope{
		ID:          core.NewID("evt"),
		Origin:      origin,
		Channel:     channel,
		PublishedAt: time.Now().UTC(),
		Payload:     payload,
	}, nil
}

// Decode unmarshals the envelope payload into T.
func Decode[T any](env Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s payload: %w", env.Channel, err)
	}
	return out, nil
}

func isKnownChannel(channel Channel) bool {
	for _, c := range AllChannels {
		if c == channel {
			return true
		}
	}
	return false
}

func validateChannels(channels []Channel) error {
	if len(channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	for _, c := range channels {
		if !isKnownChannel(c) {
			return fmt.Errorf("unknown relay channel: %s", c)
		}
	}
	return nil
}
