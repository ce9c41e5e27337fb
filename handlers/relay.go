package handlers

import (
	"connmonitor/clients"
	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/relay"
	"connmonitor/usecases/core"
)

// RelayHandler consumes the relay bus: it folds events into the fleet view,
// forwards them to viewers and hands alerts to locally connected agents.
type RelayHandler struct {
	coreUseCase *core.CoreUseCase
	viewers     clients.ViewerBroadcaster
}

func NewRelayHandler(coreUseCase *core.CoreUseCase, viewers clients.ViewerBroadcaster) *RelayHandler {
	return &RelayHandler{
		coreUseCase: coreUseCase,
		viewers:     viewers,
	}
}

// Subscribe attaches the handler to every relay channel.
func (h *RelayHandler) Subscribe(bus relay.Bus) (relay.Subscription, error) {
	log.Info("📋 Starting relay subscription on %d channels", len(relay.AllChannels))
	sub, err := bus.Subscribe(relay.AllChannels, h.HandleEnvelope)
	if err != nil {
		return nil, err
	}
	log.Info("📋 Completed successfully - subscribed to relay bus")
	return sub, nil
}

func (h *RelayHandler) HandleEnvelope(env relay.Envelope) {
	switch env.Channel {
	case relay.ChannelConnectionStatus:
		ev, err := relay.Decode[models.StatusEvent](env)
		if err != nil {
			log.Error("❌ Failed to decode status event %s from %s: %v", env.ID, env.Origin, err)
			return
		}
		if h.coreUseCase.ApplyRelayedStatus(env.Origin, ev) {
			h.broadcast(env.Channel, ev)
		}

	case relay.ChannelSystemMetrics:
		ev, err := relay.Decode[models.MetricsEvent](env)
		if err != nil {
			log.Error("❌ Failed to decode metrics event %s from %s: %v", env.ID, env.Origin, err)
			return
		}
		// Liveness refreshes carry no metrics and are not forwarded to viewers.
		if h.coreUseCase.ApplyRelayedMetrics(ev) && ev.Metrics != nil {
			h.broadcast(env.Channel, ev)
		}

	case relay.ChannelAlerts:
		alert, err := relay.Decode[models.Alert](env)
		if err != nil {
			log.Error("❌ Failed to decode alert %s from %s: %v", env.ID, env.Origin, err)
			return
		}
		h.coreUseCase.DeliverAlertToAgent(alert)
		h.broadcast(env.Channel, alert)

	default:
		log.Warn("⚠️ Unknown relay channel '%s' in envelope %s", env.Channel, env.ID)
	}
}

func (h *RelayHandler) broadcast(channel relay.Channel, payload any) {
	if h.viewers == nil {
		return
	}
	if sent := h.viewers.BroadcastToViewers(string(channel), payload); sent > 0 {
		log.Debug("📡 Forwarded %s event to %d viewers", channel, sent)
	}
}
