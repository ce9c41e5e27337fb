package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gammazero/workerpool"

	"connmonitor/clients"
	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/usecases/core"
)

// MessagesHandler turns session lifecycle and agent events into use case
// calls. Every call runs on the event loop so per-agent arrival order holds.
type MessagesHandler struct {
	coreUseCase *core.CoreUseCase
	loop        *workerpool.WorkerPool
}

func NewMessagesHandler(coreUseCase *core.CoreUseCase, loop *workerpool.WorkerPool) *MessagesHandler {
	return &MessagesHandler{
		coreUseCase: coreUseCase,
		loop:        loop,
	}
}

func (h *MessagesHandler) HandleConnection(session *clients.Session) error {
	if session.IsViewer() {
		log.Info("👀 Viewer %s connected", session.ID)
		return nil
	}
	return h.onLoop(func() error {
		return h.coreUseCase.RegisterAgent(context.Background(), session)
	})
}

func (h *MessagesHandler) HandleDisconnection(session *clients.Session, reason models.StatusReason) error {
	if session.IsViewer() {
		log.Info("👀 Viewer %s disconnected", session.ID)
		return nil
	}
	return h.onLoop(func() error {
		return h.coreUseCase.DeregisterAgent(context.Background(), session, reason)
	})
}

func (h *MessagesHandler) HandleHeartbeat(session *clients.Session, data any) error {
	var payload models.HeartbeatPayload
	if err := unmarshalPayload(data, &payload); err != nil {
		log.Error("❌ Failed to unmarshal heartbeat payload from agent %s: %v", session.AgentID, err)
		return fmt.Errorf("failed to unmarshal heartbeat payload: %w", err)
	}

	return h.onLoop(func() error {
		return h.coreUseCase.ProcessHeartbeat(context.Background(), session, payload)
	})
}

func (h *MessagesHandler) HandleMetrics(session *clients.Session, data any) error {
	var payload models.MetricsPayload
	if err := unmarshalPayload(data, &payload); err != nil {
		log.Error("❌ Failed to unmarshal metrics payload from agent %s: %v", session.AgentID, err)
		return fmt.Errorf("failed to unmarshal metrics payload: %w", err)
	}

	return h.onLoop(func() error {
		return h.coreUseCase.ProcessMetrics(context.Background(), session, payload)
	})
}

func (h *MessagesHandler) onLoop(task func() error) error {
	if h.loop == nil {
		return task()
	}

	var err error
	h.loop.SubmitWait(func() {
		err = task()
	})
	return err
}

func unmarshalPayload(payload any, target any) error {
	if payload == nil {
		return nil
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(payloadBytes, target)
}
