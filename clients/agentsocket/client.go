package agentsocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/reconnect"
)

var ErrNotConnected = errors.New("not connected to server")

// Reporter receives dial outcomes. reconnect.Machine implements it.
type Reporter interface {
	Connected(generation uint64)
	Failed(generation uint64, err error)
	Closed(generation uint64)
}

type AckHandlerFunc func(ack models.HeartbeatAckPayload)
type AlertHandlerFunc func(alert models.Alert)

// Client is the agent side of the session. It performs one dial per attempt
// with the transport's own reconnection disabled, so retry timing is owned by
// the reconnect machine.
type Client struct {
	serverURL string
	agentID   string
	metadata  models.Metadata
	timeout   time.Duration

	mu        sync.Mutex
	reporter  Reporter
	manager   *socket.Manager
	sock      *socket.Socket
	current   uint64
	connected bool
	onAck     AckHandlerFunc
	onAlert   AlertHandlerFunc
}

var _ reconnect.Dialer = (*Client)(nil)

func NewClient(serverURL, agentID string, metadata models.Metadata) *Client {
	return &Client{
		serverURL: serverURL,
		agentID:   agentID,
		metadata:  metadata,
		timeout:   10 * time.Second,
	}
}

// SetReporter must be called before the first dial.
func (c *Client) SetReporter(reporter Reporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reporter = reporter
}

func (c *Client) OnHeartbeatAck(handler AckHandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAck = handler
}

func (c *Client) OnAlert(handler AlertHandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAlert = handler
}

// Dial opens a fresh connection for attempt, dropping any previous one.
func (c *Client) Dial(attempt reconnect.Attempt) {
	log.Info("📋 Starting connection attempt %d to %s", attempt.Number, c.serverURL)

	c.mu.Lock()
	previous := c.detachLocked()
	c.current = attempt.Generation

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(transports.Polling, transports.WebSocket))
	opts.SetReconnection(false)
	opts.SetTimeout(c.timeout)
	opts.SetQuery(c.handshakeQuery())
	opts.SetAuth(map[string]any{models.HandshakeAgentID: c.agentID})

	manager := socket.NewManager(c.serverURL, opts)
	sock := manager.Socket("/", opts)
	c.manager = manager
	c.sock = sock
	c.mu.Unlock()

	// The disconnect listener of the previous socket runs inline and takes c.mu.
	if previous != nil {
		previous.Disconnect()
	}

	generation := attempt.Generation

	sock.On("connect", func(...any) {
		if !c.markConnected(generation, true) {
			return
		}
		log.Info("✅ Connected to %s as agent %s", c.serverURL, c.agentID)
		c.report(func(r Reporter) { r.Connected(generation) })
	})

	sock.On("connect_error", func(args ...any) {
		err := fmt.Errorf("connect error: %v", args)
		if !c.markConnected(generation, false) {
			return
		}
		c.report(func(r Reporter) { r.Failed(generation, err) })
	})

	sock.On("disconnect", func(args ...any) {
		wasConnected := c.isConnected(generation)
		if !c.markConnected(generation, false) {
			return
		}
		log.Warn("🔌 Disconnected from server: %v", args)
		if wasConnected {
			c.report(func(r Reporter) { r.Closed(generation) })
			return
		}
		c.report(func(r Reporter) { r.Failed(generation, fmt.Errorf("disconnected: %v", args)) })
	})

	sock.On(models.EventHeartbeatAck, func(args ...any) {
		var ack models.HeartbeatAckPayload
		if err := unmarshalPayload(first(args), &ack); err != nil {
			log.Warn("⚠️ Failed to decode heartbeat ack: %v", err)
			return
		}
		if handler := c.ackHandler(); handler != nil {
			handler(ack)
		}
	})

	sock.On(models.EventAlert, func(args ...any) {
		var alert models.Alert
		if err := unmarshalPayload(first(args), &alert); err != nil {
			log.Warn("⚠️ Failed to decode alert from server: %v", err)
			return
		}
		if handler := c.alertHandler(); handler != nil {
			handler(alert)
		}
	})
}

// Emit sends an event on the live session.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	sock := c.sock
	connected := c.connected
	c.mu.Unlock()

	if !connected || sock == nil {
		return ErrNotConnected
	}
	sock.Emit(event, payload)
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close ends the session without reporting to the reporter.
func (c *Client) Close() {
	c.mu.Lock()
	sock := c.detachLocked()
	c.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
}

// detachLocked forgets the current socket and returns it. Callers disconnect
// it after releasing c.mu.
func (c *Client) detachLocked() *socket.Socket {
	// Results from the detached socket carry a stale generation.
	c.current = 0
	c.connected = false
	sock := c.sock
	c.sock = nil
	c.manager = nil
	return sock
}

func (c *Client) handshakeQuery() url.Values {
	query := url.Values{
		models.HandshakeAgentID:     {c.agentID},
		models.HandshakeProjectName: {c.metadata.ProjectName},
		models.HandshakeLocation:    {c.metadata.Location},
	}
	if c.metadata.Owner != nil {
		query.Set(models.HandshakeOwner, *c.metadata.Owner)
	}
	if c.metadata.Host != nil {
		query.Set(models.HandshakeHost, *c.metadata.Host)
	}
	if c.metadata.Version != nil {
		query.Set(models.HandshakeVersion, *c.metadata.Version)
	}
	return query
}

// markConnected updates the connected flag for the current generation and
// reports whether the generation is still current.
func (c *Client) markConnected(generation uint64, connected bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.current {
		return false
	}
	c.connected = connected
	return true
}

func (c *Client) isConnected(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation == c.current && c.connected
}

func (c *Client) report(fn func(r Reporter)) {
	c.mu.Lock()
	reporter := c.reporter
	c.mu.Unlock()
	if reporter != nil {
		fn(reporter)
	}
}

func (c *Client) ackHandler() AckHandlerFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onAck
}

func (c *Client) alertHandler() AlertHandlerFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onAlert
}

func first(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
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
