package socketio

import (
	"fmt"
	"sync"

	"github.com/gorilla/mux"
	"github.com/zishang520/socket.io/v2/socket"

	"connmonitor/clients"
	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/utils"
)

// agentEvents are the inbound events forwarded to registered handlers.
var agentEvents = []string{models.EventHeartbeat, models.EventMetrics}

type connection struct {
	session *clients.Session
	socket  *socket.Socket
}

// SessionServerImpl accepts agent and viewer sessions over Socket.IO.
type SessionServerImpl struct {
	server *socket.Server

	mutex sync.RWMutex
	// agents holds the newest connection per agent id.
	agents             map[string]*connection
	viewers            map[string]*connection
	connectionHooks    []clients.ConnectionHookFunc
	disconnectionHooks []clients.DisconnectionHookFunc
	eventHandlers      map[string][]clients.EventHandlerFunc
}

var _ clients.SessionServer = (*SessionServerImpl)(nil)

func NewSessionServer() *SessionServerImpl {
	server := socket.NewServer(nil, nil)
	s := &SessionServerImpl{
		server:        server,
		agents:        make(map[string]*connection),
		viewers:       make(map[string]*connection),
		eventHandlers: make(map[string][]clients.EventHandlerFunc),
	}

	err := server.On("connection", func(sockets ...any) {
		sock := sockets[0].(*socket.Socket)
		s.handleConnection(sock)
	})
	utils.AssertInvariant(err == nil, fmt.Sprintf("Failed to register connection handler: %v", err))

	return s
}

func (s *SessionServerImpl) RegisterWithRouter(router *mux.Router) {
	log.Info("🚀 Registering Socket.IO server on /socket.io/ endpoint")
	router.PathPrefix("/socket.io/").Handler(s.server.ServeHandler(nil))
	log.Info("✅ Socket.IO server registered on /socket.io/")
}

func (s *SessionServerImpl) handleConnection(sock *socket.Socket) {
	socketID := string(sock.Id())
	log.Info("🔗 New Socket.IO connection attempt, socket ID: %s", socketID)

	handshake := sock.Handshake()
	session, err := sessionFromHandshake(socketID, newHandshakeValues(handshake.Query, handshake.Auth, handshake.Headers))
	if err != nil {
		log.Warn("❌ Rejecting Socket.IO connection: %v", err)
		sock.Disconnect(true)
		return
	}

	conn := &connection{session: session, socket: sock}
	if session.IsViewer() {
		s.addViewer(conn)
	} else {
		s.addAgent(conn)
		s.listenForAgentEvents(conn)
	}
	log.Info("✅ Socket.IO %s session %s connected (agent: %s, socket ID: %s)",
		session.Role, session.ID, session.AgentID, socketID)
	s.invokeConnectionHooks(session)

	err = sock.On("disconnect", func(args ...any) {
		reason := ""
		if len(args) > 0 {
			reason = fmt.Sprint(args[0])
		}
		log.Info("🔌 Socket.IO session %s closed (socket ID: %s, reason: %s)", session.ID, socketID, reason)
		s.removeConnection(conn)
		s.invokeDisconnectionHooks(session, ReasonFromDisconnect(reason))
	})
	utils.AssertInvariant(err == nil, fmt.Sprintf("Failed to set up disconnection handler for session %s: %v", session.ID, err))
}

func (s *SessionServerImpl) listenForAgentEvents(conn *connection) {
	for _, event := range agentEvents {
		err := conn.socket.On(event, func(data ...any) {
			var payload any
			if len(data) > 0 {
				payload = data[0]
			}
			s.invokeEventHandlers(event, conn.session, payload)
		})
		utils.AssertInvariant(err == nil, fmt.Sprintf("Failed to set up %s handler for session %s: %v", event, conn.session.ID, err))
	}
}

func (s *SessionServerImpl) addAgent(conn *connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if previous, ok := s.agents[conn.session.AgentID]; ok {
		log.Warn("⚠️ Agent %s reconnected, session %s replaces %s",
			conn.session.AgentID, conn.session.ID, previous.session.ID)
	}
	s.agents[conn.session.AgentID] = conn
	log.Info("📊 Agent %s added to active sessions. Total agents: %d", conn.session.AgentID, len(s.agents))
}

func (s *SessionServerImpl) addViewer(conn *connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.viewers[conn.session.ID] = conn
	log.Info("📊 Viewer %s added. Total viewers: %d", conn.session.ID, len(s.viewers))
}

func (s *SessionServerImpl) removeConnection(conn *connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if conn.session.IsViewer() {
		delete(s.viewers, conn.session.ID)
		return
	}
	// A newer session for the same agent stays in place.
	if current, ok := s.agents[conn.session.AgentID]; ok && current == conn {
		delete(s.agents, conn.session.AgentID)
	}
}

func (s *SessionServerImpl) SendToAgent(agentID string, event string, payload any) error {
	s.mutex.RLock()
	conn, ok := s.agents[agentID]
	s.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("no session for agent %s", agentID)
	}

	if err := conn.socket.Emit(event, payload); err != nil {
		return fmt.Errorf("failed to emit %s to agent %s: %w", event, agentID, err)
	}
	return nil
}

// BroadcastToViewers returns the number of viewers the event reached.
func (s *SessionServerImpl) BroadcastToViewers(event string, payload any) int {
	s.mutex.RLock()
	viewers := make([]*connection, 0, len(s.viewers))
	for _, conn := range s.viewers {
		viewers = append(viewers, conn)
	}
	s.mutex.RUnlock()

	sent := 0
	for _, conn := range viewers {
		if err := conn.socket.Emit(event, payload); err != nil {
			log.Warn("⚠️ Failed to emit %s to viewer %s: %v", event, conn.session.ID, err)
			continue
		}
		sent++
	}
	return sent
}

func (s *SessionServerImpl) SessionCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.agents) + len(s.viewers)
}

func (s *SessionServerImpl) RegisterConnectionHook(hook clients.ConnectionHookFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.connectionHooks = append(s.connectionHooks, hook)
	log.Info("🔗 Connection hook registered. Total connection hooks: %d", len(s.connectionHooks))
}

func (s *SessionServerImpl) RegisterDisconnectionHook(hook clients.DisconnectionHookFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.disconnectionHooks = append(s.disconnectionHooks, hook)
	log.Info("🔌 Disconnection hook registered. Total disconnection hooks: %d", len(s.disconnectionHooks))
}

func (s *SessionServerImpl) RegisterEventHandler(event string, handler clients.EventHandlerFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.eventHandlers[event] = append(s.eventHandlers[event], handler)
	log.Info("📝 Handler registered for %s events", event)
}

func (s *SessionServerImpl) invokeConnectionHooks(session *clients.Session) {
	s.mutex.RLock()
	hooks := append([]clients.ConnectionHookFunc(nil), s.connectionHooks...)
	s.mutex.RUnlock()

	for i, hook := range hooks {
		if err := hook(session); err != nil {
			log.Error("❌ Connection hook %d failed for session %s: %v", i+1, session.ID, err)
		}
	}
}

func (s *SessionServerImpl) invokeDisconnectionHooks(session *clients.Session, reason models.StatusReason) {
	s.mutex.RLock()
	hooks := append([]clients.DisconnectionHookFunc(nil), s.disconnectionHooks...)
	s.mutex.RUnlock()

	for i, hook := range hooks {
		if err := hook(session, reason); err != nil {
			log.Error("❌ Disconnection hook %d failed for session %s: %v", i+1, session.ID, err)
		}
	}
}

func (s *SessionServerImpl) invokeEventHandlers(event string, session *clients.Session, payload any) {
	s.mutex.RLock()
	handlers := append([]clients.EventHandlerFunc(nil), s.eventHandlers[event]...)
	s.mutex.RUnlock()

	for _, handler := range handlers {
		handler(session, payload)
	}
}

// Close disconnects every session and stops accepting new ones.
func (s *SessionServerImpl) Close() {
	log.Info("📋 Starting to close Socket.IO server")
	s.server.Close(nil)
	log.Info("📋 Completed successfully - closed Socket.IO server")
}
