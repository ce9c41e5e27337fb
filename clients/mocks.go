package clients

import (
	"context"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/mock"

	"connmonitor/models"
)

// MockNotificationSink implements NotificationSink for testing
type MockNotificationSink struct {
	mock.Mock
}

func (m *MockNotificationSink) SendAlert(ctx context.Context, message string, severity models.AlertSeverity) error {
	args := m.Called(ctx, message, severity)
	return args.Error(0)
}

// MockSessionServer implements SessionServer for testing
type MockSessionServer struct {
	mock.Mock
}

func (m *MockSessionServer) SendToAgent(agentID string, event string, payload any) error {
	args := m.Called(agentID, event, payload)
	return args.Error(0)
}

func (m *MockSessionServer) BroadcastToViewers(event string, payload any) int {
	args := m.Called(event, payload)
	return args.Int(0)
}

func (m *MockSessionServer) RegisterWithRouter(router *mux.Router) {
	m.Called(router)
}

func (m *MockSessionServer) RegisterConnectionHook(hook ConnectionHookFunc) {
	m.Called(hook)
}

func (m *MockSessionServer) RegisterDisconnectionHook(hook DisconnectionHookFunc) {
	m.Called(hook)
}

func (m *MockSessionServer) RegisterEventHandler(event string, handler EventHandlerFunc) {
	m.Called(event, handler)
}

func (m *MockSessionServer) SessionCount() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockSessionServer) Close() {
	m.Called()
}
