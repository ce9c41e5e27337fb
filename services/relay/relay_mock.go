package relay

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of Publisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel Channel, event any) error {
	args := m.Called(ctx, channel, event)
	return args.Error(0)
}

func (m *MockPublisher) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}
