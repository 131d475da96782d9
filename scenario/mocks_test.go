package scenario

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockAgent mocks the agent under test
type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) Chat(ctx context.Context, message string) (*AgentResponse, error) {
	args := m.Called(ctx, message)
	resp, _ := args.Get(0).(*AgentResponse)
	return resp, args.Error(1)
}
