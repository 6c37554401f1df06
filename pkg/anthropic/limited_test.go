package anthropic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestWithRateLimit_PassesThrough(t *testing.T) {
	mc := new(MockClient)
	req := MessageRequest{Model: "claude-sonnet-4-5-20250929", MaxTokens: 16}
	mc.On("CreateMessage", mock.Anything, req).Return(&MessageResponse{ID: "msg_1"}, nil).Twice()

	c := WithRateLimit(mc, 100, 2)
	for i := 0; i < 2; i++ {
		resp, err := c.CreateMessage(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "msg_1", resp.ID)
	}
	mc.AssertExpectations(t)
}

func TestWithRateLimit_WaitHonoursContext(t *testing.T) {
	mc := new(MockClient)
	req := MessageRequest{Model: "m"}
	mc.On("CreateMessage", mock.Anything, req).Return(&MessageResponse{}, nil).Once()

	c := WithRateLimit(mc, 0.001, 1)
	_, err := c.CreateMessage(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.CreateMessage(ctx, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestWithRateLimit_DisabledReturnsClient(t *testing.T) {
	mc := new(MockClient)
	assert.Same(t, mc, WithRateLimit(mc, 0, 4))
}
