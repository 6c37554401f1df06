package estimate

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/estimator/internal/model"
	"github.com/sells-group/estimator/internal/resilience"
	"github.com/sells-group/estimator/pkg/anthropic"
	anthropicmocks "github.com/sells-group/estimator/pkg/anthropic/mocks"
)

// fakeRecords captures saved records.
type fakeRecords struct {
	mu    sync.Mutex
	saved []*model.QuoteRecord
	err   error
}

func (f *fakeRecords) Save(_ context.Context, rec *model.QuoteRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	rec.ID = "01JAXQ5Z5C8Y3V4Q2G7M1N0P9R"
	f.saved = append(f.saved, rec)
	return "estimates/2026-10/" + rec.Zip + "-" + rec.ID + ".json", nil
}

func testConfig() Config {
	return Config{
		Model:   "claude-sonnet-4-5-20250929",
		Timeout: time.Second,
		Prompt:  PromptConfig{BusinessName: "Haul Pros", ServiceArea: []string{"972", "973"}},
		Retry:   resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Breaker: resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
	}
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Model:   "claude-sonnet-4-5-20250929",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1500, OutputTokens: 200},
	}
}

// apiError builds an SDK error the way the client returns it, with the
// request and response populated so Error() is safe to call.
func apiError(status int) error {
	req, _ := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	return eris.Wrap(&sdk.Error{
		StatusCode: status,
		Request:    req,
		Response:   &http.Response{StatusCode: status, Request: req},
	}, "anthropic: create message")
}

var couchRequest = model.QuoteRequest{
	Zip:         "97201",
	Description: "Haul away an old sectional couch",
	ImageURLs:   []string{"https://blob.example.com/uploads/b1/a.jpg"},
}

func TestQuote_Success(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1 &&
			len(req.Messages[0].ImageURLs) == 1 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil
	})).Return(textResponse("Looks like a quick job!\n```json\n{\"customer_line\":\"About $150 to $220.\",\"price_low\":150,\"price_high\":220,}\n```"), nil)

	recs := &fakeRecords{}
	svc := NewService(mc, recs, testConfig())

	out := svc.Quote(context.Background(), couchRequest, "203.0.113.7")
	assert.True(t, out.Serviceable)
	assert.Equal(t, "About $150 to $220.", out.CustomerLine)
	assert.Equal(t, float64(150), out.Data["price_low"])

	require.Len(t, recs.saved, 1)
	rec := recs.saved[0]
	assert.Equal(t, "203.0.113.7", rec.ClientIP)
	assert.Equal(t, "97201", rec.Zip)
	assert.Equal(t, 1, rec.ImageCount)
	assert.True(t, rec.Extracted)
	assert.Equal(t, couchRequest, rec.Request)
	assert.Equal(t, int64(1500), rec.Usage.InputTokens)
	assert.Greater(t, rec.Usage.EstimatedCostUSD, 0.0)
	assert.Contains(t, rec.RawText, "Looks like a quick job!")
}

func TestQuote_NoJSONUsesFirstLine(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("\n\nRoughly $200 for a couch pickup.\nMore detail follows."), nil)

	recs := &fakeRecords{}
	out := NewService(mc, recs, testConfig()).Quote(context.Background(), couchRequest, "ip")

	assert.Equal(t, "Roughly $200 for a couch pickup.", out.CustomerLine)
	assert.NotNil(t, out.Data)
	assert.Empty(t, out.Data)
	require.Len(t, recs.saved, 1)
	assert.False(t, recs.saved[0].Extracted)
}

func TestQuote_ArrayIsNotData(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("Here you go\n```json\n[1,2]\n```"), nil)

	out := NewService(mc, nil, testConfig()).Quote(context.Background(), couchRequest, "ip")
	assert.Empty(t, out.Data)
	assert.Equal(t, "Here you go", out.CustomerLine)
}

func TestQuote_ModelErrorFallsBack(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, apiError(http.StatusBadRequest)).Once()

	recs := &fakeRecords{}
	svc := NewService(mc, recs, testConfig())
	out := svc.Quote(context.Background(), couchRequest, "ip")

	assert.Equal(t, svc.Fallback("97201"), out)
	assert.Equal(t, DefaultFallbackMessage, out.CustomerLine)
	assert.Empty(t, recs.saved)
}

func TestQuote_TransientErrorRetried(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, apiError(529)).Once()
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("About $90."), nil).Once()

	out := NewService(mc, nil, testConfig()).Quote(context.Background(), couchRequest, "ip")
	assert.Equal(t, "About $90.", out.CustomerLine)
}

func TestQuote_EmptyOutputFallsBack(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("  \n "), nil)

	recs := &fakeRecords{}
	out := NewService(mc, recs, testConfig()).Quote(context.Background(), couchRequest, "ip")
	assert.Equal(t, DefaultFallbackMessage, out.CustomerLine)
	assert.Empty(t, out.Data)
	assert.Empty(t, recs.saved)
}

func TestQuote_StorageFailureSwallowed(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"customer_line":"About $100.","price_low":100}`), nil)

	recs := &fakeRecords{err: errors.New("s3: put: access denied")}
	out := NewService(mc, recs, testConfig()).Quote(context.Background(), couchRequest, "ip")

	assert.Equal(t, "About $100.", out.CustomerLine)
	assert.Equal(t, float64(100), out.Data["price_low"])
}

func TestQuote_OutsideServiceAreaStillQuoted(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("About $300."), nil)

	req := couchRequest
	req.Zip = "10001"
	out := NewService(mc, nil, testConfig()).Quote(context.Background(), req, "ip")
	assert.False(t, out.Serviceable)
	assert.Equal(t, "About $300.", out.CustomerLine)
}

func TestQuote_TimeoutFallsBack(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	out := NewService(mc, nil, cfg).Quote(context.Background(), couchRequest, "ip")
	assert.Equal(t, DefaultFallbackMessage, out.CustomerLine)
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestQuote_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	mc := anthropicmocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, apiError(503))

	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	svc := NewService(mc, nil, cfg)

	for i := 0; i < 4; i++ {
		out := svc.Quote(context.Background(), couchRequest, "ip")
		assert.Equal(t, DefaultFallbackMessage, out.CustomerLine)
	}
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestServiceable(t *testing.T) {
	svc := NewService(anthropicmocks.NewMockClient(t), nil, testConfig())
	assert.True(t, svc.Serviceable("97201"))
	assert.True(t, svc.Serviceable("97330"))
	assert.False(t, svc.Serviceable("98101"))

	everywhere := NewService(anthropicmocks.NewMockClient(t), nil, Config{})
	assert.True(t, everywhere.Serviceable("00501"))
}

func TestCustomerLine(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		text string
		want string
	}{
		{"field wins", map[string]any{"customer_line": " About $80. "}, "Other line", "About $80."},
		{"non-string field ignored", map[string]any{"customer_line": 5}, "First line", "First line"},
		{"skips fences and braces", map[string]any{}, "```json\n{\"a\":1}\n```\nAfter", "After"},
		{"nothing", map[string]any{}, "```\n```", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, customerLine(tt.data, tt.text))
		})
	}
}
