package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/estimator/internal/config"
	"github.com/sells-group/estimator/internal/model"
	"github.com/sells-group/estimator/internal/store"
	"github.com/sells-group/estimator/pkg/anthropic"
	anthropicmocks "github.com/sells-group/estimator/pkg/anthropic/mocks"
)

const widgetOrigin = "https://haulpros.example"

func testServeConfig(dbPath string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, AllowedOrigins: []string{widgetOrigin}},
		Admin:  config.AdminConfig{Token: "s3cret"},
		Limits: config.LimitsConfig{
			RateMax:             5,
			RateWindow:          10 * time.Minute,
			CacheSize:           100,
			MaxBodyBytes:        1 << 20,
			MaxImages:           8,
			MaxFileBytes:        10 << 20,
			MaxBatchBytes:       60 << 20,
			MaxBatchFiles:       8,
			AllowedContentTypes: []string{"image/jpeg", "image/png", "image/webp"},
		},
		Anthropic: config.AnthropicConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 1024,
			Timeout:   5 * time.Second,
		},
		Retry:   config.RetryConfig{MaxAttempts: 1},
		Circuit: config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
		Store:   config.StoreConfig{Driver: "sqlite", DatabaseURL: dbPath, Timeout: time.Second},
		Quote:   config.QuoteConfig{ServiceArea: []string{"972"}},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}
}

func newServeFixture(t *testing.T) (http.Handler, store.Store, *anthropicmocks.MockClient) {
	t.Helper()
	cfg = testServeConfig(filepath.Join(t.TempDir(), "estimator.db"))

	st, err := initStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	mc := anthropicmocks.NewMockClient(t)
	h, err := buildHandler(st, mc)
	require.NoError(t, err)
	return h, st, mc
}

func TestBuildHandler_EstimateRoundTrip(t *testing.T) {
	h, st, mc := newServeFixture(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Model:   "claude-sonnet-4-5-20250929",
		Content: []anthropic.ContentBlock{{Type: "text", Text: "Should be quick.\n```json\n{\"customer_line\":\"About $120.\",\"price_low\":100}\n```"}},
		Usage:   anthropic.TokenUsage{InputTokens: 900, OutputTokens: 120},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/estimate",
		strings.NewReader(`{"zip":"97201","description":"Old recliner in the garage"}`))
	req.Header.Set("Origin", widgetOrigin)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp model.QuoteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Serviceable)
	assert.Equal(t, "About $120.", resp.CustomerLine)

	res, err := st.List(context.Background(), store.ListOptions{Prefix: store.RecordPrefix})
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Contains(t, res.Objects[0].Key, "/97201-")

	admin := httptest.NewRequest(http.MethodGet, "/admin/list", nil)
	admin.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), res.Objects[0].Key)
}

func TestBuildHandler_ModelFailureFallsBack(t *testing.T) {
	h, st, mc := newServeFixture(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded).Once()

	req := httptest.NewRequest(http.MethodPost, "/estimate",
		strings.NewReader(`{"zip":"10001","description":"Old recliner in the garage"}`))
	req.Header.Set("Origin", widgetOrigin)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp model.QuoteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Serviceable)
	assert.NotEmpty(t, resp.CustomerLine)
	assert.Empty(t, resp.Data)

	res, err := st.List(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
}

func TestBuildHandler_SQLiteCannotSign(t *testing.T) {
	h, _, _ := newServeFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/blob/sign", strings.NewReader(`{}`))
	req.Header.Set("Origin", widgetOrigin)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestRunServer_GracefulShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}), port)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/")
		if err != nil {
			return false
		}
		resp.Body.Close() //nolint:errcheck
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
