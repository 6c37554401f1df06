// Package estimate turns an admitted quote request into a customer-facing
// estimate: it asks the vision model, recovers structured data from the
// reply, and writes the audit record.
package estimate

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/estimator/internal/extract"
	"github.com/sells-group/estimator/internal/model"
	"github.com/sells-group/estimator/internal/resilience"
	"github.com/sells-group/estimator/pkg/anthropic"
)

// DefaultFallbackMessage is shown when no estimate could be produced.
const DefaultFallbackMessage = "Thanks! We couldn't generate an instant estimate right now. Please try again, or contact us and we'll follow up."

const maxCustomerLine = 500

// RecordSaver persists quote records.
type RecordSaver interface {
	Save(ctx context.Context, rec *model.QuoteRecord) (string, error)
}

// Config configures a Service.
type Config struct {
	Model           string
	MaxTokens       int64
	Timeout         time.Duration
	CacheTTL        string
	FallbackMessage string
	Prompt          PromptConfig
	Retry           resilience.RetryConfig
	Breaker         resilience.BreakerConfig
}

// Service produces quotes.
type Service struct {
	client  anthropic.Client
	records RecordSaver
	breaker *resilience.CircuitBreaker
	cfg     Config
	system  []anthropic.SystemBlock
	now     func() time.Time
}

// NewService wires a Service. records may be nil, in which case nothing is
// persisted.
func NewService(client anthropic.Client, records RecordSaver, cfg Config) *Service {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = DefaultFallbackMessage
	}
	cfg.Retry.ShouldRetry = retryable
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "quote")
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "anthropic"
	}
	cfg.Breaker.ShouldTrip = tripsBreaker

	return &Service{
		client:  client,
		records: records,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		cfg:     cfg,
		system:  anthropic.BuildCachedSystemBlocks(SystemPrompt(cfg.Prompt), cfg.CacheTTL),
		now:     time.Now,
	}
}

// Serviceable reports whether zip falls in the configured service area. An
// empty area serves everywhere.
func (s *Service) Serviceable(zip string) bool {
	if len(s.cfg.Prompt.ServiceArea) == 0 {
		return true
	}
	for _, prefix := range s.cfg.Prompt.ServiceArea {
		if prefix != "" && strings.HasPrefix(zip, prefix) {
			return true
		}
	}
	return false
}

// Fallback is the response used whenever the model path fails.
func (s *Service) Fallback(zip string) model.QuoteResponse {
	return model.QuoteResponse{
		Serviceable:  s.Serviceable(zip),
		CustomerLine: s.cfg.FallbackMessage,
		Data:         map[string]any{},
	}
}

// Quote asks the model for an estimate. It never returns an error: any
// failure after admission yields the fallback response. A failed record
// write is logged and does not affect the response.
func (s *Service) Quote(ctx context.Context, req model.QuoteRequest, clientIP string) model.QuoteResponse {
	start := s.now()
	log := zap.L().With(zap.String("client_ip", clientIP), zap.String("zip", req.Zip))

	resp, err := s.callModel(ctx, req)
	modelDur := s.now().Sub(start)
	if err != nil {
		log.Warn("estimate: model call failed",
			zap.Error(err),
			zap.Int("status", anthropic.StatusCode(err)),
			zap.Duration("elapsed", modelDur),
		)
		return s.Fallback(req.Zip)
	}

	modelID := resp.Model
	if modelID == "" {
		modelID = s.cfg.Model
	}
	resp.Usage.LogCost(modelID, "quote")

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		log.Warn("estimate: empty model output", zap.String("stop_reason", resp.StopReason))
		return s.Fallback(req.Zip)
	}

	data, extracted := extractObject(text)
	if !extracted {
		log.Info("estimate: no json in model output", zap.Int("text_len", len(text)))
	}
	line := customerLine(data, text)
	if line == "" {
		line = s.cfg.FallbackMessage
	}

	out := model.QuoteResponse{
		Serviceable:  s.Serviceable(req.Zip),
		CustomerLine: line,
		Data:         data,
	}

	if s.records != nil {
		rec := &model.QuoteRecord{
			CreatedAt:    start.UTC(),
			ClientIP:     clientIP,
			Zip:          req.Zip,
			ImageCount:   len(req.ImageURLs),
			Serviceable:  out.Serviceable,
			CustomerLine: out.CustomerLine,
			RawText:      text,
			Data:         data,
			Extracted:    extracted,
			Request:      req,
			Model:        modelID,
			Timing: model.Timing{
				ModelMS: modelDur.Milliseconds(),
				TotalMS: s.now().Sub(start).Milliseconds(),
			},
			Usage: model.Usage{
				InputTokens:      resp.Usage.InputTokens,
				OutputTokens:     resp.Usage.OutputTokens,
				EstimatedCostUSD: resp.Usage.EstimateCost(modelID),
			},
		}
		key, err := s.records.Save(ctx, rec)
		if err != nil {
			log.Error("estimate: record write failed", zap.Error(err))
		} else {
			log.Info("estimate: quote recorded", zap.String("quote_id", rec.ID), zap.String("key", key))
		}
	}

	return out
}

func (s *Service) callModel(ctx context.Context, req model.QuoteRequest) (*anthropic.MessageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	msg := anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    s.system,
		Messages: []anthropic.Message{{
			Role:      "user",
			Content:   UserPrompt(req),
			ImageURLs: req.ImageURLs,
		}},
	}
	return resilience.Execute(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.Do(ctx, s.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return s.client.CreateMessage(ctx, msg)
		})
	})
}

func retryable(err error) bool {
	return resilience.IsTransient(err) || resilience.IsTransientHTTPStatus(anthropic.StatusCode(err))
}

func tripsBreaker(err error) bool {
	return retryable(err) || errors.Is(err, context.DeadlineExceeded)
}

// extractObject returns the extracted JSON object, or an empty map when the
// text holds none.
func extractObject(text string) (map[string]any, bool) {
	v, ok := extract.JSON(text)
	if obj, isObj := v.(map[string]any); ok && isObj {
		return obj, true
	}
	return map[string]any{}, false
}

// customerLine prefers the model's customer_line field and otherwise takes
// the first prose line of the reply.
func customerLine(data map[string]any, text string) string {
	if s, ok := data["customer_line"].(string); ok && strings.TrimSpace(s) != "" {
		return truncateRunes(strings.TrimSpace(s), maxCustomerLine)
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") || strings.HasPrefix(line, "{") {
			continue
		}
		return truncateRunes(line, maxCustomerLine)
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
