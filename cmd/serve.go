package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/estimator/internal/admission"
	"github.com/sells-group/estimator/internal/api"
	"github.com/sells-group/estimator/internal/estimate"
	"github.com/sells-group/estimator/internal/resilience"
	"github.com/sells-group/estimator/internal/store"
	"github.com/sells-group/estimator/pkg/anthropic"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the estimate API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		handler, err := buildHandler(st, anthropic.NewClient(cfg.Anthropic.Key))
		if err != nil {
			return err
		}

		return runServer(ctx, handler, cfg.Server.Port)
	},
}

// buildHandler wires the admission gate, estimate service and HTTP router
// around st and client.
func buildHandler(st store.Store, client anthropic.Client) (http.Handler, error) {
	limiter, err := admission.NewWindowLimiter(admission.WindowConfig{
		Max:       cfg.Limits.RateMax,
		Window:    cfg.Limits.RateWindow,
		CacheSize: cfg.Limits.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	batches, err := admission.NewBatchTracker(admission.BatchConfig{
		MaxFiles:  cfg.Limits.MaxBatchFiles,
		TTL:       cfg.Limits.BatchTTL,
		CacheSize: cfg.Limits.CacheSize,
	})
	if err != nil {
		return nil, err
	}

	origins := admission.NewOriginPolicy(cfg.Server.AllowedOrigins)
	if len(cfg.Server.AllowedOrigins) == 0 {
		zap.L().Warn("server.allowed_origins is empty, all browser requests will be rejected")
	}
	gate := admission.NewGate(origins, limiter, batches,
		admission.NewRequestValidator(cfg.Limits.MaxImages),
		admission.Limits{
			MaxBodyBytes:        cfg.Limits.MaxBodyBytes,
			MaxFileBytes:        cfg.Limits.MaxFileBytes,
			MaxBatchBytes:       cfg.Limits.MaxBatchBytes,
			AllowedContentTypes: cfg.Limits.AllowedContentTypes,
		},
	)

	records := store.NewRecords(st, cfg.Store.Timeout)
	svc := estimate.NewService(
		anthropic.WithRateLimit(client, cfg.Anthropic.RequestsPerSecond, cfg.Anthropic.Burst),
		records,
		estimate.Config{
			Model:           cfg.Anthropic.Model,
			MaxTokens:       cfg.Anthropic.MaxTokens,
			Timeout:         cfg.Anthropic.Timeout,
			CacheTTL:        cfg.Anthropic.CacheTTL,
			FallbackMessage: cfg.Quote.FallbackMessage,
			Prompt: estimate.PromptConfig{
				BusinessName: cfg.Quote.BusinessName,
				PricingNotes: cfg.Quote.PricingNotes,
				ServiceArea:  cfg.Quote.ServiceArea,
			},
			Retry:   resilience.FromMillis(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
			Breaker: resilience.FromSeconds("anthropic", cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
		},
	)

	var uploads store.Presigner
	if p, ok := st.(store.Presigner); ok {
		uploads = p
	} else {
		zap.L().Info("store cannot sign uploads, /blob/sign disabled", zap.String("driver", cfg.Store.Driver))
	}
	if cfg.Admin.Token == "" {
		zap.L().Warn("admin.token is empty, admin endpoints are locked")
	}

	return api.NewRouter(api.Deps{
		Gate:       gate,
		Quotes:     svc,
		Records:    records,
		Uploads:    uploads,
		AdminToken: cfg.Admin.Token,
	}), nil
}

// runServer serves h until ctx is cancelled, then drains in-flight requests.
func runServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
