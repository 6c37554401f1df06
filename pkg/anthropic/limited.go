package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// rateLimited throttles CreateMessage through a shared token bucket.
type rateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit wraps c so that calls wait for a token from a limiter
// allowing rps requests per second with the given burst. A non-positive
// rps returns c unchanged.
func WithRateLimit(c Client, rps float64, burst int) Client {
	if rps <= 0 {
		return c
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{next: c, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "anthropic: rate limit wait")
	}
	return r.next.CreateMessage(ctx, req)
}
