package admission

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for a client key.
type Limiter interface {
	Admit(key string) Decision
}

// WindowConfig configures a WindowLimiter.
type WindowConfig struct {
	// Max is the number of requests admitted per key inside Window. Default: 5.
	Max int
	// Window is the trailing duration requests are counted over. Default: 10m.
	Window time.Duration
	// CacheSize bounds the number of tracked keys; the least recently used
	// key is evicted first. Default: 10000.
	CacheSize int
	// Now defaults to time.Now.
	Now Clock
}

// WindowLimiter is a sliding-window log: it keeps the admitted instants per
// key and counts those still inside the window. Expired instants are
// filtered on the next attempt for that key, never by a timer.
//
// Because the window slides, a client can be admitted Max times just before
// an instant expires and Max more right after, so up to 2*Max requests can
// land inside any span of one window. State is per process; N replicas
// admit up to N*Max.
type WindowLimiter struct {
	mu     sync.Mutex
	hits   *lru.Cache[string, []time.Time]
	max    int
	window time.Duration
	now    Clock
}

// NewWindowLimiter creates a WindowLimiter, applying defaults to zero fields.
func NewWindowLimiter(cfg WindowConfig) (*WindowLimiter, error) {
	if cfg.Max <= 0 {
		cfg.Max = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	hits, err := lru.New[string, []time.Time](cfg.CacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "admission: create limiter cache")
	}
	return &WindowLimiter{
		hits:   hits,
		max:    cfg.Max,
		window: cfg.Window,
		now:    cfg.Now,
	}, nil
}

// Admit prunes expired instants for key and admits the request if fewer
// than Max remain, recording the current instant.
func (l *WindowLimiter) Admit(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	prev, _ := l.hits.Get(key)
	live := make([]time.Time, 0, l.max)
	for _, t := range prev {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}

	if len(live) >= l.max {
		l.hits.Add(key, live)
		return Decision{RetryAfter: live[0].Add(l.window).Sub(now)}
	}

	l.hits.Add(key, append(live, now))
	return Decision{Allowed: true}
}

// Count returns the number of unexpired instants recorded for key.
func (l *WindowLimiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	prev, _ := l.hits.Peek(key)
	n := 0
	for _, t := range prev {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
