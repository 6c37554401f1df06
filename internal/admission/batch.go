package admission

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
)

// ErrBatchFull is returned when a batch already holds the maximum number of files.
var ErrBatchFull = eris.New("admission: batch file limit reached")

// BatchCounter tracks how many files each client batch has been allowed to upload.
type BatchCounter interface {
	// RecordUpload counts one more file for batchID and returns the new
	// count, or ErrBatchFull without counting when the limit is reached.
	RecordUpload(batchID string) (int, error)
}

// BatchConfig configures a BatchTracker.
type BatchConfig struct {
	// MaxFiles per batch. Default: 8.
	MaxFiles int
	// TTL of a batch entry, refreshed on every recorded upload. Default: 10m.
	TTL time.Duration
	// CacheSize bounds the number of tracked batches. Default: 10000.
	CacheSize int
	// Now defaults to time.Now.
	Now Clock
}

type batchEntry struct {
	count   int
	expires time.Time
}

// BatchTracker is an in-process BatchCounter backed by a bounded LRU.
// Expired entries are treated as absent on the next lookup.
type BatchTracker struct {
	mu      sync.Mutex
	entries *lru.Cache[string, batchEntry]
	max     int
	ttl     time.Duration
	now     Clock
}

// NewBatchTracker creates a BatchTracker, applying defaults to zero fields.
func NewBatchTracker(cfg BatchConfig) (*BatchTracker, error) {
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 8
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	entries, err := lru.New[string, batchEntry](cfg.CacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "admission: create batch cache")
	}
	return &BatchTracker{
		entries: entries,
		max:     cfg.MaxFiles,
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}, nil
}

func (b *BatchTracker) RecordUpload(batchID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e, ok := b.entries.Get(batchID)
	if !ok || !now.Before(e.expires) {
		e = batchEntry{}
	}
	if e.count >= b.max {
		return e.count, ErrBatchFull
	}

	e.count++
	e.expires = now.Add(b.ttl)
	b.entries.Add(batchID, e)
	return e.count, nil
}
