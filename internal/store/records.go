package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/estimator/internal/model"
)

// ErrInvalidFilter is returned by Records.List for malformed filters.
var ErrInvalidFilter = eris.New("store: invalid filter")

// Records stores quote records as JSON blobs under the record key scheme.
// Every call runs under the configured timeout.
type Records struct {
	store   Store
	timeout time.Duration
}

// NewRecords wraps a blob store. A non-positive timeout means 15s.
func NewRecords(s Store, timeout time.Duration) *Records {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Records{store: s, timeout: timeout}
}

// Store returns the underlying blob store.
func (r *Records) Store() Store { return r.store }

// Save assigns rec an ID when it has none, writes it, and returns its key.
func (r *Records) Save(ctx context.Context, rec *model.QuoteRecord) (string, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	id, err := ulid.ParseStrict(rec.ID)
	if err != nil {
		id, err = ulid.New(ulid.Timestamp(rec.CreatedAt), ulid.DefaultEntropy())
		if err != nil {
			return "", eris.Wrap(err, "store: new record id")
		}
		rec.ID = id.String()
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal record")
	}

	key := RecordKey(id, rec.Zip)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.Put(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the raw JSON of the record at key.
func (r *Records) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if _, ok := ParseRecordKey(key); !ok {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	b, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// RecordFilter selects records for listing.
type RecordFilter struct {
	// Date restricts to one UTC day, YYYY-MM-DD.
	Date  string
	Zip   string
	Limit int
	// Cursor is the key of the last record of the previous page.
	Cursor string
}

// RecordPage is one page of record summaries. NextCursor is nil on the
// last page.
type RecordPage struct {
	Items      []model.QuoteSummary `json:"items"`
	NextCursor *string              `json:"next_cursor"`
}

// List pages through records in key order. Filters are applied to the keys,
// so a page may take several store calls to fill.
func (r *Records) List(ctx context.Context, f RecordFilter) (*RecordPage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	prefix := RecordPrefix
	var day string
	if f.Date != "" {
		t, err := time.Parse("2006-01-02", f.Date)
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidFilter, "date %q must be YYYY-MM-DD", f.Date)
		}
		prefix = MonthPrefix(t)
		day = f.Date
	}
	zip := strings.TrimSpace(f.Zip)
	if zip != "" {
		zip = safeSegment(zip)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	page := &RecordPage{Items: []model.QuoteSummary{}}
	after := f.Cursor
	if after != "" && after < prefix {
		after = prefix
	}
	for {
		res, err := r.store.List(ctx, ListOptions{Prefix: prefix, StartAfter: after, Limit: limit})
		if err != nil {
			return nil, err
		}
		for i, o := range res.Objects {
			info, ok := ParseRecordKey(o.Key)
			if !ok {
				continue
			}
			if day != "" && info.CreatedAt.Format("2006-01-02") != day {
				continue
			}
			if zip != "" && info.Zip != zip {
				continue
			}
			page.Items = append(page.Items, model.QuoteSummary{
				Key:        o.Key,
				URL:        r.store.URL(o.Key),
				ID:         info.ID.String(),
				Zip:        info.Zip,
				Size:       o.Size,
				UploadedAt: o.UploadedAt,
			})
			if len(page.Items) == limit {
				if i < len(res.Objects)-1 || res.Truncated {
					next := o.Key
					page.NextCursor = &next
				}
				return page, nil
			}
		}
		if !res.Truncated || len(res.Objects) == 0 {
			return page, nil
		}
		after = res.Objects[len(res.Objects)-1].Key
	}
}
