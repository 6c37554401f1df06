// Package store persists quote records and signs photo uploads on top of a
// key/value blob store. S3 is the production backend; SQLite and Postgres
// hold the same blobs in a single table for local runs and self-hosting.
package store

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = eris.New("store: object not found")

// Object is the listing metadata of one stored blob.
type Object struct {
	Key        string
	Size       int64
	UploadedAt time.Time
}

// ListOptions selects a page of keys in ascending order.
type ListOptions struct {
	Prefix     string
	StartAfter string
	Limit      int
}

// ListResult is one page of a listing.
type ListResult struct {
	Objects []Object
	// Truncated reports whether keys follow the last returned object.
	Truncated bool
}

// Store defines the blob persistence interface.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// URL returns the public address of key.
	URL(key string) string
	// KeyFromURL maps a URL produced by URL back to its key. It reports
	// false for anything outside this store.
	KeyFromURL(u string) (string, bool)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// PresignedUpload is a time-limited direct upload grant.
type PresignedUpload struct {
	URL       string
	Method    string
	Headers   map[string]string
	ExpiresIn time.Duration
}

// Presigner is implemented by stores that can grant direct client uploads.
type Presigner interface {
	PresignUpload(ctx context.Context, key, contentType string, size int64) (*PresignedUpload, error)
}

// urlMapper converts between keys and URLs under a fixed base.
type urlMapper struct {
	base string
}

func newURLMapper(base string) urlMapper {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return urlMapper{base: base}
}

func (m urlMapper) URL(key string) string {
	return m.base + key
}

func (m urlMapper) KeyFromURL(u string) (string, bool) {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	rest, ok := strings.CutPrefix(u, m.base)
	if !ok || rest == "" {
		return "", false
	}
	key, err := url.PathUnescape(rest)
	if err != nil || !validKey(key) {
		return "", false
	}
	return key, true
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func pageLimit(n int) int {
	if n <= 0 || n > 1000 {
		return 1000
	}
	return n
}
