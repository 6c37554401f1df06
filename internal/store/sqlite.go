package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DefaultBaseURL is the URL base for blobs held in a SQL table. It is
// opaque: admin get resolves it back to a key but nothing serves it.
const DefaultBaseURL = "store://blobs/"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	urlMapper
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn, baseURL string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &SQLiteStore{db: db, urlMapper: newURLMapper(baseURL)}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS blobs (
	key          TEXT PRIMARY KEY,
	body         BLOB NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	size         INTEGER NOT NULL,
	uploaded_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (key, body, content_type, size, uploaded_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, content_type = excluded.content_type,
		 size = excluded.size, uploaded_at = excluded.uploaded_at`,
		key, body, contentType, int64(len(body)), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put %s", key)
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM blobs WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", key)
	}
	return body, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := pageLimit(opts.Limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, size, uploaded_at FROM blobs
		 WHERE substr(key, 1, ?) = ? AND key > ?
		 ORDER BY key LIMIT ?`,
		len(opts.Prefix), opts.Prefix, opts.StartAfter, limit+1,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list blobs")
	}
	defer rows.Close() //nolint:errcheck

	res := &ListResult{}
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Key, &o.Size, &o.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan blob")
		}
		if len(res.Objects) == limit {
			res.Truncated = true
			break
		}
		res.Objects = append(res.Objects, o)
	}
	return res, eris.Wrap(rows.Err(), "sqlite: list blobs")
}
