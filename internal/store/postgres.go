package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pool
	urlMapper
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString, baseURL string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &PostgresStore{pool: p, urlMapper: newURLMapper(baseURL)}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS blobs (
	key          TEXT PRIMARY KEY,
	body         BYTEA NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	size         BIGINT NOT NULL,
	uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blobs (key, body, content_type, size, uploaded_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, content_type = EXCLUDED.content_type,
		 size = EXCLUDED.size, uploaded_at = EXCLUDED.uploaded_at`,
		key, body, contentType, int64(len(body)), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put %s", key)
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM blobs WHERE key = $1`, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", key)
	}
	return body, nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := pageLimit(opts.Limit)
	rows, err := s.pool.Query(ctx,
		`SELECT key, size, uploaded_at FROM blobs
		 WHERE starts_with(key, $1) AND key COLLATE "C" > $2
		 ORDER BY key COLLATE "C" LIMIT $3`,
		opts.Prefix, opts.StartAfter, limit+1,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list blobs")
	}
	defer rows.Close()

	res := &ListResult{}
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Key, &o.Size, &o.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan blob")
		}
		if len(res.Objects) == limit {
			res.Truncated = true
			break
		}
		res.Objects = append(res.Objects, o)
	}
	return res, eris.Wrap(rows.Err(), "postgres: list blobs")
}
