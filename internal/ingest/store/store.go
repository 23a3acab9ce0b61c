package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Bluemott/contentsync/internal/models"
)

// DB is the narrow pgx surface the store needs. pgxpool.Pool satisfies
// it in production, pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PGStore is the relational store behind both the ingestion pipeline
// and the query service.
type PGStore struct {
	db DB
}

const schema = `
CREATE TABLE IF NOT EXISTS authors (
  external_id  BIGINT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS posts (
  external_id  BIGINT PRIMARY KEY,
  slug         TEXT NOT NULL,
  title        TEXT NOT NULL,
  body         TEXT NOT NULL,
  excerpt      TEXT NOT NULL,
  status       TEXT NOT NULL,
  published_at TIMESTAMPTZ NOT NULL,
  modified_at  TIMESTAMPTZ NOT NULL,
  author_id    BIGINT NOT NULL DEFAULT 0,
  payload_hash TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_published_slug
  ON posts(slug) WHERE status = 'publish';
CREATE INDEX IF NOT EXISTS idx_posts_feed
  ON posts(published_at DESC, external_id DESC);
CREATE TABLE IF NOT EXISTS categories (
  external_id  BIGINT PRIMARY KEY,
  slug         TEXT NOT NULL UNIQUE,
  name         TEXT NOT NULL,
  description  TEXT NOT NULL DEFAULT '',
  member_count INT NOT NULL DEFAULT 0,
  payload_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tags (
  external_id  BIGINT PRIMARY KEY,
  slug         TEXT NOT NULL UNIQUE,
  name         TEXT NOT NULL,
  description  TEXT NOT NULL DEFAULT '',
  member_count INT NOT NULL DEFAULT 0,
  payload_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS post_categories (
  post_id     BIGINT NOT NULL REFERENCES posts(external_id),
  category_id BIGINT NOT NULL REFERENCES categories(external_id),
  PRIMARY KEY (post_id, category_id)
);
CREATE TABLE IF NOT EXISTS post_tags (
  post_id BIGINT NOT NULL REFERENCES posts(external_id),
  tag_id  BIGINT NOT NULL REFERENCES tags(external_id),
  PRIMARY KEY (post_id, tag_id)
);
`

// New connects a pgx pool and bootstraps the schema.
func New(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrapping schema: %w", err)
	}
	return &PGStore{db: pool}, nil
}

// NewWithDB wraps an existing pgx-compatible connection source.
func NewWithDB(db DB) *PGStore {
	return &PGStore{db: db}
}

// Ping reports store reachability.
func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return &models.StoreUnavailableError{Op: "ping", Err: err}
	}
	return nil
}

func termTable(kind models.Kind) string {
	if kind == models.KindTag {
		return "tags"
	}
	return "categories"
}

// classifyWriteErr splits per-entity write failures: constraint
// violations (class 23) are recorded and the batch continues, anything
// else is fatal for the transaction.
func classifyWriteErr(entity models.Kind, externalID int64, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &models.ConflictError{Entity: entity, ExternalID: externalID, Err: err}
	}
	return &models.StoreUnavailableError{
		Op:  fmt.Sprintf("upsert %s %d", entity, externalID),
		Err: err,
	}
}
