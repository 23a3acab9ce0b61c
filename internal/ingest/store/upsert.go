package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/Bluemott/contentsync/internal/models"
)

// psql builds every statement with Postgres placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type storedPostMeta struct {
	ExternalID  int64     `db:"external_id"`
	PayloadHash string    `db:"payload_hash"`
	ModifiedAt  time.Time `db:"modified_at"`
}

type storedTermMeta struct {
	ExternalID  int64  `db:"external_id"`
	PayloadHash string `db:"payload_hash"`
}

// UpsertPosts writes one batch of canonical posts inside a single
// transaction. Insert on first sight of an external_id; update only
// when the stored payload hash differs and the record is not older than
// the stored row; otherwise no write at all. Constraint violations are
// recorded per entity and the batch continues; any other failure rolls
// the whole transaction back.
func (s *PGStore) UpsertPosts(ctx context.Context, posts []models.Post) (models.KindSummary, []models.BatchError, error) {
	var sum models.KindSummary
	var recErrs []models.BatchError
	if len(posts) == 0 {
		return sum, nil, nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return sum, nil, &models.StoreUnavailableError{Op: "begin post batch", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	ids := make([]int64, 0, len(posts))
	for i := range posts {
		ids = append(ids, posts[i].ExternalID)
	}
	var metas []storedPostMeta
	err = pgxscan.Select(ctx, tx, &metas,
		`SELECT external_id, payload_hash, modified_at FROM posts WHERE external_id = ANY($1)`, ids)
	if err != nil {
		return sum, nil, &models.StoreUnavailableError{Op: "load post hashes", Err: err}
	}
	existing := make(map[int64]storedPostMeta, len(metas))
	for _, m := range metas {
		existing[m.ExternalID] = m
	}

	for i := range posts {
		p := &posts[i]
		prev, known := existing[p.ExternalID]
		var sql string
		var args []any
		var bump *int
		switch {
		case !known:
			sql, args, err = psql.Insert("posts").
				Columns("external_id", "slug", "title", "body", "excerpt",
					"status", "published_at", "modified_at", "author_id", "payload_hash").
				Values(p.ExternalID, p.Slug, p.Title, p.Body, p.Excerpt,
					p.Status, p.PublishedAt, p.ModifiedAt, p.AuthorID, p.PayloadHash).
				ToSql()
			bump = &sum.Inserted
		case prev.PayloadHash == p.PayloadHash:
			// Newer modified_at alone is not a change.
			sum.Unchanged++
			continue
		case p.ModifiedAt.Before(prev.ModifiedAt):
			// Stale record; the store already has a newer version.
			sum.Unchanged++
			continue
		default:
			sql, args, err = psql.Update("posts").
				Set("slug", p.Slug).
				Set("title", p.Title).
				Set("body", p.Body).
				Set("excerpt", p.Excerpt).
				Set("status", p.Status).
				Set("published_at", p.PublishedAt).
				Set("modified_at", p.ModifiedAt).
				Set("author_id", p.AuthorID).
				Set("payload_hash", p.PayloadHash).
				Where(squirrel.Eq{"external_id": p.ExternalID}).
				ToSql()
			bump = &sum.Updated
		}
		if err != nil {
			return sum, recErrs, fmt.Errorf("building post upsert: %w", err)
		}
		if err := execInSavepoint(ctx, tx, sql, args); err != nil {
			werr := classifyWriteErr(models.KindPost, p.ExternalID, err)
			var conflict *models.ConflictError
			if errors.As(werr, &conflict) {
				sum.Failed++
				recErrs = append(recErrs, conflict.BatchError())
				continue
			}
			return sum, recErrs, werr
		}
		*bump++
	}

	if err := tx.Commit(ctx); err != nil {
		return sum, recErrs, &models.StoreUnavailableError{Op: "commit post batch", Err: err}
	}
	return sum, recErrs, nil
}

// UpsertTerms writes one batch of categories or tags. Change detection
// is hash-only; terms carry no modification timestamp.
func (s *PGStore) UpsertTerms(ctx context.Context, kind models.Kind, terms []models.Term) (models.KindSummary, []models.BatchError, error) {
	var sum models.KindSummary
	var recErrs []models.BatchError
	if len(terms) == 0 {
		return sum, nil, nil
	}
	table := termTable(kind)
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return sum, nil, &models.StoreUnavailableError{Op: "begin " + table + " batch", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ids := make([]int64, 0, len(terms))
	for i := range terms {
		ids = append(ids, terms[i].ExternalID)
	}
	var metas []storedTermMeta
	err = pgxscan.Select(ctx, tx, &metas,
		fmt.Sprintf(`SELECT external_id, payload_hash FROM %s WHERE external_id = ANY($1)`, table), ids)
	if err != nil {
		return sum, nil, &models.StoreUnavailableError{Op: "load " + table + " hashes", Err: err}
	}
	existing := make(map[int64]string, len(metas))
	for _, m := range metas {
		existing[m.ExternalID] = m.PayloadHash
	}

	for i := range terms {
		t := &terms[i]
		prevHash, known := existing[t.ExternalID]
		var sql string
		var args []any
		var bump *int
		switch {
		case !known:
			sql, args, err = psql.Insert(table).
				Columns("external_id", "slug", "name", "description", "payload_hash").
				Values(t.ExternalID, t.Slug, t.Name, t.Description, t.PayloadHash).
				ToSql()
			bump = &sum.Inserted
		case prevHash == t.PayloadHash:
			sum.Unchanged++
			continue
		default:
			sql, args, err = psql.Update(table).
				Set("slug", t.Slug).
				Set("name", t.Name).
				Set("description", t.Description).
				Set("payload_hash", t.PayloadHash).
				Where(squirrel.Eq{"external_id": t.ExternalID}).
				ToSql()
			bump = &sum.Updated
		}
		if err != nil {
			return sum, recErrs, fmt.Errorf("building %s upsert: %w", table, err)
		}
		if err := execInSavepoint(ctx, tx, sql, args); err != nil {
			werr := classifyWriteErr(kind, t.ExternalID, err)
			var conflict *models.ConflictError
			if errors.As(werr, &conflict) {
				sum.Failed++
				recErrs = append(recErrs, conflict.BatchError())
				continue
			}
			return sum, recErrs, werr
		}
		*bump++
	}

	if err := tx.Commit(ctx); err != nil {
		return sum, recErrs, &models.StoreUnavailableError{Op: "commit " + table + " batch", Err: err}
	}
	return sum, recErrs, nil
}

// UpsertAuthors inserts author stubs so post references always resolve.
// Existing rows are left alone; a later profile sync owns display
// names.
func (s *PGStore) UpsertAuthors(ctx context.Context, authors []models.Author) error {
	for _, a := range authors {
		sql, args, err := psql.Insert("authors").
			Columns("external_id", "display_name").
			Values(a.ExternalID, a.DisplayName).
			Suffix("ON CONFLICT (external_id) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("building author upsert: %w", err)
		}
		if _, err := s.db.Exec(ctx, sql, args...); err != nil {
			return &models.StoreUnavailableError{Op: fmt.Sprintf("upsert author %d", a.ExternalID), Err: err}
		}
	}
	return nil
}

// execInSavepoint runs one write inside a pgx nested transaction, so a
// per-entity failure rolls back only that write.
func execInSavepoint(ctx context.Context, tx pgx.Tx, sql string, args []any) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := sp.Exec(ctx, sql, args...); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}
