package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/Bluemott/contentsync/internal/models"
)

var postColumns = []string{
	"external_id", "slug", "title", "body", "excerpt",
	"status", "published_at", "modified_at", "author_id", "payload_hash",
}

var termColumns = []string{
	"external_id", "slug", "name", "description", "member_count", "payload_hash",
}

// PostKey is the total-order sort key of the post feed: published_at
// descending with external_id as tiebreak.
type PostKey struct {
	PublishedAt time.Time
	ExternalID  int64
}

// TermKey orders taxonomy listings by name ascending, external_id
// tiebreak.
type TermKey struct {
	Name       string
	ExternalID int64
}

// PostBySlug returns the post with the given slug, or nil when no such
// post exists. Absence is a result, not an error.
func (s *PGStore) PostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	sql, args, err := psql.Select(postColumns...).
		From("posts").
		Where("slug = ?", slug).
		OrderBy("published_at DESC", "external_id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building slug query: %w", err)
	}
	var p models.Post
	if err := pgxscan.Get(ctx, s.db, &p, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &models.StoreUnavailableError{Op: "query post by slug", Err: err}
	}
	return &p, nil
}

// ListPosts returns up to limit posts strictly beyond the cursor key.
// Callers fetch limit+1 to detect a next page.
func (s *PGStore) ListPosts(ctx context.Context, limit int, after *PostKey) ([]models.Post, error) {
	sb := psql.Select(postColumns...).
		From("posts").
		OrderBy("published_at DESC", "external_id DESC").
		Limit(uint64(limit))
	if after != nil {
		// Row-value comparison keeps the walk stable when rows are
		// inserted between page fetches.
		sb = sb.Where("(published_at, external_id) < (?, ?)", after.PublishedAt, after.ExternalID)
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building post list query: %w", err)
	}
	var posts []models.Post
	if err := pgxscan.Select(ctx, s.db, &posts, sql, args...); err != nil {
		return nil, &models.StoreUnavailableError{Op: "list posts", Err: err}
	}
	return posts, nil
}

// ListTerms returns up to limit categories or tags beyond the cursor
// key.
func (s *PGStore) ListTerms(ctx context.Context, kind models.Kind, limit int, after *TermKey) ([]models.Term, error) {
	table := termTable(kind)
	sb := psql.Select(termColumns...).
		From(table).
		OrderBy("name ASC", "external_id ASC").
		Limit(uint64(limit))
	if after != nil {
		sb = sb.Where("(name, external_id) > (?, ?)", after.Name, after.ExternalID)
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building %s list query: %w", table, err)
	}
	var terms []models.Term
	if err := pgxscan.Select(ctx, s.db, &terms, sql, args...); err != nil {
		return nil, &models.StoreUnavailableError{Op: "list " + table, Err: err}
	}
	return terms, nil
}
