package store

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/Bluemott/contentsync/internal/models"
)

func entityTable(kind models.Kind) string {
	switch kind {
	case models.KindPost:
		return "posts"
	case models.KindTag:
		return "tags"
	default:
		return "categories"
	}
}

func assocTable(kind models.Kind) (table, termCol string) {
	if kind == models.KindTag {
		return "post_tags", "tag_id"
	}
	return "post_categories", "category_id"
}

// ExistingIDs returns which of the given external ids are present in
// the store for one entity kind.
func (s *PGStore) ExistingIDs(ctx context.Context, kind models.Kind, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	table := entityTable(kind)
	var found []int64
	err := pgxscan.Select(ctx, s.db, &found,
		fmt.Sprintf(`SELECT external_id FROM %s WHERE external_id = ANY($1)`, table), ids)
	if err != nil {
		return nil, &models.StoreUnavailableError{Op: "lookup " + table, Err: err}
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}

// ReplaceAssocs set-synchronizes the association rows of one taxonomy
// kind for the given posts: every existing row for those posts is
// dropped and the validated pairs are rewritten, then member counts are
// recomputed. One transaction; last batch wins.
func (s *PGStore) ReplaceAssocs(ctx context.Context, kind models.Kind, postIDs []int64, assocs []models.Assoc) error {
	if len(postIDs) == 0 {
		return nil
	}
	table, termCol := assocTable(kind)
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &models.StoreUnavailableError{Op: "begin " + table + " sync", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE post_id = ANY($1)`, table), postIDs); err != nil {
		return &models.StoreUnavailableError{Op: "clear " + table, Err: err}
	}
	if len(assocs) > 0 {
		ib := psql.Insert(table).Columns("post_id", termCol)
		for _, a := range assocs {
			ib = ib.Values(a.PostID, a.TermID)
		}
		sql, args, err := ib.ToSql()
		if err != nil {
			return fmt.Errorf("building %s insert: %w", table, err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return &models.StoreUnavailableError{Op: "write " + table, Err: err}
		}
	}
	// Derived member counts follow the association rows, never the
	// upstream count field.
	recount := fmt.Sprintf(
		`UPDATE %s t SET member_count = (SELECT COUNT(*) FROM %s a WHERE a.%s = t.external_id)`,
		termTable(kind), table, termCol)
	if _, err := tx.Exec(ctx, recount); err != nil {
		return &models.StoreUnavailableError{Op: "recount " + termTable(kind), Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &models.StoreUnavailableError{Op: "commit " + table + " sync", Err: err}
	}
	return nil
}
