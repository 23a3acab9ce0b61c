package ingest

import (
	"context"
	"fmt"

	"github.com/Bluemott/contentsync/internal/logger"
	"github.com/Bluemott/contentsync/internal/models"
)

// syncAssocs reconciles one taxonomy kind's associations for the posts
// of the current batch. It runs strictly after every kind of the batch
// has committed. Pairs naming an endpoint that exists neither in the
// batch nor the store are reported as dangling and skipped; the
// surviving set fully replaces each post's previous associations.
func (s *Service) syncAssocs(ctx context.Context, kind models.Kind, postIDs []int64, pairs []models.Assoc) ([]models.BatchError, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	knownPosts, err := s.store.ExistingIDs(ctx, models.KindPost, postIDs)
	if err != nil {
		return nil, err
	}
	termIDs := make([]int64, 0, len(pairs))
	seen := make(map[int64]struct{}, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p.TermID]; !ok {
			seen[p.TermID] = struct{}{}
			termIDs = append(termIDs, p.TermID)
		}
	}
	knownTerms, err := s.store.ExistingIDs(ctx, kind, termIDs)
	if err != nil {
		return nil, err
	}

	var recErrs []models.BatchError
	valid := make([]models.Assoc, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := knownPosts[p.PostID]; !ok {
			// The post side is missing, usually because its own upsert
			// was rejected earlier in the batch.
			recErrs = append(recErrs, models.BatchError{
				Kind:       models.ErrKindDanglingReference,
				Entity:     models.KindPost,
				ExternalID: p.PostID,
				Message:    fmt.Sprintf("association (%d, %d) references nonexistent post %d", p.PostID, p.TermID, p.PostID),
			})
			continue
		}
		if _, ok := knownTerms[p.TermID]; !ok {
			dangling := &models.DanglingReferenceError{PostID: p.PostID, Taxonomy: kind, TermID: p.TermID}
			recErrs = append(recErrs, dangling.BatchError())
			continue
		}
		valid = append(valid, p)
	}
	if len(recErrs) > 0 {
		logger.FromContext(ctx).Warn("dropped dangling associations",
			"taxonomy", kind, "count", len(recErrs))
	}

	// Replace sets only for posts that actually exist; a post whose
	// upsert failed keeps whatever associations it had.
	existing := make([]int64, 0, len(postIDs))
	for _, id := range postIDs {
		if _, ok := knownPosts[id]; ok {
			existing = append(existing, id)
		}
	}
	if err := s.store.ReplaceAssocs(ctx, kind, existing, valid); err != nil {
		return recErrs, err
	}
	return recErrs, nil
}
