package ingest

import (
	"context"

	"github.com/Bluemott/contentsync/internal/models"
)

// ExporterPort fetches one batch export document from the upstream CMS.
type ExporterPort interface {
	Fetch(ctx context.Context) (*models.RawBatch, error)
}

// StorePort is the write-side store surface the pipeline depends on.
type StorePort interface {
	UpsertPosts(ctx context.Context, posts []models.Post) (models.KindSummary, []models.BatchError, error)
	UpsertTerms(ctx context.Context, kind models.Kind, terms []models.Term) (models.KindSummary, []models.BatchError, error)
	UpsertAuthors(ctx context.Context, authors []models.Author) error
	ExistingIDs(ctx context.Context, kind models.Kind, ids []int64) (map[int64]struct{}, error)
	ReplaceAssocs(ctx context.Context, kind models.Kind, postIDs []int64, assocs []models.Assoc) error
}

// CachePort is the slice of the result cache the pipeline touches: a
// successful batch that changed anything flushes it.
type CachePort interface {
	InvalidateAll()
}
