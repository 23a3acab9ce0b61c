package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Bluemott/contentsync/internal/logger"
	"github.com/Bluemott/contentsync/internal/models"
	"github.com/Bluemott/contentsync/internal/normalize"
)

// Service orchestrates one batch export end to end: normalize, upsert
// each kind, resolve associations, invalidate the result cache.
type Service struct {
	store    StorePort
	cache    CachePort
	exporter ExporterPort

	// Single writer per content kind. Concurrent batches for the same
	// kind queue here; different kinds proceed in parallel.
	locks map[models.Kind]*sync.Mutex
}

func New(store StorePort, cache CachePort, exporter ExporterPort) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		exporter: exporter,
		locks: map[models.Kind]*sync.Mutex{
			models.KindPost:     {},
			models.KindCategory: {},
			models.KindTag:      {},
		},
	}
}

// Run processes one raw batch. Per-record failures are accumulated in
// the result; only store unavailability is fatal, rolling back the
// affected kind and surfacing an error the caller may retry.
func (s *Service) Run(ctx context.Context, raw *models.RawBatch) (*models.IngestResult, error) {
	log := logger.FromContext(ctx)
	norm := normalize.Batch(ctx, raw)
	res := &models.IngestResult{Errors: norm.Errors}

	// Author stubs go first so post rows never reference an id the
	// store has not seen.
	if err := s.store.UpsertAuthors(ctx, norm.Authors); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	record := func(sum models.KindSummary, errs []models.BatchError, dst *models.KindSummary) {
		mu.Lock()
		defer mu.Unlock()
		*dst = sum
		res.Errors = append(res.Errors, errs...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.locks[models.KindPost].Lock()
		defer s.locks[models.KindPost].Unlock()
		sum, errs, err := s.store.UpsertPosts(gctx, norm.Posts)
		if err != nil {
			return err
		}
		record(sum, errs, &res.Summary.Posts)
		return nil
	})
	g.Go(func() error {
		s.locks[models.KindCategory].Lock()
		defer s.locks[models.KindCategory].Unlock()
		sum, errs, err := s.store.UpsertTerms(gctx, models.KindCategory, norm.Categories)
		if err != nil {
			return err
		}
		record(sum, errs, &res.Summary.Categories)
		return nil
	})
	g.Go(func() error {
		s.locks[models.KindTag].Lock()
		defer s.locks[models.KindTag].Unlock()
		sum, errs, err := s.store.UpsertTerms(gctx, models.KindTag, norm.Tags)
		if err != nil {
			return err
		}
		record(sum, errs, &res.Summary.Tags)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Associations resolve only after every kind of the batch has
	// committed.
	postIDs := make([]int64, 0, len(norm.Posts))
	for i := range norm.Posts {
		postIDs = append(postIDs, norm.Posts[i].ExternalID)
	}
	for _, step := range []struct {
		kind  models.Kind
		pairs []models.Assoc
	}{
		{models.KindCategory, norm.PostCategories},
		{models.KindTag, norm.PostTags},
	} {
		errs, err := s.syncAssocs(ctx, step.kind, postIDs, step.pairs)
		res.Errors = append(res.Errors, errs...)
		if err != nil {
			return nil, err
		}
	}

	if res.Summary.Changed() {
		s.cache.InvalidateAll()
		log.Debug("result cache invalidated after batch write")
	}
	log.Info("batch ingested",
		"posts", res.Summary.Posts,
		"categories", res.Summary.Categories,
		"tags", res.Summary.Tags,
		"record_errors", len(res.Errors))
	return res, nil
}

// RunFromSource fetches one export document from the configured source
// and processes it.
func (s *Service) RunFromSource(ctx context.Context) (*models.IngestResult, error) {
	if s.exporter == nil {
		return nil, errors.New("no export source configured")
	}
	batch, err := s.exporter.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching export: %w", err)
	}
	return s.Run(ctx, batch)
}
