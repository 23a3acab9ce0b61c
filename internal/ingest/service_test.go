package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Bluemott/contentsync/internal/models"
)

// memStore mirrors the engine's change-detection contract in memory:
// insert unknown ids, update on hash change, otherwise no write.
type memStore struct {
	mu        sync.Mutex
	posts     map[int64]models.Post
	cats      map[int64]models.Term
	tags      map[int64]models.Term
	catAssocs map[int64][]int64
	tagAssocs map[int64][]int64
	authors   map[int64]models.Author
	fatal     error
	conflict  int64 // post external_id rejected with a constraint violation
}

func newMemStore() *memStore {
	return &memStore{
		posts:     map[int64]models.Post{},
		cats:      map[int64]models.Term{},
		tags:      map[int64]models.Term{},
		catAssocs: map[int64][]int64{},
		tagAssocs: map[int64][]int64{},
		authors:   map[int64]models.Author{},
	}
}

func (m *memStore) UpsertPosts(_ context.Context, posts []models.Post) (models.KindSummary, []models.BatchError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum models.KindSummary
	if m.fatal != nil {
		return sum, nil, m.fatal
	}
	var recErrs []models.BatchError
	for _, p := range posts {
		if m.conflict != 0 && p.ExternalID == m.conflict {
			sum.Failed++
			recErrs = append(recErrs, (&models.ConflictError{
				Entity: models.KindPost, ExternalID: p.ExternalID,
				Err: errors.New("duplicate key value violates unique constraint"),
			}).BatchError())
			continue
		}
		prev, ok := m.posts[p.ExternalID]
		switch {
		case !ok:
			m.posts[p.ExternalID] = p
			sum.Inserted++
		case prev.PayloadHash == p.PayloadHash:
			sum.Unchanged++
		case p.ModifiedAt.Before(prev.ModifiedAt):
			sum.Unchanged++
		default:
			m.posts[p.ExternalID] = p
			sum.Updated++
		}
	}
	return sum, recErrs, nil
}

func (m *memStore) UpsertTerms(_ context.Context, kind models.Kind, terms []models.Term) (models.KindSummary, []models.BatchError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum models.KindSummary
	if m.fatal != nil {
		return sum, nil, m.fatal
	}
	table := m.cats
	if kind == models.KindTag {
		table = m.tags
	}
	for _, t := range terms {
		prev, ok := table[t.ExternalID]
		switch {
		case !ok:
			table[t.ExternalID] = t
			sum.Inserted++
		case prev.PayloadHash == t.PayloadHash:
			sum.Unchanged++
		default:
			table[t.ExternalID] = t
			sum.Updated++
		}
	}
	return sum, nil, nil
}

func (m *memStore) UpsertAuthors(_ context.Context, authors []models.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fatal != nil {
		return m.fatal
	}
	for _, a := range authors {
		if _, ok := m.authors[a.ExternalID]; !ok {
			m.authors[a.ExternalID] = a
		}
	}
	return nil
}

func (m *memStore) ExistingIDs(_ context.Context, kind models.Kind, ids []int64) (map[int64]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]struct{}{}
	for _, id := range ids {
		var ok bool
		switch kind {
		case models.KindPost:
			_, ok = m.posts[id]
		case models.KindTag:
			_, ok = m.tags[id]
		default:
			_, ok = m.cats[id]
		}
		if ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) ReplaceAssocs(_ context.Context, kind models.Kind, postIDs []int64, assocs []models.Assoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := m.catAssocs
	if kind == models.KindTag {
		table = m.tagAssocs
	}
	for _, id := range postIDs {
		delete(table, id)
	}
	for _, a := range assocs {
		table[a.PostID] = append(table[a.PostID], a.TermID)
	}
	return nil
}

type countingCache struct{ invalidations int }

func (c *countingCache) InvalidateAll() { c.invalidations++ }

func sampleBatch() *models.RawBatch {
	return &models.RawBatch{
		Posts: []models.RawPost{{
			ExternalID: 1,
			Slug:       "first-post",
			Status:     "publish",
			Title:      models.Rendered{Rendered: "First"},
			Content:    models.Rendered{Rendered: "body"},
			Excerpt:    models.Rendered{Rendered: "x"},
			Date:       "2024-01-10T08:00:00",
			Author:     7,
			Categories: []int64{10},
		}},
		Categories: []models.RawTerm{{ExternalID: 10, Slug: "news", Name: "News"}},
	}
}

func TestService_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("Should insert a fresh batch and report all-unchanged on re-run", func(t *testing.T) {
		st := newMemStore()
		cc := &countingCache{}
		svc := New(st, cc, nil)

		res, err := svc.Run(ctx, sampleBatch())
		require.NoError(t, err)
		assert.Equal(t, models.KindSummary{Inserted: 1}, res.Summary.Posts)
		assert.Equal(t, models.KindSummary{Inserted: 1}, res.Summary.Categories)
		assert.Empty(t, res.Errors)
		assert.Equal(t, []int64{10}, st.catAssocs[1])
		assert.Equal(t, 1, cc.invalidations)

		res, err = svc.Run(ctx, sampleBatch())
		require.NoError(t, err)
		assert.Equal(t, models.KindSummary{Unchanged: 1}, res.Summary.Posts)
		assert.Equal(t, models.KindSummary{Unchanged: 1}, res.Summary.Categories)
		assert.Empty(t, res.Errors)
		// nothing changed, so the cache stays warm
		assert.Equal(t, 1, cc.invalidations)
	})

	t.Run("Should keep the post but skip an association to a term that was never ingested", func(t *testing.T) {
		st := newMemStore()
		svc := New(st, &countingCache{}, nil)

		batch := sampleBatch()
		batch.Posts[0].Categories = []int64{999}
		batch.Categories = nil

		res, err := svc.Run(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Summary.Posts.Inserted)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, models.ErrKindDanglingReference, res.Errors[0].Kind)
		assert.Equal(t, int64(999), res.Errors[0].ExternalID)
		assert.Empty(t, st.catAssocs[1])
	})

	t.Run("Should fully replace a post's association set on the next batch", func(t *testing.T) {
		st := newMemStore()
		svc := New(st, &countingCache{}, nil)

		first := sampleBatch()
		_, err := svc.Run(ctx, first)
		require.NoError(t, err)

		second := sampleBatch()
		second.Categories = append(second.Categories,
			models.RawTerm{ExternalID: 11, Slug: "tech", Name: "Tech"})
		second.Posts[0].Categories = []int64{11}

		res, err := svc.Run(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Summary.Posts.Unchanged)
		assert.Equal(t, []int64{11}, st.catAssocs[1], "stale association must be removed")
	})

	t.Run("Should carry validation errors through to the result", func(t *testing.T) {
		st := newMemStore()
		svc := New(st, &countingCache{}, nil)

		batch := sampleBatch()
		batch.Posts = append(batch.Posts, models.RawPost{Slug: "no-id", Date: "2024-01-01T00:00:00"})

		res, err := svc.Run(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Summary.Posts.Inserted)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, models.ErrKindValidation, res.Errors[0].Kind)
	})

	t.Run("Should record a conflict, keep going, and drop the failed post's associations", func(t *testing.T) {
		st := newMemStore()
		st.conflict = 2
		svc := New(st, &countingCache{}, nil)

		batch := sampleBatch()
		batch.Posts = append(batch.Posts, models.RawPost{
			ExternalID: 2,
			Slug:       "second-post",
			Status:     "publish",
			Title:      models.Rendered{Rendered: "Second"},
			Date:       "2024-01-11T08:00:00",
			Categories: []int64{10},
		})

		res, err := svc.Run(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, models.KindSummary{Inserted: 1, Failed: 1}, res.Summary.Posts)
		require.Len(t, res.Errors, 2)
		kinds := []models.ErrorKind{res.Errors[0].Kind, res.Errors[1].Kind}
		assert.Contains(t, kinds, models.ErrKindConflict)
		assert.Contains(t, kinds, models.ErrKindDanglingReference)
		assert.Equal(t, []int64{10}, st.catAssocs[1])
		assert.Empty(t, st.catAssocs[2])
	})

	t.Run("Should surface store unavailability as a fatal batch error", func(t *testing.T) {
		st := newMemStore()
		st.fatal = &models.StoreUnavailableError{Op: "begin post batch", Err: errors.New("connection refused")}
		cc := &countingCache{}
		svc := New(st, cc, nil)

		_, err := svc.Run(ctx, sampleBatch())
		require.Error(t, err)
		assert.True(t, models.IsStoreUnavailable(err))
		assert.Zero(t, cc.invalidations)
	})

	t.Run("Should not report a content update for a newer modified_at with an unchanged hash", func(t *testing.T) {
		st := newMemStore()
		svc := New(st, &countingCache{}, nil)

		_, err := svc.Run(ctx, sampleBatch())
		require.NoError(t, err)

		later := sampleBatch()
		later.Posts[0].Modified = "2024-06-01T00:00:00"
		res, err := svc.Run(ctx, later)
		require.NoError(t, err)
		assert.Equal(t, models.KindSummary{Unchanged: 1}, res.Summary.Posts)
	})
}

// gaugeStore counts how many post upserts are in flight at once, so a
// test can observe whether same-kind writes from concurrent batches
// ever overlap.
type gaugeStore struct {
	*memStore
	inFlight int32
	maxSeen  int32
}

func (g *gaugeStore) UpsertPosts(ctx context.Context, posts []models.Post) (models.KindSummary, []models.BatchError, error) {
	n := atomic.AddInt32(&g.inFlight, 1)
	for {
		seen := atomic.LoadInt32(&g.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&g.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond) // widen the window for overlap
	defer atomic.AddInt32(&g.inFlight, -1)
	return g.memStore.UpsertPosts(ctx, posts)
}

func TestService_Run_Serialization(t *testing.T) {
	t.Run("Should never overlap same-kind upserts across concurrent batches", func(t *testing.T) {
		st := &gaugeStore{memStore: newMemStore()}
		svc := New(st, &countingCache{}, nil)

		g, ctx := errgroup.WithContext(context.Background())
		for i := 0; i < 8; i++ {
			id := int64(i + 1)
			g.Go(func() error {
				batch := sampleBatch()
				batch.Posts[0].ExternalID = id
				batch.Posts[0].Slug = fmt.Sprintf("post-%d", id)
				_, err := svc.Run(ctx, batch)
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), atomic.LoadInt32(&st.maxSeen),
			"concurrent batches must queue, one post writer at a time")
		assert.Len(t, st.posts, 8, "every queued batch must still land")
	})
}

type fakeExporter struct {
	batch *models.RawBatch
	err   error
}

func (f fakeExporter) Fetch(context.Context) (*models.RawBatch, error) {
	return f.batch, f.err
}

func TestService_RunFromSource(t *testing.T) {
	ctx := context.Background()

	t.Run("Should ingest the fetched export document", func(t *testing.T) {
		st := newMemStore()
		svc := New(st, &countingCache{}, fakeExporter{batch: sampleBatch()})

		res, err := svc.RunFromSource(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Summary.Posts.Inserted)
	})

	t.Run("Should fail when the exporter fails", func(t *testing.T) {
		svc := New(newMemStore(), &countingCache{}, fakeExporter{err: errors.New("upstream down")})
		_, err := svc.RunFromSource(ctx)
		require.Error(t, err)
	})

	t.Run("Should fail when no source is configured", func(t *testing.T) {
		svc := New(newMemStore(), &countingCache{}, nil)
		_, err := svc.RunFromSource(ctx)
		require.Error(t, err)
	})
}
