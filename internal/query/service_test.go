package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bluemott/contentsync/internal/cache"
	"github.com/Bluemott/contentsync/internal/ingest/store"
	"github.com/Bluemott/contentsync/internal/models"
)

// fakeStore serves reads from pre-sorted slices, honoring the same
// keyset semantics as the real store.
type fakeStore struct {
	posts     []models.Post // published_at DESC, external_id DESC
	terms     map[models.Kind][]models.Term
	pingErr   error
	listErr   error
	listCalls int
}

func (f *fakeStore) PostBySlug(_ context.Context, slug string) (*models.Post, error) {
	for i := range f.posts {
		if f.posts[i].Slug == slug {
			p := f.posts[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListPosts(_ context.Context, limit int, after *store.PostKey) ([]models.Post, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Post
	for _, p := range f.posts {
		if after != nil {
			if !p.PublishedAt.Before(after.PublishedAt) &&
				!(p.PublishedAt.Equal(after.PublishedAt) && p.ExternalID < after.ExternalID) {
				continue
			}
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ListTerms(_ context.Context, kind models.Kind, limit int, after *store.TermKey) ([]models.Term, error) {
	var out []models.Term
	for _, tm := range f.terms[kind] {
		if after != nil {
			if !(tm.Name > after.Name || (tm.Name == after.Name && tm.ExternalID > after.ExternalID)) {
				continue
			}
		}
		out = append(out, tm)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func fixturePosts(n int) []models.Post {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	posts := make([]models.Post, 0, n)
	for i := n; i >= 1; i-- {
		posts = append(posts, models.Post{
			ExternalID:  int64(i),
			Slug:        fmt.Sprintf("post-%d", i),
			Title:       fmt.Sprintf("Post %d", i),
			Status:      models.StatusPublish,
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return posts
}

func TestService_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("Should answer health and dbStatus", func(t *testing.T) {
		svc := New(&fakeStore{}, nil, Config{})
		resp, err := svc.Execute(ctx, &Request{Query: "{ health dbStatus }"})
		require.NoError(t, err)
		assert.Empty(t, resp.Errors)
		assert.Equal(t, true, resp.Data["health"])
		assert.Equal(t, true, resp.Data["dbStatus"])
	})

	t.Run("Should report dbStatus false when the store is unreachable", func(t *testing.T) {
		svc := New(&fakeStore{pingErr: errors.New("down")}, nil, Config{})
		resp, err := svc.Execute(ctx, &Request{Query: "{ dbStatus }"})
		require.NoError(t, err)
		assert.Equal(t, false, resp.Data["dbStatus"])
	})

	t.Run("Should resolve a post by slug and null for an unknown slug", func(t *testing.T) {
		svc := New(&fakeStore{posts: fixturePosts(2)}, nil, Config{})

		resp, err := svc.Execute(ctx, &Request{Query: `{ post(slug: "post-2") }`})
		require.NoError(t, err)
		p, ok := resp.Data["post"].(*models.Post)
		require.True(t, ok)
		assert.Equal(t, int64(2), p.ExternalID)

		resp, err = svc.Execute(ctx, &Request{Query: `{ post(slug: "ghost") }`})
		require.NoError(t, err)
		assert.Empty(t, resp.Errors)
		got, ok := resp.Data["post"].(*models.Post)
		require.True(t, ok)
		assert.Nil(t, got)
	})

	t.Run("Should walk every post exactly once across pages", func(t *testing.T) {
		svc := New(&fakeStore{posts: fixturePosts(5)}, nil, Config{})

		var seen []int64
		after := ""
		for {
			q := `{ posts(first: 2) }`
			vars := map[string]any{}
			if after != "" {
				q = `{ posts(first: 2, after: $c) }`
				vars["c"] = after
			}
			resp, err := svc.Execute(ctx, &Request{Query: q, Variables: vars})
			require.NoError(t, err)
			require.Empty(t, resp.Errors)
			conn, ok := resp.Data["posts"].(models.Connection[models.Post])
			require.True(t, ok)
			for _, p := range conn.Nodes {
				seen = append(seen, p.ExternalID)
			}
			assert.Equal(t, after != "", conn.PageInfo.HasPreviousPage)
			if !conn.PageInfo.HasNextPage {
				break
			}
			after = conn.PageInfo.EndCursor
		}
		assert.Equal(t, []int64{5, 4, 3, 2, 1}, seen)
	})

	t.Run("Should clamp first to the configured page ceiling", func(t *testing.T) {
		svc := New(&fakeStore{posts: fixturePosts(10)}, nil, Config{MaxPageSize: 3})
		resp, err := svc.Execute(ctx, &Request{Query: `{ posts(first: 50) }`})
		require.NoError(t, err)
		conn := resp.Data["posts"].(models.Connection[models.Post])
		assert.Len(t, conn.Nodes, 3)
		assert.True(t, conn.PageInfo.HasNextPage)
	})

	t.Run("Should apply the default page size", func(t *testing.T) {
		svc := New(&fakeStore{posts: fixturePosts(6)}, nil, Config{DefaultPageSize: 4})
		resp, err := svc.Execute(ctx, &Request{Query: `{ posts }`})
		require.NoError(t, err)
		conn := resp.Data["posts"].(models.Connection[models.Post])
		assert.Len(t, conn.Nodes, 4)
	})

	t.Run("Should reject a non-positive first as a typed error", func(t *testing.T) {
		svc := New(&fakeStore{}, nil, Config{})
		resp, err := svc.Execute(ctx, &Request{Query: `{ posts(first: 0) }`})
		require.NoError(t, err)
		require.Len(t, resp.Errors, 1)
		assert.Contains(t, resp.Errors[0].Message, "at least 1")
		assert.Nil(t, resp.Data)
	})

	t.Run("Should keep sibling data when one field gets a bad cursor", func(t *testing.T) {
		svc := New(&fakeStore{posts: fixturePosts(1)}, nil, Config{})
		resp, err := svc.Execute(ctx, &Request{Query: `{ health posts(after: "%%%") }`})
		require.NoError(t, err)
		require.Len(t, resp.Errors, 1)
		assert.Contains(t, resp.Errors[0].Message, "invalid cursor")
		assert.Equal(t, true, resp.Data["health"])
		assert.NotContains(t, resp.Data, "posts")
	})

	t.Run("Should report an unknown root field", func(t *testing.T) {
		svc := New(&fakeStore{}, nil, Config{})
		resp, err := svc.Execute(ctx, &Request{Query: `{ comments }`})
		require.NoError(t, err)
		require.Len(t, resp.Errors, 1)
		assert.Contains(t, resp.Errors[0].Message, "unknown root field")
	})

	t.Run("Should escalate store unavailability out of the envelope", func(t *testing.T) {
		svc := New(&fakeStore{
			listErr: &models.StoreUnavailableError{Op: "list posts", Err: errors.New("connection refused")},
		}, nil, Config{})
		_, err := svc.Execute(ctx, &Request{Query: `{ posts }`})
		require.Error(t, err)
		assert.True(t, models.IsStoreUnavailable(err))
	})

	t.Run("Should paginate terms by name", func(t *testing.T) {
		svc := New(&fakeStore{terms: map[models.Kind][]models.Term{
			models.KindCategory: {
				{ExternalID: 11, Slug: "art", Name: "Art"},
				{ExternalID: 10, Slug: "news", Name: "News"},
				{ExternalID: 12, Slug: "tech", Name: "Tech"},
			},
		}}, nil, Config{})

		resp, err := svc.Execute(ctx, &Request{Query: `{ categories(first: 2) }`})
		require.NoError(t, err)
		conn := resp.Data["categories"].(models.Connection[models.Term])
		require.Len(t, conn.Nodes, 2)
		assert.Equal(t, "Art", conn.Nodes[0].Name)
		assert.True(t, conn.PageInfo.HasNextPage)

		resp, err = svc.Execute(ctx, &Request{
			Query:     `{ categories(first: 2, after: $c) }`,
			Variables: map[string]any{"c": conn.PageInfo.EndCursor},
		})
		require.NoError(t, err)
		conn = resp.Data["categories"].(models.Connection[models.Term])
		require.Len(t, conn.Nodes, 1)
		assert.Equal(t, "Tech", conn.Nodes[0].Name)
		assert.False(t, conn.PageInfo.HasNextPage)
	})

	t.Run("Should return an empty connection, not null nodes", func(t *testing.T) {
		svc := New(&fakeStore{}, nil, Config{})
		resp, err := svc.Execute(ctx, &Request{Query: `{ tags }`})
		require.NoError(t, err)
		conn := resp.Data["tags"].(models.Connection[models.Term])
		assert.NotNil(t, conn.Nodes)
		assert.Empty(t, conn.Nodes)
		assert.False(t, conn.PageInfo.HasNextPage)
	})

	t.Run("Should return a parse failure as a typed error", func(t *testing.T) {
		svc := New(&fakeStore{}, nil, Config{})
		resp, err := svc.Execute(ctx, &Request{Query: `{ posts(first 5) }`})
		require.NoError(t, err)
		require.Len(t, resp.Errors, 1)
		assert.Nil(t, resp.Data)
	})
}

func TestService_Caching(t *testing.T) {
	ctx := context.Background()

	t.Run("Should serve a repeated query from the cache with identical results", func(t *testing.T) {
		st := &fakeStore{posts: fixturePosts(3)}
		c, err := cache.New(time.Minute)
		require.NoError(t, err)
		defer c.Close()
		svc := New(st, c, Config{})

		first, err := svc.Execute(ctx, &Request{Query: `{ posts(first: 2) }`})
		require.NoError(t, err)
		require.Equal(t, 1, st.listCalls)
		c.Wait()

		second, err := svc.Execute(ctx, &Request{Query: `{ posts(first: 2) }`})
		require.NoError(t, err)
		assert.Equal(t, 1, st.listCalls, "second call must not touch the store")
		assert.Equal(t, first.Data, second.Data)
	})

	t.Run("Should not share entries between different arguments", func(t *testing.T) {
		st := &fakeStore{posts: fixturePosts(3)}
		c, err := cache.New(time.Minute)
		require.NoError(t, err)
		defer c.Close()
		svc := New(st, c, Config{})

		_, err = svc.Execute(ctx, &Request{Query: `{ posts(first: 1) }`})
		require.NoError(t, err)
		c.Wait()
		_, err = svc.Execute(ctx, &Request{Query: `{ posts(first: 2) }`})
		require.NoError(t, err)
		assert.Equal(t, 2, st.listCalls)
	})

	t.Run("Should not cache a cancelled request", func(t *testing.T) {
		st := &fakeStore{posts: fixturePosts(1)}
		c, err := cache.New(time.Minute)
		require.NoError(t, err)
		defer c.Close()
		svc := New(st, c, Config{})

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = svc.Execute(cancelled, &Request{Query: `{ posts(first: 1) }`})
		require.NoError(t, err)
		c.Wait()

		_, err = svc.Execute(ctx, &Request{Query: `{ posts(first: 1) }`})
		require.NoError(t, err)
		assert.Equal(t, 2, st.listCalls)
	})
}
