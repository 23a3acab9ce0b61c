package query

import (
	"context"
	"fmt"

	"github.com/Bluemott/contentsync/internal/cache"
	"github.com/Bluemott/contentsync/internal/ingest/store"
	"github.com/Bluemott/contentsync/internal/models"
)

// StorePort is the read-side store surface.
type StorePort interface {
	PostBySlug(ctx context.Context, slug string) (*models.Post, error)
	ListPosts(ctx context.Context, limit int, after *store.PostKey) ([]models.Post, error)
	ListTerms(ctx context.Context, kind models.Kind, limit int, after *store.TermKey) ([]models.Term, error)
	Ping(ctx context.Context) error
}

// CachePort is the result-cache surface the service consults. A nil
// cache disables caching.
type CachePort interface {
	Get(signature string) (any, bool)
	Put(signature string, result any)
}

type Config struct {
	MaxPageSize     int
	DefaultPageSize int
}

// Service answers the fixed read contract: health, dbStatus,
// post(slug), and the three paginated connections. It is stateless and
// safe for any number of concurrent callers.
type Service struct {
	store       StorePort
	cache       CachePort
	maxPage     int
	defaultPage int
}

func New(st StorePort, c CachePort, cfg Config) *Service {
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 10
	}
	return &Service{store: st, cache: c, maxPage: cfg.MaxPageSize, defaultPage: cfg.DefaultPageSize}
}

// Request is the wire shape of one query call.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type Error struct {
	Message string `json:"message"`
}

// Response is the query envelope. Typed errors ride alongside any
// partial data; Data marshals to null only when nothing resolved.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors []Error        `json:"errors,omitempty"`
}

// Execute resolves one request. The returned error is non-nil only on
// total store unavailability; every other failure is a typed entry in
// the response's errors list.
func (s *Service) Execute(ctx context.Context, req *Request) (*Response, error) {
	ops, err := Parse(req.Query, req.Variables)
	if err != nil {
		return &Response{Errors: []Error{{Message: err.Error()}}}, nil
	}
	data := map[string]any{}
	var qerrs []Error
	for _, op := range ops {
		val, err := s.resolve(ctx, op)
		if err != nil {
			if models.IsStoreUnavailable(err) {
				return nil, err
			}
			qerrs = append(qerrs, Error{Message: fmt.Sprintf("%s: %v", op.Name, err)})
			continue
		}
		data[op.Name] = val
	}
	resp := &Response{Errors: qerrs}
	if len(data) > 0 || len(qerrs) == 0 {
		resp.Data = data
	}
	return resp, nil
}

func (s *Service) resolve(ctx context.Context, op Operation) (any, error) {
	switch op.Name {
	case "health":
		return true, nil
	case "dbStatus":
		// Reachability is the result, not an error condition.
		return s.store.Ping(ctx) == nil, nil
	case "post":
		slug, err := stringArg(op.Args, "slug")
		if err != nil {
			return nil, err
		}
		return s.cached(ctx, "post", map[string]any{"slug": slug}, func(ctx context.Context) (any, error) {
			return s.store.PostBySlug(ctx, slug)
		})
	case "posts":
		return s.postsConnection(ctx, op.Args)
	case "categories":
		return s.termsConnection(ctx, models.KindCategory, "categories", op.Args)
	case "tags":
		return s.termsConnection(ctx, models.KindTag, "tags", op.Args)
	default:
		return nil, fmt.Errorf("unknown root field %q", op.Name)
	}
}

func (s *Service) postsConnection(ctx context.Context, args map[string]any) (any, error) {
	first, afterStr, err := s.pageArgs(args)
	if err != nil {
		return nil, err
	}
	var after *store.PostKey
	if afterStr != "" {
		if after, err = decodePostCursor(afterStr); err != nil {
			return nil, err
		}
	}
	sigArgs := map[string]any{"first": first, "after": afterStr}
	return s.cached(ctx, "posts", sigArgs, func(ctx context.Context) (any, error) {
		rows, err := s.store.ListPosts(ctx, first+1, after)
		if err != nil {
			return nil, err
		}
		hasNext := len(rows) > first
		if hasNext {
			rows = rows[:first]
		}
		conn := models.Connection[models.Post]{
			Nodes: rows,
			PageInfo: models.PageInfo{
				HasNextPage:     hasNext,
				HasPreviousPage: after != nil,
			},
		}
		if conn.Nodes == nil {
			conn.Nodes = []models.Post{}
		}
		if n := len(rows); n > 0 {
			last := rows[n-1]
			conn.PageInfo.EndCursor = encodePostCursor(store.PostKey{
				PublishedAt: last.PublishedAt,
				ExternalID:  last.ExternalID,
			})
		}
		return conn, nil
	})
}

func (s *Service) termsConnection(ctx context.Context, kind models.Kind, opName string, args map[string]any) (any, error) {
	first, afterStr, err := s.pageArgs(args)
	if err != nil {
		return nil, err
	}
	var after *store.TermKey
	if afterStr != "" {
		if after, err = decodeTermCursor(afterStr); err != nil {
			return nil, err
		}
	}
	sigArgs := map[string]any{"first": first, "after": afterStr}
	return s.cached(ctx, opName, sigArgs, func(ctx context.Context) (any, error) {
		rows, err := s.store.ListTerms(ctx, kind, first+1, after)
		if err != nil {
			return nil, err
		}
		hasNext := len(rows) > first
		if hasNext {
			rows = rows[:first]
		}
		conn := models.Connection[models.Term]{
			Nodes: rows,
			PageInfo: models.PageInfo{
				HasNextPage:     hasNext,
				HasPreviousPage: after != nil,
			},
		}
		if conn.Nodes == nil {
			conn.Nodes = []models.Term{}
		}
		if n := len(rows); n > 0 {
			last := rows[n-1]
			conn.PageInfo.EndCursor = encodeTermCursor(store.TermKey{
				Name:       last.Name,
				ExternalID: last.ExternalID,
			})
		}
		return conn, nil
	})
}

// cached consults the result cache under the normalized signature. A
// cancelled request never caches its (possibly partial) result.
func (s *Service) cached(ctx context.Context, op string, args map[string]any, compute func(context.Context) (any, error)) (any, error) {
	if s.cache == nil {
		return compute(ctx)
	}
	sig := cache.Signature(op, args)
	if v, ok := s.cache.Get(sig); ok {
		return v, nil
	}
	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.Err() == nil {
		s.cache.Put(sig, v)
	}
	return v, nil
}

// pageArgs extracts and clamps the pagination arguments.
func (s *Service) pageArgs(args map[string]any) (int, string, error) {
	first := s.defaultPage
	if v, ok := args["first"]; ok && v != nil {
		n, err := toInt(v)
		if err != nil {
			return 0, "", fmt.Errorf("first %v", err)
		}
		if n < 1 {
			return 0, "", fmt.Errorf("first must be at least 1")
		}
		first = n
	}
	if first > s.maxPage {
		first = s.maxPage
	}
	afterStr := ""
	if v, ok := args["after"]; ok && v != nil {
		str, ok := v.(string)
		if !ok {
			return 0, "", fmt.Errorf("after must be a string")
		}
		afterStr = str
	}
	return first, afterStr, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return str, nil
}

// toInt accepts the integer encodings seen on the wire: parser int64,
// JSON-variable float64, and plain int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("must be an integer")
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("must be an integer")
	}
}
