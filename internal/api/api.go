package api

import (
	"context"
	"time"

	"github.com/Bluemott/contentsync/internal/ingest"
	"github.com/Bluemott/contentsync/internal/query"
)

// Pinger reports store reachability for the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API is the application-facing facade. All callers (HTTP, one-shot
// startup ingest) go through this.
type API struct {
	ing    *ingest.Service
	qry    *query.Service
	pinger Pinger

	retryAttempts uint64
	retryBase     time.Duration
}

func New(ing *ingest.Service, qry *query.Service, pinger Pinger, retryAttempts uint64, retryBase time.Duration) *API {
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	return &API{
		ing:           ing,
		qry:           qry,
		pinger:        pinger,
		retryAttempts: retryAttempts,
		retryBase:     retryBase,
	}
}

// Health responds with the liveness payload plus store reachability.
func (a *API) Health(ctx context.Context) map[string]any {
	return map[string]any{
		"app":       "contentsync",
		"status":    "ok",
		"db":        a.DBStatus(ctx),
		"checkedAt": time.Now().UTC().Format(time.RFC3339),
	}
}

// DBStatus reports whether the store is reachable.
func (a *API) DBStatus(ctx context.Context) bool {
	return a.pinger.Ping(ctx) == nil
}

// Query resolves one structured read request.
func (a *API) Query(ctx context.Context, req *query.Request) (*query.Response, error) {
	return a.qry.Execute(ctx, req)
}
