package api

import (
	"context"

	"github.com/sethvargo/go-retry"

	"github.com/Bluemott/contentsync/internal/logger"
	"github.com/Bluemott/contentsync/internal/models"
)

// Ingest processes one batch export document.
func (a *API) Ingest(ctx context.Context, batch *models.RawBatch) (*models.IngestResult, error) {
	return a.ing.Run(ctx, batch)
}

// IngestFromSource fetches a batch from the configured export source
// and processes it, retrying with exponential backoff when the store is
// unavailable. This is the single retry policy; the engine itself never
// retries.
func (a *API) IngestFromSource(ctx context.Context) (*models.IngestResult, error) {
	var res *models.IngestResult
	backoff := retry.WithMaxRetries(a.retryAttempts, retry.NewExponential(a.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		res, err = a.ing.RunFromSource(ctx)
		if models.IsStoreUnavailable(err) {
			logger.FromContext(ctx).Warn("ingest attempt failed, will retry", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
