package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Bluemott/contentsync/internal/models"
)

// HTTPExporter pulls a batch export document from the CMS export URL.
type HTTPExporter struct {
	Client    *http.Client
	SourceURL string
}

func NewHTTPExporter(sourceURL string, timeout time.Duration) *HTTPExporter {
	return &HTTPExporter{
		SourceURL: sourceURL,
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (e *HTTPExporter) Fetch(ctx context.Context) (*models.RawBatch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.SourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("export source returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var batch models.RawBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("decoding export document: %w", err)
	}
	return &batch, nil
}
