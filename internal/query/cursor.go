package query

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Bluemott/contentsync/internal/ingest/store"
)

// ErrInvalidCursor marks an `after` argument that does not decode to a
// sort key. It surfaces as a typed query error, never a transport
// failure.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursors are opaque to clients: base64 over the JSON sort key, so
// pagination follows positions, not offsets.

type postCursor struct {
	PublishedAt time.Time `json:"p"`
	ExternalID  int64     `json:"id"`
}

type termCursor struct {
	Name       string `json:"n"`
	ExternalID int64  `json:"id"`
}

func encodePostCursor(key store.PostKey) string {
	raw, _ := json.Marshal(postCursor{PublishedAt: key.PublishedAt, ExternalID: key.ExternalID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodePostCursor(s string) (*store.PostKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c postCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ExternalID == 0 {
		return nil, fmt.Errorf("%w: missing sort key", ErrInvalidCursor)
	}
	return &store.PostKey{PublishedAt: c.PublishedAt, ExternalID: c.ExternalID}, nil
}

func encodeTermCursor(key store.TermKey) string {
	raw, _ := json.Marshal(termCursor{Name: key.Name, ExternalID: key.ExternalID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeTermCursor(s string) (*store.TermKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c termCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ExternalID == 0 {
		return nil, fmt.Errorf("%w: missing sort key", ErrInvalidCursor)
	}
	return &store.TermKey{Name: c.Name, ExternalID: c.ExternalID}, nil
}
