package models

import "time"

// Kind identifies one content entity kind flowing through the pipeline.
type Kind string

const (
	KindPost     Kind = "post"
	KindCategory Kind = "category"
	KindTag      Kind = "tag"
	KindAuthor   Kind = "author"
)

// PostStatus is the fixed publication state set. Unknown upstream values
// are coerced to draft during normalization.
type PostStatus string

const (
	StatusDraft   PostStatus = "draft"
	StatusPublish PostStatus = "publish"
	StatusTrash   PostStatus = "trash"
)

// ParseStatus maps free-text status values onto the fixed set.
func ParseStatus(s string) (PostStatus, bool) {
	switch PostStatus(s) {
	case StatusDraft, StatusPublish, StatusTrash:
		return PostStatus(s), true
	}
	return StatusDraft, false
}

// Post is the canonical post entity. ExternalID is the only stable
// identity across re-imports; Slug may change between batches.
type Post struct {
	ExternalID  int64      `json:"external_id" db:"external_id"`
	Slug        string     `json:"slug"        db:"slug"`
	Title       string     `json:"title"       db:"title"`
	Body        string     `json:"body"        db:"body"`
	Excerpt     string     `json:"excerpt"     db:"excerpt"`
	Status      PostStatus `json:"status"      db:"status"`
	PublishedAt time.Time  `json:"published_at" db:"published_at"`
	ModifiedAt  time.Time  `json:"modified_at"  db:"modified_at"`
	AuthorID    int64      `json:"author_id"    db:"author_id"`
	PayloadHash string     `json:"-"            db:"payload_hash"`
}

// Term is a canonical taxonomy entity (category or tag). MemberCount is
// derived from the association tables, never taken from upstream.
type Term struct {
	ExternalID  int64  `json:"external_id" db:"external_id"`
	Slug        string `json:"slug"        db:"slug"`
	Name        string `json:"name"        db:"name"`
	Description string `json:"description" db:"description"`
	MemberCount int    `json:"member_count" db:"member_count"`
	PayloadHash string `json:"-"            db:"payload_hash"`
}

// Author is referenced by posts, never embedded. The batch export
// carries only the author id, so rows start as stubs.
type Author struct {
	ExternalID  int64  `json:"external_id" db:"external_id"`
	DisplayName string `json:"display_name" db:"display_name"`
}

// Assoc is one post↔taxonomy pairing by external ids.
type Assoc struct {
	PostID int64
	TermID int64
}

// Rendered wraps the nested rendered-text shape of the export format.
type Rendered struct {
	Rendered string `json:"rendered"`
}

// RawPost is one loosely-typed post record as exported upstream.
type RawPost struct {
	ExternalID int64          `json:"external_id"`
	Slug       string         `json:"slug"`
	Status     string         `json:"status"`
	Title      Rendered       `json:"title"`
	Content    Rendered       `json:"content"`
	Excerpt    Rendered       `json:"excerpt"`
	Date       string         `json:"date"`
	Modified   string         `json:"modified"`
	Author     int64          `json:"author"`
	Categories []int64        `json:"categories"`
	Tags       []int64        `json:"tags"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// RawTerm is one loosely-typed category or tag record.
type RawTerm struct {
	ExternalID  int64  `json:"external_id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// RawBatch is one discrete export document.
type RawBatch struct {
	Posts      []RawPost `json:"posts"`
	Categories []RawTerm `json:"categories"`
	Tags       []RawTerm `json:"tags"`
}

// KindSummary counts upsert outcomes for one entity kind in one batch.
type KindSummary struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Changed reports whether this kind wrote anything to the store.
func (s KindSummary) Changed() bool {
	return s.Inserted > 0 || s.Updated > 0
}

// BatchSummary aggregates per-kind outcomes of one ingestion run.
type BatchSummary struct {
	Posts      KindSummary `json:"posts"`
	Categories KindSummary `json:"categories"`
	Tags       KindSummary `json:"tags"`
}

// Changed reports whether the batch wrote anything to the store.
func (s BatchSummary) Changed() bool {
	return s.Posts.Changed() || s.Categories.Changed() || s.Tags.Changed()
}

// BatchError is one recorded per-record failure from an ingestion run.
type BatchError struct {
	Kind       ErrorKind `json:"kind"`
	Entity     Kind      `json:"entity"`
	ExternalID int64     `json:"external_id"`
	Message    string    `json:"message"`
}

// IngestResult is the full outcome of one batch: counts plus the
// accumulated per-record errors. Partial progress is the norm.
type IngestResult struct {
	Summary BatchSummary `json:"summary"`
	Errors  []BatchError `json:"errors"`
}

// PageInfo describes the position of a connection page.
type PageInfo struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	EndCursor       string `json:"endCursor,omitempty"`
}

// Connection is the nodes-plus-pageInfo pagination shape.
type Connection[T any] struct {
	Nodes    []T      `json:"nodes"`
	PageInfo PageInfo `json:"pageInfo"`
}
