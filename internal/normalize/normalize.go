package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/Bluemott/contentsync/internal/logger"
	"github.com/Bluemott/contentsync/internal/models"
)

// Result carries the canonical entities of one batch plus the
// per-record validation errors. A malformed record never aborts the
// batch; it lands in Errors and is skipped.
type Result struct {
	Posts          []models.Post
	Categories     []models.Term
	Tags           []models.Term
	Authors        []models.Author
	PostCategories []models.Assoc
	PostTags       []models.Assoc
	Errors         []models.BatchError
}

// timeLayouts accepted for export timestamps. The second is the
// zone-less form the CMS emits for site-local times.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

// Batch converts one raw export document into canonical entities,
// recording a ValidationError per malformed record.
func Batch(ctx context.Context, raw *models.RawBatch) *Result {
	log := logger.FromContext(ctx)
	res := &Result{}
	for i := range raw.Posts {
		res.addPost(ctx, &raw.Posts[i])
	}
	res.Categories = res.addTerms(raw.Categories, models.KindCategory)
	res.Tags = res.addTerms(raw.Tags, models.KindTag)
	if len(res.Errors) > 0 {
		log.Warn("batch normalized with record errors",
			"posts", len(res.Posts), "errors", len(res.Errors))
	}
	return res
}

func (r *Result) addPost(ctx context.Context, raw *models.RawPost) {
	if raw.ExternalID == 0 {
		r.reject(&models.ValidationError{
			Entity: models.KindPost, Field: "external_id", Reason: "missing",
		})
		return
	}
	if strings.TrimSpace(raw.Slug) == "" {
		r.reject(&models.ValidationError{
			Entity: models.KindPost, ExternalID: raw.ExternalID,
			Field: "slug", Reason: "empty",
		})
		return
	}
	published, err := parseTime(raw.Date)
	if err != nil {
		r.reject(&models.ValidationError{
			Entity: models.KindPost, ExternalID: raw.ExternalID,
			Field: "date", Reason: "unparseable: " + raw.Date,
		})
		return
	}
	modified := published
	if raw.Modified != "" {
		if modified, err = parseTime(raw.Modified); err != nil {
			r.reject(&models.ValidationError{
				Entity: models.KindPost, ExternalID: raw.ExternalID,
				Field: "modified", Reason: "unparseable: " + raw.Modified,
			})
			return
		}
	}
	status, known := models.ParseStatus(strings.ToLower(strings.TrimSpace(raw.Status)))
	if !known {
		logger.FromContext(ctx).Warn("unknown post status, defaulting to draft",
			"external_id", raw.ExternalID, "status", raw.Status)
	}
	p := models.Post{
		ExternalID:  raw.ExternalID,
		Slug:        strings.TrimSpace(raw.Slug),
		Title:       flatten(raw.Title),
		Body:        flatten(raw.Content),
		Excerpt:     flatten(raw.Excerpt),
		Status:      status,
		PublishedAt: published.UTC(),
		ModifiedAt:  modified.UTC(),
		AuthorID:    raw.Author,
	}
	p.PayloadHash = PostHash(&p)
	r.Posts = append(r.Posts, p)

	if raw.Author != 0 {
		r.addAuthor(raw.Author)
	}
	for _, id := range raw.Categories {
		r.PostCategories = append(r.PostCategories, models.Assoc{PostID: p.ExternalID, TermID: id})
	}
	for _, id := range raw.Tags {
		r.PostTags = append(r.PostTags, models.Assoc{PostID: p.ExternalID, TermID: id})
	}
}

func (r *Result) addTerms(raws []models.RawTerm, kind models.Kind) []models.Term {
	var out []models.Term
	for _, raw := range raws {
		if raw.ExternalID == 0 {
			r.reject(&models.ValidationError{
				Entity: kind, Field: "external_id", Reason: "missing",
			})
			continue
		}
		name := strings.TrimSpace(raw.Name)
		sl := strings.TrimSpace(raw.Slug)
		if sl == "" {
			if name == "" {
				r.reject(&models.ValidationError{
					Entity: kind, ExternalID: raw.ExternalID,
					Field: "slug", Reason: "empty and no name to derive from",
				})
				continue
			}
			sl = slug.Make(name)
		}
		t := models.Term{
			ExternalID:  raw.ExternalID,
			Slug:        sl,
			Name:        name,
			Description: strings.TrimSpace(raw.Description),
			// MemberCount is derived from associations after the
			// resolver runs; the upstream count is ignored.
		}
		t.PayloadHash = TermHash(&t)
		out = append(out, t)
	}
	return out
}

func (r *Result) addAuthor(id int64) {
	for _, a := range r.Authors {
		if a.ExternalID == id {
			return
		}
	}
	r.Authors = append(r.Authors, models.Author{ExternalID: id})
}

type batchErrorer interface {
	BatchError() models.BatchError
}

func (r *Result) reject(err batchErrorer) {
	r.Errors = append(r.Errors, err.BatchError())
}

// flatten reduces a nested rendered-text field to a plain string with
// normalized line endings, so upstream formatting churn does not move
// the content hash.
func flatten(f models.Rendered) string {
	s := strings.ReplaceAll(f.Rendered, "\r\n", "\n")
	return strings.TrimSpace(s)
}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// PostHash fingerprints the content-bearing fields of a post. Only a
// hash change triggers an update on re-import.
func PostHash(p *models.Post) string {
	return digest(p.Title, p.Body, p.Excerpt, string(p.Status))
}

// TermHash fingerprints a taxonomy term.
func TermHash(t *models.Term) string {
	return digest(t.Slug, t.Name, t.Description)
}

func digest(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
