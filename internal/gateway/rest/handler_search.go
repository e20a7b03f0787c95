package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/schema"

	"pressd/internal/core/storage"
	"pressd/internal/search"
)

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// searchQuery is the wire shape of GET /api/search. Dates arrive as strings
// and are parsed separately; tags may be repeated parameters, a comma list,
// or the singular "tag".
type searchQuery struct {
	Q        string   `schema:"q"`
	Limit    int      `schema:"limit"`
	Page     int      `schema:"page"`
	AuthorID *int64   `schema:"author_id"`
	Tags     []string `schema:"tags"`
	Tag      string   `schema:"tag"`
	From     string   `schema:"from"`
	To       string   `schema:"to"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var q searchQuery
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed query parameters")
		return
	}

	tags := splitTags(q.Tags, q.Tag)
	if strings.TrimSpace(q.Q) == "" && len(tags) == 0 && q.AuthorID == nil && q.From == "" && q.To == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "either q or a filter is required")
		return
	}

	from, ok := parseDate(q.From)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid from date")
		return
	}
	to, ok := parseDate(q.To)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid to date")
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "to must not precede from")
		return
	}

	results, err := h.search.Search(r.Context(), search.Request{
		Query:    q.Q,
		Limit:    q.Limit,
		Page:     q.Page,
		AuthorID: q.AuthorID,
		Tags:     tags,
		From:     from,
		To:       to,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postListResponse{Posts: results})
}

func (h *Handler) handleMySearch(w http.ResponseWriter, r *http.Request) {
	var q searchQuery
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed query parameters")
		return
	}
	if len(strings.TrimSpace(q.Q)) < 2 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "q must be at least 2 characters")
		return
	}

	results, err := h.search.SearchByUser(r.Context(), authedUserID(r.Context()), q.Q, q.Limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postListResponse{Posts: results})
}

func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	var q struct {
		Q     string `schema:"q"`
		Limit int    `schema:"limit"`
	}
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed query parameters")
		return
	}

	list, err := h.tags.List(r.Context(), q.Q, q.Limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []storage.TagCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": list})
}

// splitTags merges repeated tags parameters, comma-separated lists and the
// singular tag parameter.
func splitTags(values []string, single string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if single = strings.TrimSpace(single); single != "" && len(out) == 0 {
		out = append(out, single)
	}
	return out
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(value string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, true
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, true
	}
	return nil, false
}
