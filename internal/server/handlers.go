package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
	"github.com/james-andrews-coulter/essay-search-engine/internal/rank"
	"github.com/james-andrews-coulter/essay-search-engine/internal/session"
	"github.com/james-andrews-coulter/essay-search-engine/internal/telemetry"
)

// defaultRelatedK is how many related chunks to return without an explicit k.
const defaultRelatedK = 5

type handlers struct {
	sess     *session.Session
	recorder *telemetry.Recorder
	logger   *slog.Logger
	markdown goldmark.Markdown
}

func newHandlers(sess *session.Session, recorder *telemetry.Recorder, logger *slog.Logger) *handlers {
	return &handlers{
		sess:     sess,
		recorder: recorder,
		logger:   logger,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Typographer,
			),
		),
	}
}

// searchResponse is the /api/search payload.
type searchResponse struct {
	Hits       []searchHit  `json:"hits"`
	Page       int          `json:"page"`
	TotalPages int          `json:"total_pages"`
	TotalHits  int          `json:"total_hits"`
	Variant    rank.Variant `json:"variant"`
}

type searchHit struct {
	Chunk   *manifest.Chunk `json:"chunk"`
	Score   float64         `json:"score"`
	Signals []rank.Signal   `json:"signals,omitempty"`
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	q := rank.Query{
		Text: r.URL.Query().Get("q"),
		Tags: splitTags(r.URL.Query().Get("tags")),
	}
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			h.writeError(w, errors.ValidationError("page must be an integer", err))
			return
		}
		q.Page = page
	}

	start := time.Now()
	res, err := h.sess.Search(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.recorder.RecordSearch(r.Context(), telemetry.SearchEvent{
		Query:   q.Text,
		Variant: string(res.Variant),
		Tags:    q.Tags,
		Hits:    res.TotalHits,
		Latency: time.Since(start),
	})

	resp := searchResponse{
		Hits:       make([]searchHit, len(res.Hits)),
		Page:       res.Page,
		TotalPages: res.TotalPages,
		TotalHits:  res.TotalHits,
		Variant:    res.Variant,
	}
	for i, hit := range res.Hits {
		resp.Hits[i] = searchHit{Chunk: hit.Chunk, Score: hit.Score, Signals: hit.Signals}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// tagsResponse is the /api/tags payload.
type tagsResponse struct {
	Tags []tagCount `json:"tags"`
}

type tagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

func (h *handlers) tags(w http.ResponseWriter, r *http.Request) {
	idx, err := h.sess.Tags()
	if err != nil {
		h.writeError(w, err)
		return
	}

	all := idx.All()
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		all = idx.WithPrefix(prefix)
	}

	resp := tagsResponse{Tags: make([]tagCount, len(all))}
	for i, tag := range all {
		resp.Tags[i] = tagCount{Tag: tag, Count: idx.Count(tag)}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// chunkResponse is the /api/chunks/{id} payload. HTML is present only when
// format=html is requested.
type chunkResponse struct {
	Chunk *manifest.Chunk `json:"chunk"`
	HTML  string          `json:"html,omitempty"`
}

func (h *handlers) chunk(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, errors.ValidationError("chunk id must be an integer", err))
		return
	}

	chunk, ok, err := h.sess.Chunk(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{
			Code:    errors.ErrCodeInvalidInput,
			Message: "chunk not found",
		}})
		return
	}

	resp := chunkResponse{Chunk: chunk}
	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := h.markdown.Convert([]byte(chunk.Content), &buf); err != nil {
			h.writeError(w, errors.InternalError("failed to render chunk", err))
			return
		}
		resp.HTML = buf.String()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) related(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, errors.ValidationError("chunk id must be an integer", err))
		return
	}

	k := defaultRelatedK
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		k, err = strconv.Atoi(kStr)
		if err != nil || k < 1 {
			h.writeError(w, errors.ValidationError("k must be a positive integer", err))
			return
		}
	}

	hits, err := h.sess.Related(r.Context(), id, k)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]searchHit, len(hits))
	for i, hit := range hits {
		resp[i] = searchHit{Chunk: hit.Chunk, Score: hit.Score}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"related": resp})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sess.Status())
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.recorder.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// updateCheckResponse is the /api/update/check payload.
type updateCheckResponse struct {
	UpdateAvailable bool             `json:"update_available"`
	Version         manifest.Version `json:"version"`
}

func (h *handlers) updateCheck(w http.ResponseWriter, r *http.Request) {
	updated, remote, err := h.sess.CheckForUpdate(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updateCheckResponse{UpdateAvailable: updated, Version: remote})
}

func (h *handlers) updateApply(w http.ResponseWriter, r *http.Request) {
	applied, err := h.sess.Reload(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"status":  h.sess.Status(),
	})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := errorDetail{Message: err.Error()}

	if ee := errors.AsEngineError(err); ee != nil {
		detail.Code = ee.Code
		detail.Message = ee.Message
		detail.Suggestion = ee.Suggestion

		switch {
		case errors.IsNotReady(err):
			status = http.StatusServiceUnavailable
		case ee.Category == errors.CategoryValidation:
			status = http.StatusBadRequest
		case ee.Category == errors.CategoryNetwork:
			status = http.StatusBadGateway
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, errorBody{Error: detail})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
