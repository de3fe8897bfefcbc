package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/logger"
)

type Handler struct {
	service *searcher.Service
	logger  *slog.Logger
}

func New(service *searcher.Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/documents/{id}/highlight", h.Highlight)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search handles GET /api/v1/search?q=&fields=&limit=&weight=&highlight=&explain=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	params := r.URL.Query()
	opts := h.service.Options()

	req := searcher.Request{
		Query:   params.Get("q"),
		Fields:  splitFields(params.Get("fields")),
		TopK:    opts.DefaultLimit,
		Records: true,
		Source:  "api",
	}
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a non-negative integer"))
			return
		}
		req.TopK = limit
	}
	if v := params.Get("weight"); v != "" {
		weight, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "weight must be a number in [0,1]"))
			return
		}
		req.Weight = &weight
	}
	var err error
	if req.Highlight, err = boolParam(params.Get("highlight")); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Explain, err = boolParam(params.Get("explain")); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.service.Search(r.Context(), req)
	if err != nil {
		log.Warn("search request failed", "query", req.Query, "error", err)
		h.writeError(w, err)
		return
	}
	log.Info("search completed",
		"query", req.Query,
		"total_hits", resp.TotalHits,
		"returned", len(resp.Results),
		"cache_status", resp.CacheStatus,
		"took_ms", resp.TookMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// Highlight handles GET /api/v1/documents/{id}/highlight?q=&fields=.
func (h *Handler) Highlight(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	params := r.URL.Query()
	snippets, err := h.service.Highlight(r.Context(), id, params.Get("q"), splitFields(params.Get("fields")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"highlights": snippets,
	})
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	qc := h.service.Cache()
	if qc == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := qc.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"size":     qc.Len(),
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	qc := h.service.Cache()
	if qc == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	if err := qc.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func splitFields(raw string) []string {
	if raw == "" {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid boolean %q", v)
	}
	return b, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to its HTTP status. Internal errors are not echoed.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
