package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/cache"
)

type fixedSource struct{ ix *index.Index }

func (f fixedSource) Current() *index.Index { return f.ix }

func newMux(t *testing.T, withCache bool) *http.ServeMux {
	t.Helper()
	s := schema.MustNew(schema.Default(), schema.Options{})
	ix, _, err := index.Build(context.Background(), s, index.Docs(
		index.Document{ID: "1", Fields: map[string]any{"title": "red car", "text": "a fast red car"}},
		index.Document{ID: "2", Fields: map[string]any{"title": "blue bike", "text": "a slow blue bike"}},
	), index.BuildOptions{})
	require.NoError(t, err)

	var qc *cache.QueryCache
	if withCache {
		qc, err = cache.New(cache.Options{}, nil, nil)
		require.NoError(t, err)
	}
	svc := searcher.New(fixedSource{ix}, searcher.Options{
		Fields:       []string{"title", "text"},
		Weight:       0.9,
		DefaultLimit: 10,
		MaxResults:   100,
		QueryTimeout: time.Second,
	}, qc, nil, nil)
	mux := http.NewServeMux()
	New(svc).Register(mux)
	return mux
}

func get(t *testing.T, mux http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	mux := newMux(t, false)
	rec := get(t, mux, http.MethodGet, "/api/v1/search?q=red+car&highlight=true&explain=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp searcher.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "1", resp.Results[0].DocID)
	assert.Equal(t, "a fast <b>red</b> <b>car</b>", resp.Results[0].Highlights["text"])
	assert.NotNil(t, resp.Results[0].Explanation)
	assert.Equal(t, "<b>red</b> <b>car</b>", resp.Results[0].Record["title"])
}

func TestSearchEndpointParameters(t *testing.T) {
	mux := newMux(t, false)

	var resp searcher.Response
	rec := get(t, mux, http.MethodGet, "/api/v1/search?q=red+bike&weight=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)

	rec = get(t, mux, http.MethodGet, "/api/v1/search?q=red&limit=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)

	rec = get(t, mux, http.MethodGet, "/api/v1/search?q=red&fields=title")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AND(title:red)", resp.Parsed)
}

func TestSearchEndpointErrors(t *testing.T) {
	mux := newMux(t, false)
	tests := []struct {
		name   string
		target string
		status int
	}{
		{"unknown field", "/api/v1/search?q=red&fields=author", http.StatusBadRequest},
		{"bad limit", "/api/v1/search?q=red&limit=ten", http.StatusBadRequest},
		{"negative limit", "/api/v1/search?q=red&limit=-1", http.StatusBadRequest},
		{"bad weight", "/api/v1/search?q=red&weight=heavy", http.StatusBadRequest},
		{"weight out of range", "/api/v1/search?q=red&weight=2", http.StatusBadRequest},
		{"bad highlight", "/api/v1/search?q=red&highlight=maybe", http.StatusBadRequest},
		{"missing document", "/api/v1/documents/42/highlight?q=red", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, mux, http.MethodGet, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHighlightEndpoint(t *testing.T) {
	mux := newMux(t, false)
	rec := get(t, mux, http.MethodGet, "/api/v1/documents/1/highlight?q=red&fields=text")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"1","highlights":{"text":"a fast <b>red</b> car"}}`, rec.Body.String())
}

func TestIndexStatsEndpoint(t *testing.T) {
	mux := newMux(t, false)
	rec := get(t, mux, http.MethodGet, "/api/v1/index/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var st searcher.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Index.Documents)
}

func TestCacheEndpoints(t *testing.T) {
	disabled := newMux(t, false)
	assert.JSONEq(t, `{"status":"disabled"}`, get(t, disabled, http.MethodGet, "/api/v1/cache/stats").Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, disabled, http.MethodPost, "/api/v1/cache/invalidate").Code)

	mux := newMux(t, true)
	get(t, mux, http.MethodGet, "/api/v1/search?q=red")
	get(t, mux, http.MethodGet, "/api/v1/search?q=red")

	var stats map[string]any
	require.NoError(t, json.Unmarshal(get(t, mux, http.MethodGet, "/api/v1/cache/stats").Body.Bytes(), &stats))
	assert.Equal(t, 1.0, stats["hits"])
	assert.Equal(t, "50.0%", stats["hit_rate"])

	rec := get(t, mux, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(get(t, mux, http.MethodGet, "/api/v1/cache/stats").Body.Bytes(), &stats))
	assert.Equal(t, 0.0, stats["size"])
}
