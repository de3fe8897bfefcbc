package searcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
)

type swapSource struct {
	ix atomic.Pointer[index.Index]
}

func (s *swapSource) Current() *index.Index { return s.ix.Load() }

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.SearchEvent
}

func (r *recordingTracker) Track(e analytics.SearchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func build(t *testing.T, docs ...index.Document) *index.Index {
	t.Helper()
	s := schema.MustNew(schema.Default(), schema.Options{})
	ix, _, err := index.Build(context.Background(), s, index.Docs(docs...), index.BuildOptions{})
	require.NoError(t, err)
	return ix
}

func corpus(t *testing.T) *index.Index {
	return build(t,
		index.Document{
			ID:     "1",
			Fields: map[string]any{"title": "red car", "text": "a fast red car"},
			Raw:    json.RawMessage(`{"id":"1","title":"red car","text":"a fast red car","price":12000}`),
		},
		index.Document{ID: "2", Fields: map[string]any{"title": "blue bike", "text": "a slow blue bike", "keywords": []any{"cycling", "outdoor"}}},
	)
}

func newService(t *testing.T, ix *index.Index, withCache bool) (*Service, *swapSource, *recordingTracker, *metrics.Metrics) {
	t.Helper()
	src := &swapSource{}
	src.ix.Store(ix)
	m := metrics.New(prometheus.NewRegistry())
	var qc *cache.QueryCache
	if withCache {
		var err error
		qc, err = cache.New(cache.Options{LocalSize: 16}, nil, m)
		require.NoError(t, err)
	}
	tracker := &recordingTracker{}
	svc := New(src, Options{
		Fields:       []string{"title", "text"},
		Weight:       0.9,
		MaxResults:   5,
		QueryTimeout: time.Second,
	}, qc, tracker, m)
	return svc, src, tracker, m
}

func ids(resp *Response) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.DocID
	}
	return out
}

func TestSearchRedCar(t *testing.T) {
	svc, _, tracker, m := newService(t, corpus(t), false)

	resp, err := svc.Search(context.Background(), Request{Query: "red car", TopK: 10, Source: "api"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(resp))
	assert.Equal(t, 1, resp.TotalHits)
	assert.Equal(t, "AND(OR(title:red text:red) OR(title:car text:car))", resp.Parsed)
	assert.Nil(t, resp.Results[0].Record)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("hit")))
	require.Len(t, tracker.events, 1)
	ev := tracker.events[0]
	assert.Equal(t, analytics.EventSearch, ev.Type)
	assert.Equal(t, "api", ev.Source)
	assert.Equal(t, []string{"title:red", "text:red", "title:car", "text:car"}, ev.Terms)
	assert.Equal(t, cache.StatusMiss, ev.CacheStatus)
}

func TestSearchRecordsMergeRawPayloadAndHighlights(t *testing.T) {
	svc, _, _, _ := newService(t, corpus(t), false)

	resp, err := svc.Search(context.Background(), Request{Query: "red", TopK: 10, Highlight: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	r := resp.Results[0]
	assert.Equal(t, "a fast <b>red</b> car", r.Highlights["text"])
	assert.Equal(t, "<b>red</b> car", r.Record["title"])
	assert.Equal(t, "a fast <b>red</b> car", r.Record["text"])
	assert.Equal(t, 12000.0, r.Record["price"])
	assert.Equal(t, "1", r.Record["id"])
}

func TestSearchRecordsWithoutRawPayload(t *testing.T) {
	svc, _, _, _ := newService(t, corpus(t), false)
	resp, err := svc.Search(context.Background(), Request{Query: "bike", TopK: 10, Records: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "blue bike", resp.Results[0].Record["title"])
	assert.Equal(t, []string{"cycling", "outdoor"}, resp.Results[0].Record["keywords"])
	assert.Nil(t, resp.Results[0].Highlights)
}

func TestSearchExplainMatchesScore(t *testing.T) {
	svc, _, _, _ := newService(t, corpus(t), false)
	resp, err := svc.Search(context.Background(), Request{Query: "red car", TopK: 10, Explain: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Results[0].Explanation)
	assert.Equal(t, resp.Results[0].Score, resp.Results[0].Explanation.Score)
	assert.Equal(t, 2, resp.Results[0].Explanation.ClausesMatched)
}

func TestSearchUnknownFieldLeavesServiceUsable(t *testing.T) {
	svc, _, tracker, m := newService(t, corpus(t), false)

	_, err := svc.Search(context.Background(), Request{Query: "red", Fields: []string{"author"}, TopK: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownField)
	assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("unknown_field")))
	assert.Equal(t, analytics.EventSearchFailed, tracker.events[0].Type)

	resp, err := svc.Search(context.Background(), Request{Query: "red car", TopK: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(resp))
}

func TestSearchEmptyAndZeroTopK(t *testing.T) {
	svc, _, _, m := newService(t, corpus(t), false)

	resp, err := svc.Search(context.Background(), Request{Query: "the of and", TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "<empty>", resp.Parsed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("empty_query")))

	for _, k := range []int{0, -3} {
		resp, err = svc.Search(context.Background(), Request{Query: "red", TopK: k})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
	}
}

func TestSearchClampsTopK(t *testing.T) {
	var docs []index.Document
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		docs = append(docs, index.Document{ID: id, Fields: map[string]any{"text": "red"}})
	}
	svc, _, _, _ := newService(t, build(t, docs...), false)

	resp, err := svc.Search(context.Background(), Request{Query: "red", TopK: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(resp))
	assert.Equal(t, 7, resp.TotalHits)
}

func TestSearchWeightOverride(t *testing.T) {
	svc, _, _, _ := newService(t, corpus(t), false)
	anyTerm := 0.0
	resp, err := svc.Search(context.Background(), Request{Query: "red bike", TopK: 10, Weight: &anyTerm})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, ids(resp))

	resp, err = svc.Search(context.Background(), Request{Query: "red bike", TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchCacheFollowsIndexSwap(t *testing.T) {
	svc, src, _, _ := newService(t, corpus(t), true)
	ctx := context.Background()

	first, err := svc.Search(ctx, Request{Query: "red", TopK: 10})
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, first.CacheStatus)

	second, err := svc.Search(ctx, Request{Query: "red", TopK: 10, Highlight: true})
	require.NoError(t, err)
	assert.Equal(t, cache.StatusLocal, second.CacheStatus)
	assert.Equal(t, ids(first), ids(second))
	assert.NotEmpty(t, second.Results[0].Highlights)

	src.ix.Store(build(t,
		index.Document{ID: "9", Fields: map[string]any{"text": "red wagon"}},
		index.Document{ID: "1", Fields: map[string]any{"text": "green car"}},
		index.Document{ID: "3", Fields: map[string]any{"text": "red roof"}},
	))
	third, err := svc.Search(ctx, Request{Query: "red", TopK: 10})
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, third.CacheStatus)
	assert.Equal(t, []string{"3", "9"}, ids(third))

	st := svc.Stats()
	assert.Equal(t, 3, st.Index.Documents)
	assert.Equal(t, int64(1), st.CacheHits)
	assert.Equal(t, 2, st.CacheSize)
}

func TestSearchExpiredDeadline(t *testing.T) {
	svc, _, _, m := newService(t, corpus(t), false)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := svc.Search(ctx, Request{Query: "red", TopK: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, 504, apperrors.HTTPStatusCode(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("timeout")))
}

func TestHighlight(t *testing.T) {
	svc, _, _, _ := newService(t, corpus(t), false)

	got, err := svc.Highlight(context.Background(), "1", "red", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "<b>red</b> car", "text": "a fast <b>red</b> car"}, got)

	got, err = svc.Highlight(context.Background(), "2", "", []string{"keywords"})
	require.NoError(t, err)
	assert.Equal(t, "cycling, outdoor", got["keywords"])

	_, err = svc.Highlight(context.Background(), "42", "red", nil)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
	assert.Equal(t, 404, apperrors.HTTPStatusCode(err))
}

func TestSearchMultiWordKeywordIsReachable(t *testing.T) {
	ix := build(t, index.Document{ID: "ml", Fields: map[string]any{"title": "notes", "keywords": []any{"Machine Learning"}}})
	svc, _, _, _ := newService(t, ix, false)

	for _, weight := range []float64{0, 1} {
		w := weight
		resp, err := svc.Search(context.Background(), Request{Query: "machine learning", Fields: []string{"keywords"}, Weight: &w, TopK: 5})
		require.NoError(t, err)
		assert.Equal(t, []string{"ml"}, ids(resp), "weight %v parsed %s", w, resp.Parsed)
	}
}

func TestSearchCoarseFieldsDoNotRelaxAllTermsRequired(t *testing.T) {
	ix := build(t,
		index.Document{ID: "only-red", Fields: map[string]any{"title": "red bike"}},
		index.Document{ID: "both", Fields: map[string]any{"title": "red car"}},
		index.Document{ID: "tagged", Fields: map[string]any{"title": "plain", "keywords": "red-car"}},
	)
	svc, _, _, _ := newService(t, ix, false)
	one := 1.0

	for _, fields := range [][]string{{"title"}, {"title", "keywords"}, {"title", "id"}, {"title", "keywords", "id"}} {
		resp, err := svc.Search(context.Background(), Request{Query: "red-car", Fields: fields, Weight: &one, TopK: 5})
		require.NoError(t, err)
		assert.NotContains(t, ids(resp), "only-red", "fields %v parsed %s", fields, resp.Parsed)
		assert.Contains(t, ids(resp), "both", "fields %v", fields)
	}

	resp, err := svc.Search(context.Background(), Request{Query: "red-car", Fields: []string{"title", "keywords"}, Weight: &one, TopK: 5})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"both", "tagged"}, ids(resp))
}

func TestSearchConsistentDuringEngineSwaps(t *testing.T) {
	s := schema.MustNew(schema.Default(), schema.Options{})
	engine, err := indexer.NewEngine(config.IndexerConfig{DataDir: t.TempDir(), SnapshotName: "index.rhix"}, s, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	builds := make(map[uint64]int)
	record := func(build int) {
		mu.Lock()
		builds[engine.Current().Generation()] = build
		mu.Unlock()
	}
	// Build n indexes 1+n%3 red documents, all prefixed with the build number.
	rebuild := func(n int) {
		var docs []index.Document
		for i := 0; i <= n%3; i++ {
			docs = append(docs, index.Document{
				ID:     fmt.Sprintf("b%d-%d", n, i),
				Fields: map[string]any{"title": "red car", "text": fmt.Sprintf("red car number %d", i)},
			})
		}
		_, _, err := engine.BuildIndex(context.Background(), index.Docs(docs...))
		require.NoError(t, err)
		record(n)
	}
	rebuild(0)
	snapshot, err := engine.Save()
	require.NoError(t, err)

	svc := New(engine, Options{Fields: []string{"title", "text"}, Weight: 1, MaxResults: 10, QueryTimeout: time.Second}, nil, nil, nil)

	type observed struct {
		generation uint64
		total      int
		ids        []string
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	results := make([][]observed, 8)
	errs := make(chan error, len(results))
	for w := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				resp, err := svc.Search(context.Background(), Request{Query: "red car", TopK: 10})
				if err != nil {
					errs <- err
					return
				}
				results[w] = append(results[w], observed{resp.Generation, resp.TotalHits, ids(resp)})
			}
		}()
	}

	for n := 1; n <= 30; n++ {
		if n%10 == 0 {
			require.NoError(t, engine.Load(snapshot))
			record(0)
			continue
		}
		rebuild(n)
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("search during swap: %v", err)
	}

	seen := 0
	for _, worker := range results {
		for _, o := range worker {
			seen++
			build, ok := builds[o.generation]
			require.True(t, ok, "generation %d was never published", o.generation)
			assert.Equal(t, 1+build%3, o.total)
			require.Len(t, o.ids, o.total)
			for _, id := range o.ids {
				assert.True(t, strings.HasPrefix(id, fmt.Sprintf("b%d-", build)), "id %s in generation %d", id, o.generation)
			}
		}
	}
	assert.Positive(t, seen)
}
