// Package searcher is the query entry point. A Service reads the active
// Index from its source once per request, parses the query, runs it through
// the cache and executor under a deadline, and turns ranked hits into
// result records.
package searcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/highlight"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/tracing"
)

// IndexSource yields the Index a request should run against.
type IndexSource interface {
	Current() *index.Index
}

// Tracker receives one event per finished search. Both the Kafka-backed
// analytics.Collector and the in-process analytics.Aggregator satisfy it.
type Tracker interface {
	Track(event analytics.SearchEvent)
}

type Options struct {
	Fields       []string
	Weight       float64
	DefaultLimit int
	MaxResults   int
	QueryTimeout time.Duration
	Params       ranker.Params
	Highlight    highlight.Options
}

// Request is one search. Zero Fields and a nil Weight fall back to the
// service defaults; TopK is used as given, so zero yields no hits.
type Request struct {
	Query     string
	Fields    []string
	TopK      int
	Weight    *float64
	Highlight bool
	Explain   bool
	Records   bool
	Source    string
}

type Result struct {
	DocID        string              `json:"id"`
	Score        float64             `json:"score"`
	MatchedTerms map[string][]string `json:"matched_terms,omitempty"`
	Highlights   map[string]string   `json:"highlights,omitempty"`
	Record       map[string]any      `json:"record,omitempty"`
	Explanation  *ranker.Explanation `json:"explanation,omitempty"`
}

type Response struct {
	Query       string         `json:"query"`
	Parsed      string         `json:"parsed"`
	Generation  uint64         `json:"generation"`
	TotalHits   int            `json:"total_hits"`
	CacheStatus string         `json:"cache_status"`
	TookMs      int64          `json:"took_ms"`
	TermStats   map[string]int `json:"term_stats,omitempty"`
	Results     []Result       `json:"results"`
}

type Service struct {
	source      IndexSource
	exec        *executor.Executor
	highlighter *highlight.Highlighter
	cache       *cache.QueryCache
	tracker     Tracker
	metrics     *metrics.Metrics
	opts        Options
	logger      *slog.Logger
}

// New creates a Service. queryCache, tracker and m may be nil.
func New(source IndexSource, opts Options, queryCache *cache.QueryCache, tracker Tracker, m *metrics.Metrics) *Service {
	if opts.Params == (ranker.Params{}) {
		opts.Params = ranker.DefaultParams()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	return &Service{
		source:      source,
		exec:        executor.New(opts.Params),
		highlighter: highlight.New(opts.Highlight),
		cache:       queryCache,
		tracker:     tracker,
		metrics:     m,
		opts:        opts,
		logger:      slog.Default().With("component", "searcher"),
	}
}

func (s *Service) Options() Options {
	return s.opts
}

func (s *Service) Cache() *cache.QueryCache {
	return s.cache
}

// Search runs one query against the current Index. The Index is read once,
// so a concurrent swap never mixes two snapshots within a request.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "search", middleware.GetRequestID(ctx))
	defer func() {
		span.End()
		span.Log(ctx, s.logger)
	}()
	ix := s.source.Current()
	fields := req.Fields
	if len(fields) == 0 {
		fields = s.opts.Fields
	}
	weight := s.opts.Weight
	if req.Weight != nil {
		weight = *req.Weight
	}
	topK := req.TopK
	if s.opts.MaxResults > 0 && topK > s.opts.MaxResults {
		topK = s.opts.MaxResults
	}

	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	q, err := parser.Parse(ix.Schema(), req.Query, fields, weight)
	parseSpan.End()
	if err != nil {
		s.finish(ctx, req, fields, nil, nil, cache.StatusMiss, start, err)
		return nil, err
	}
	parseSpan.SetAttr("clauses", len(q.Clauses()))

	execCtx, execSpan := tracing.StartChildSpan(ctx, "execute")
	result, status, err := s.execute(execCtx, ix, q, topK, fields, weight)
	execSpan.SetAttr("cache_status", status)
	execSpan.End()
	if err != nil {
		s.finish(ctx, req, fields, q, nil, status, start, err)
		return nil, err
	}

	resp := &Response{
		Query:       req.Query,
		Parsed:      q.String(),
		Generation:  ix.Generation(),
		TotalHits:   result.TotalHits,
		CacheStatus: status,
		TermStats:   result.TermStats,
		Results:     make([]Result, 0, len(result.Results)),
	}
	_, resultSpan := tracing.StartChildSpan(ctx, "results")
	for _, hit := range result.Results {
		resp.Results = append(resp.Results, s.buildResult(ix, q, hit, fields, req))
	}
	resultSpan.SetAttr("returned", len(resp.Results))
	resultSpan.End()
	resp.TookMs = time.Since(start).Milliseconds()
	s.finish(ctx, req, fields, q, resp, status, start, nil)
	return resp, nil
}

func (s *Service) execute(ctx context.Context, ix *index.Index, q *parser.Query, topK int, fields []string, weight float64) (*executor.SearchResult, string, error) {
	run := func() (*executor.SearchResult, error) {
		res, err := resilience.WithTimeout(ctx, s.opts.QueryTimeout, "search", func(ctx context.Context) (*executor.SearchResult, error) {
			return s.exec.Execute(ctx, ix, q, topK)
		})
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrTimeout) {
			return nil, apperrors.Newf(apperrors.ErrTimeout, http.StatusGatewayTimeout, "query exceeded %v", s.opts.QueryTimeout)
		}
		return res, err
	}
	if s.cache == nil || q.IsEmpty() || topK <= 0 {
		res, err := run()
		return res, cache.StatusMiss, err
	}
	key := cache.Key{
		Version: s.version(ix),
		Query:   q.Text,
		Fields:  fields,
		TopK:    topK,
		Weight:  weight,
	}
	return s.cache.GetOrCompute(ctx, key, run)
}

// version names the Index and ranking parameters a cached result depends
// on. It survives process restarts so remote entries stay usable across
// replicas serving the same snapshot.
func (s *Service) version(ix *index.Index) string {
	p := s.opts.Params
	return fmt.Sprintf("%d:%d:%g:%g", ix.BuiltAt().UnixNano(), ix.DocCount(), p.K1, p.B)
}

func (s *Service) buildResult(ix *index.Index, q *parser.Query, hit ranker.ScoredHit, fields []string, req Request) Result {
	r := Result{
		DocID:        hit.DocID,
		Score:        hit.Score,
		MatchedTerms: hit.MatchedTerms,
	}
	if !req.Highlight && !req.Explain && !req.Records {
		return r
	}
	// Results from the remote cache tier carry no internal id.
	doc, ok := ix.InternalID(hit.DocID)
	if !ok {
		return r
	}
	if req.Highlight {
		r.Highlights = s.highlighter.Highlight(ix, doc, q.TermsByField(), fields)
	}
	if req.Records || req.Highlight {
		r.Record = record(ix.Stored(doc), r.Highlights)
	}
	if req.Explain {
		exp := ranker.Explain(ix, s.opts.Params, q, doc)
		r.Explanation = &exp
	}
	return r
}

// record starts from the raw payload, fills in stored fields the payload
// lacks, and overlays highlights.
func record(stored index.StoredDoc, highlights map[string]string) map[string]any {
	out := make(map[string]any)
	if len(stored.Raw) > 0 {
		if err := json.Unmarshal(stored.Raw, &out); err != nil {
			out = map[string]any{"raw": string(stored.Raw)}
		}
	}
	for name, v := range stored.Fields {
		if _, ok := out[name]; !ok {
			out[name] = v.Interface()
		}
	}
	for name, snippet := range highlights {
		out[name] = snippet
	}
	return out
}

// Highlight marks the terms of query in the stored fields of one document.
func (s *Service) Highlight(ctx context.Context, docID, query string, fields []string) (map[string]string, error) {
	ix := s.source.Current()
	if len(fields) == 0 {
		fields = s.opts.Fields
	}
	doc, ok := ix.InternalID(docID)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %q", docID)
	}
	q, err := parser.Parse(ix.Schema(), query, fields, 0)
	if err != nil {
		return nil, err
	}
	return s.highlighter.Highlight(ix, doc, q.TermsByField(), fields), nil
}

type Stats struct {
	Index       index.Stats `json:"index"`
	CacheHits   int64       `json:"cache_hits"`
	CacheMisses int64       `json:"cache_misses"`
	CacheSize   int         `json:"cache_size"`
}

func (s *Service) Stats() Stats {
	st := Stats{Index: s.source.Current().Stats()}
	if s.cache != nil {
		st.CacheHits, st.CacheMisses = s.cache.Stats()
		st.CacheSize = s.cache.Len()
	}
	return st
}

func (s *Service) finish(ctx context.Context, req Request, fields []string, q *parser.Query, resp *Response, status string, start time.Time, err error) {
	elapsed := time.Since(start)
	total, returned := 0, 0
	var generation uint64
	if resp != nil {
		total, returned, generation = resp.TotalHits, len(resp.Results), resp.Generation
	}
	if s.metrics != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues(resultType(q, total, err)).Inc()
		s.metrics.SearchLatency.WithLabelValues(status).Observe(elapsed.Seconds())
		if err == nil {
			s.metrics.SearchResultsCount.Observe(float64(returned))
		}
	}
	if s.tracker != nil {
		event := analytics.SearchEvent{
			Type:        analytics.TypeFor(total, err),
			Source:      req.Source,
			Query:       req.Query,
			Fields:      fields,
			TotalHits:   total,
			Returned:    returned,
			LatencyMs:   elapsed.Milliseconds(),
			CacheStatus: status,
			Generation:  generation,
			Timestamp:   time.Now().UTC(),
			RequestID:   middleware.GetRequestID(ctx),
		}
		if q != nil {
			for _, ref := range q.Terms() {
				event.Terms = append(event.Terms, ref.Field+":"+ref.Term)
			}
		}
		if err != nil {
			event.Error = err.Error()
		}
		s.tracker.Track(event)
	}
	if err != nil {
		s.logger.Warn("search failed", "query", req.Query, "error", err, "latency", elapsed)
		return
	}
	s.logger.Debug("search completed",
		"query", req.Query,
		"total_hits", total,
		"returned", returned,
		"cache_status", status,
		"latency", elapsed,
	)
}

func resultType(q *parser.Query, total int, err error) string {
	switch {
	case errors.Is(err, apperrors.ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	case err != nil:
		return "error"
	case q == nil || q.IsEmpty():
		return "empty_query"
	case total == 0:
		return "zero_result"
	default:
		return "hit"
	}
}
