package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
)

// Searcher is the part of searcher.Service a run needs.
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
}

// Row pairs a query with one retrieved document.
type Row struct {
	RunID    string  `json:"run_id"`
	QueryID  string  `json:"query_id"`
	EntityID string  `json:"entity_id"`
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
}

type Options struct {
	TopK        int
	Concurrency int
	FailFast    bool
	Fields      []string
	Weight      *float64
}

type Summary struct {
	RunID    string        `json:"run_id"`
	Queries  int           `json:"queries"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Rows     int           `json:"rows"`
	Duration time.Duration `json:"duration"`
}

type Runner struct {
	searcher Searcher
	sinks    []Sink
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRunner creates a Runner writing to sinks. m may be nil.
func NewRunner(s Searcher, opts Options, m *metrics.Metrics, sinks ...Sink) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Runner{
		searcher: s,
		sinks:    sinks,
		opts:     opts,
		metrics:  m,
		logger:   slog.Default().With("component", "harness"),
	}
}

// Run searches every query and writes the hits to all sinks in input
// order. Queries without an id are skipped. A failing query is logged and
// counted; with FailFast it aborts the run before anything is written.
func (r *Runner) Run(ctx context.Context, queries []Query) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString(), Queries: len(queries)}
	log := r.logger.With("run_id", summary.RunID)
	log.Info("run started", "queries", len(queries), "concurrency", r.opts.Concurrency, "top_k", r.opts.TopK)

	results := make([][]Row, len(queries))
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, q := range queries {
		if q.ID == "" {
			summary.Skipped++
			r.count("skipped")
			log.Warn("query skipped, empty id", "line", q.Line)
			continue
		}
		g.Go(func() error {
			resp, err := r.searcher.Search(gctx, searcher.Request{
				Query:  q.Text,
				Fields: r.opts.Fields,
				TopK:   r.opts.TopK,
				Weight: r.opts.Weight,
				Source: "harness",
			})
			if err != nil {
				failed.Add(1)
				r.count("failed")
				log.Warn("query failed", "query_id", q.ID, "line", q.Line, "error", err)
				if r.opts.FailFast {
					return fmt.Errorf("query %s (line %d): %w", q.ID, q.Line, err)
				}
				return nil
			}
			rows := make([]Row, 0, len(resp.Results))
			for rank, hit := range resp.Results {
				rows = append(rows, Row{
					RunID:    summary.RunID,
					QueryID:  q.ID,
					EntityID: hit.DocID,
					Rank:     rank + 1,
					Score:    hit.Score,
				})
			}
			results[i] = rows
			r.count("ok")
			log.Debug("query done", "query_id", q.ID, "hits", resp.TotalHits, "rows", len(rows))
			return nil
		})
	}
	err := g.Wait()
	summary.Failed = int(failed.Load())
	summary.Duration = time.Since(start)
	if err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run cancelled: %w", err)
	}

	var rows []Row
	for _, rs := range results {
		rows = append(rows, rs...)
	}
	summary.Rows = len(rows)

	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Write(ctx, rows); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
			continue
		}
		log.Info("results written", "sink", sink.Name(), "rows", len(rows))
	}
	summary.Duration = time.Since(start)
	log.Info("run finished",
		"queries", summary.Queries,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"rows", summary.Rows,
		"duration", summary.Duration,
	)
	return summary, errors.Join(errs...)
}

func (r *Runner) count(status string) {
	if r.metrics != nil {
		r.metrics.HarnessQueriesTotal.WithLabelValues(status).Inc()
	}
}
