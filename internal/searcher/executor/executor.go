// Package executor evaluates parsed queries against an Index: it walks the
// postings of every query term, applies the coordination threshold and
// keeps the top-K BM25 hits.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

// checkEvery is how many postings are scored between deadline checks.
const checkEvery = 1024

type SearchResult struct {
	Query      string             `json:"query"`
	Generation uint64             `json:"generation"`
	TotalHits  int                `json:"total_hits"`
	Results    []ranker.ScoredHit `json:"results"`
	TermStats  map[string]int     `json:"term_stats,omitempty"`
}

type Executor struct {
	params ranker.Params
	logger *slog.Logger
}

func New(params ranker.Params) *Executor {
	return &Executor{
		params: params,
		logger: slog.Default().With("component", "query-executor"),
	}
}

func (e *Executor) Params() ranker.Params {
	return e.params
}

type accumulator struct {
	score   float64
	clauses []bool
	matched int
	terms   []int
}

// Execute scores every document matching at least q.Required() clauses and
// returns at most topK of them. The Index is only read.
func (e *Executor) Execute(ctx context.Context, ix *index.Index, q *parser.Query, topK int) (*SearchResult, error) {
	result := &SearchResult{
		Query:      q.Text,
		Generation: ix.Generation(),
		Results:    []ranker.ScoredHit{},
	}
	if q.IsEmpty() || topK <= 0 || ix.DocCount() == 0 {
		return result, nil
	}
	if err := contextError(ctx); err != nil {
		return nil, err
	}

	refs := q.Terms()
	termIndex := make(map[parser.TermRef]int, len(refs))
	for i, ref := range refs {
		termIndex[ref] = i
	}
	clauses := q.Clauses()
	memberOf := make([][]int, len(refs))
	for ci, clause := range clauses {
		for _, ref := range clauseTerms(clause) {
			ti := termIndex[ref]
			memberOf[ti] = append(memberOf[ti], ci)
		}
	}

	result.TermStats = make(map[string]int, len(refs))
	accs := make(map[int]*accumulator)
	scored := 0
	for ti, ref := range refs {
		ts := ranker.NewTermScorer(ix, e.params, ref.Field, ref.Term)
		result.TermStats[ref.Field+":"+ref.Term] = ts.Postings.DocFreq()
		for _, p := range ts.Postings {
			scored++
			if scored%checkEvery == 0 {
				if err := contextError(ctx); err != nil {
					return nil, err
				}
			}
			acc, ok := accs[p.DocID]
			if !ok {
				acc = &accumulator{clauses: make([]bool, len(clauses))}
				accs[p.DocID] = acc
			}
			acc.score += ts.Score(p)
			acc.terms = append(acc.terms, ti)
			for _, ci := range memberOf[ti] {
				if !acc.clauses[ci] {
					acc.clauses[ci] = true
					acc.matched++
				}
			}
		}
	}

	required := q.Required()
	top := ranker.NewTopK(topK)
	for doc, acc := range accs {
		if acc.matched < required {
			continue
		}
		result.TotalHits++
		top.Push(ranker.ScoredHit{
			DocID:        ix.ExternalID(doc),
			Score:        acc.score,
			MatchedTerms: matchedTerms(refs, acc.terms),
			Doc:          doc,
		})
	}
	result.Results = top.Results()

	e.logger.Debug("query executed",
		"query", q.Text,
		"parsed", q.String(),
		"candidates", len(accs),
		"total_hits", result.TotalHits,
		"results", len(result.Results),
	)
	return result, nil
}

func clauseTerms(n *parser.Node) []parser.TermRef {
	if n.Kind == parser.NodeTerm {
		return []parser.TermRef{{Field: n.Field, Term: n.Term}}
	}
	var out []parser.TermRef
	for _, c := range n.Children {
		out = append(out, clauseTerms(c)...)
	}
	return out
}

func matchedTerms(refs []parser.TermRef, idx []int) map[string][]string {
	out := make(map[string][]string)
	for _, ti := range idx {
		out[refs[ti].Field] = append(out[refs[ti].Field], refs[ti].Term)
	}
	return out
}

// contextError maps an expired deadline to ErrTimeout and passes other
// cancellations through.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.New(apperrors.ErrTimeout, http.StatusGatewayTimeout, "query exceeded its deadline")
	}
	return fmt.Errorf("query cancelled: %w", err)
}
