// Package ranker implements Okapi BM25 scoring over per-field postings and
// top-K selection of scored hits.
package ranker

import (
	"container/heap"
	"math"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/parser"
)

// Params are the BM25 free parameters.
type Params struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`
}

func DefaultParams() Params {
	return Params{K1: 1.2, B: 0.75}
}

// ScoredHit is one ranked document. Doc is the internal id within the Index
// that produced the hit.
type ScoredHit struct {
	DocID        string              `json:"doc_id"`
	Score        float64             `json:"score"`
	MatchedTerms map[string][]string `json:"matched_terms,omitempty"`
	Doc          int                 `json:"-"`
}

// TermScorer holds the collection statistics for one (field, term) pair so
// that scoring a posting is a handful of float operations.
type TermScorer struct {
	Field    string
	Term     string
	Postings index.PostingList
	IDF      float64
	Boost    float64
	AvgDL    float64
	params   Params
	lengths  func(doc int) int
}

// NewTermScorer looks up the postings and statistics for field:term.
func NewTermScorer(ix *index.Index, p Params, field, term string) *TermScorer {
	postings := ix.Postings(field, term)
	boost := 1.0
	if spec, ok := ix.Schema().Field(field); ok && spec.Boost > 0 {
		boost = spec.Boost
	}
	return &TermScorer{
		Field:    field,
		Term:     term,
		Postings: postings,
		IDF:      IDF(ix.DocCount(), postings.DocFreq()),
		Boost:    boost,
		AvgDL:    ix.AvgFieldLength(field),
		params:   p,
		lengths:  func(doc int) int { return ix.FieldLength(field, doc) },
	}
}

// Score is the boosted BM25 contribution of one posting.
func (t *TermScorer) Score(p index.Posting) float64 {
	return t.Boost * t.IDF * TFNorm(t.params, float64(p.Frequency), float64(t.lengths(p.DocID)), t.AvgDL)
}

// IDF is the non-negative BM25 inverse document frequency.
func IDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

// TFNorm saturates term frequency and normalises for field length.
func TFNorm(p Params, termFreq, docLength, avgDocLength float64) float64 {
	if avgDocLength == 0 || termFreq == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + p.K1*(1-p.B+p.B*lengthRatio)
	return (termFreq * (p.K1 + 1)) / denominator
}

// TermExplanation breaks down one (field, term) contribution to a score.
type TermExplanation struct {
	Field          string  `json:"field"`
	Term           string  `json:"term"`
	Matched        bool    `json:"matched"`
	TermFreq       int     `json:"tf"`
	DocFreq        int     `json:"df"`
	IDF            float64 `json:"idf"`
	TFNorm         float64 `json:"tf_norm"`
	FieldLength    int     `json:"field_length"`
	AvgFieldLength float64 `json:"avg_field_length"`
	Boost          float64 `json:"boost"`
	Score          float64 `json:"score"`
}

// Explanation is the full score breakdown of one document.
type Explanation struct {
	DocID          string            `json:"doc_id"`
	Score          float64           `json:"score"`
	ClausesMatched int               `json:"clauses_matched"`
	Required       int               `json:"required"`
	Terms          []TermExplanation `json:"terms"`
}

// Explain recomputes the score of doc for q term by term. Summation order
// matches the executor so Score is identical to the ranked score.
func Explain(ix *index.Index, p Params, q *parser.Query, doc int) Explanation {
	exp := Explanation{
		DocID:    ix.ExternalID(doc),
		Required: q.Required(),
	}
	matched := make(map[parser.TermRef]bool)
	for _, ref := range q.Terms() {
		ts := NewTermScorer(ix, p, ref.Field, ref.Term)
		te := TermExplanation{
			Field:          ref.Field,
			Term:           ref.Term,
			DocFreq:        ts.Postings.DocFreq(),
			IDF:            ts.IDF,
			FieldLength:    ix.FieldLength(ref.Field, doc),
			AvgFieldLength: ts.AvgDL,
			Boost:          ts.Boost,
		}
		if posting, ok := find(ts.Postings, doc); ok {
			te.Matched = true
			te.TermFreq = posting.Frequency
			te.TFNorm = TFNorm(p, float64(posting.Frequency), float64(te.FieldLength), ts.AvgDL)
			te.Score = ts.Score(posting)
			exp.Score += te.Score
			matched[ref] = true
		}
		exp.Terms = append(exp.Terms, te)
	}
	for _, clause := range q.Clauses() {
		if clauseMatched(clause, matched) {
			exp.ClausesMatched++
		}
	}
	return exp
}

func clauseMatched(n *parser.Node, matched map[parser.TermRef]bool) bool {
	if n.Kind == parser.NodeTerm {
		return matched[parser.TermRef{Field: n.Field, Term: n.Term}]
	}
	for _, c := range n.Children {
		if clauseMatched(c, matched) {
			return true
		}
	}
	return false
}

// find binary-searches a posting list ordered by DocID.
func find(pl index.PostingList, doc int) (index.Posting, bool) {
	lo, hi := 0, len(pl)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if pl[mid].DocID < doc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(pl) && pl[lo].DocID == doc {
		return pl[lo], true
	}
	return index.Posting{}, false
}

// Better reports whether a ranks ahead of b: higher score first, then
// ascending external id.
func Better(a, b ScoredHit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// TopK keeps the best k hits pushed into it.
type TopK struct {
	limit int
	h     hitHeap
}

func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{limit: k, h: make(hitHeap, 0, min(k, 1024))}
}

// Push offers a hit; it is kept only if it beats the current worst.
func (t *TopK) Push(hit ScoredHit) {
	if t.limit == 0 {
		return
	}
	if t.h.Len() < t.limit {
		heap.Push(&t.h, hit)
		return
	}
	if Better(hit, t.h[0]) {
		t.h[0] = hit
		heap.Fix(&t.h, 0)
	}
}

// Results drains the heap into best-first order.
func (t *TopK) Results() []ScoredHit {
	result := make([]ScoredHit, t.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&t.h).(ScoredHit)
	}
	return result
}

// hitHeap is a min-heap with the worst-ranked hit at the root.
type hitHeap []ScoredHit

func (h hitHeap) Len() int { return len(h) }

func (h hitHeap) Less(i, j int) bool { return Better(h[j], h[i]) }

func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x interface{}) {
	*h = append(*h, x.(ScoredHit))
}

func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
