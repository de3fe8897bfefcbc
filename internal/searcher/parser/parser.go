// Package parser turns free-text queries into a tree of term clauses over
// one or more schema fields.
package parser

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

type NodeKind int

const (
	NodeTerm NodeKind = iota
	NodeAnd
	NodeOr
)

func (k NodeKind) String() string {
	switch k {
	case NodeTerm:
		return "TERM"
	case NodeAnd:
		return "AND"
	case NodeOr:
		return "OR"
	default:
		return "UNKNOWN"
	}
}

// Node is one element of a parsed query. TERM nodes carry Field and Term;
// AND and OR nodes carry Children. An OR node matches when at least
// MinMatch children match.
type Node struct {
	Kind     NodeKind `json:"kind"`
	Field    string   `json:"field,omitempty"`
	Term     string   `json:"term,omitempty"`
	Children []*Node  `json:"children,omitempty"`
	MinMatch int      `json:"min_match,omitempty"`
}

func (n *Node) String() string {
	switch n.Kind {
	case NodeTerm:
		return n.Field + ":" + n.Term
	default:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = c.String()
		}
		s := n.Kind.String() + "(" + strings.Join(parts, " ") + ")"
		if n.Kind == NodeOr && n.MinMatch > 1 {
			s += fmt.Sprintf("~%d", n.MinMatch)
		}
		return s
	}
}

// TermRef names one (field, term) pair.
type TermRef struct {
	Field string `json:"field"`
	Term  string `json:"term"`
}

// Query is the parsed form of a query string. Root is nil when no terms
// survived analysis; such a query matches nothing.
type Query struct {
	Root   *Node    `json:"root,omitempty"`
	Text   string   `json:"text"`
	Fields []string `json:"fields"`
	Weight float64  `json:"weight"`
}

// IsEmpty reports whether the query has no clauses.
func (q *Query) IsEmpty() bool {
	return q == nil || q.Root == nil
}

// Clauses returns the root's children. Each clause is a TERM node or an OR
// of TERM nodes that stem from the same words of the query text.
func (q *Query) Clauses() []*Node {
	if q.IsEmpty() {
		return nil
	}
	return q.Root.Children
}

// Required is how many clauses a document must match.
func (q *Query) Required() int {
	if q.IsEmpty() {
		return 0
	}
	if q.Root.Kind == NodeAnd {
		return len(q.Root.Children)
	}
	return q.Root.MinMatch
}

// Terms lists the distinct (field, term) pairs in tree order.
func (q *Query) Terms() []TermRef {
	if q.IsEmpty() {
		return nil
	}
	var out []TermRef
	seen := make(map[TermRef]struct{})
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Kind == NodeTerm {
			ref := TermRef{Field: n.Field, Term: n.Term}
			if _, ok := seen[ref]; !ok {
				seen[ref] = struct{}{}
				out = append(out, ref)
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(q.Root)
	return out
}

// TermsByField groups Terms by field.
func (q *Query) TermsByField() map[string][]string {
	out := make(map[string][]string)
	for _, ref := range q.Terms() {
		out[ref.Field] = append(out[ref.Field], ref.Term)
	}
	return out
}

func (q *Query) String() string {
	if q.IsEmpty() {
		return "<empty>"
	}
	return q.Root.String()
}

type spanTerm struct {
	start, end int
	field      int
	grain      int
	term       string
}

// Analyzer grains, finest first. A coarser token can span several finer
// ones ("red-car" as a keyword covers "red" and "car" as text).
const (
	grainText = iota
	grainKeyword
	grainExact
)

func grainOf(a tokenizer.Analyzer) int {
	switch a.(type) {
	case tokenizer.KeywordAnalyzer:
		return grainKeyword
	case tokenizer.ExactAnalyzer:
		return grainExact
	default:
		return grainText
	}
}

type termGroup struct {
	start, end int
	terms      []spanTerm
}

func (g *termGroup) overlaps(st spanTerm) bool {
	return st.start < g.end && g.start < st.end
}

// Parse analyzes text with each target field's query analyzer and combines
// the resulting terms. Clauses follow the tokens of the finest analyzer
// present; a coarser token joins every clause it overlaps and only forms a
// clause of its own when it overlaps none. Clauses are combined so that at
// least ceil(weight x clauses) of them (minimum one) must match. A weight of
// 1 yields an AND root.
func Parse(s *schema.Schema, text string, fields []string, weight float64) (*Query, error) {
	if weight < 0 || weight > 1 || math.IsNaN(weight) {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "combination weight must be in [0,1], got %v", weight)
	}
	analyzers := make([]tokenizer.Analyzer, len(fields))
	var stop []*tokenizer.TextAnalyzer
	for i, name := range fields {
		spec, ok := s.Field(name)
		if !ok {
			return nil, apperrors.UnknownField(name)
		}
		if !spec.Indexed {
			return nil, apperrors.Newf(apperrors.ErrUnknownField, http.StatusBadRequest, "field %q is not indexed", name)
		}
		analyzers[i] = s.Analyzer(name)
		if ta, ok := analyzers[i].(*tokenizer.TextAnalyzer); ok && ta.Stems() {
			stop = append(stop, ta)
		}
	}

	q := &Query{Text: text, Fields: append([]string(nil), fields...), Weight: weight}
	if strings.TrimSpace(text) == "" {
		return q, nil
	}

	var all []spanTerm
	finest := grainExact
	for i, a := range analyzers {
		ta, ok := a.(*tokenizer.TextAnalyzer)
		stems := ok && ta.Stems()
		grain := grainOf(a)
		for _, tok := range a.AnalyzeQuery(text) {
			// Unanalyzed fields would otherwise turn stop words into
			// clauses that analyzed fields can never satisfy.
			if !stems && isStopWord(stop, tok.Term) {
				continue
			}
			all = append(all, spanTerm{start: tok.Start, end: tok.End, field: i, grain: grain, term: tok.Term})
			if grain < finest {
				finest = grain
			}
		}
	}
	if len(all) == 0 {
		return q, nil
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].end < all[j].end
	})

	var base, coarse []spanTerm
	for _, st := range all {
		if st.grain == finest {
			base = append(base, st)
		} else {
			coarse = append(coarse, st)
		}
	}
	groups := groupBySpan(base)
	var orphans []spanTerm
	for _, st := range coarse {
		attached := false
		for _, g := range groups {
			if g.overlaps(st) {
				g.terms = append(g.terms, st)
				attached = true
			}
		}
		if !attached {
			orphans = append(orphans, st)
		}
	}
	groups = append(groups, groupBySpan(orphans)...)
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].start < groups[j].start })

	var clauses []*Node
	seenClause := make(map[string]struct{})
	for _, g := range groups {
		clause := buildClause(g.terms, fields)
		key := clause.String()
		if _, dup := seenClause[key]; !dup {
			seenClause[key] = struct{}{}
			clauses = append(clauses, clause)
		}
	}

	required := int(math.Ceil(weight * float64(len(clauses))))
	if required < 1 {
		required = 1
	}
	if required >= len(clauses) {
		q.Root = &Node{Kind: NodeAnd, Children: clauses}
	} else {
		q.Root = &Node{Kind: NodeOr, Children: clauses, MinMatch: required}
	}
	return q, nil
}

// groupBySpan merges start-ordered terms whose spans overlap. Terms of one
// analyzer grain never overlap unless they come from the same words.
func groupBySpan(terms []spanTerm) []*termGroup {
	var groups []*termGroup
	for i := 0; i < len(terms); {
		g := &termGroup{start: terms[i].start, end: terms[i].end}
		j := i
		for j < len(terms) && (j == i || terms[j].start < g.end) {
			if terms[j].end > g.end {
				g.end = terms[j].end
			}
			j++
		}
		g.terms = append([]spanTerm(nil), terms[i:j]...)
		groups = append(groups, g)
		i = j
	}
	return groups
}

// buildClause orders terms by target field then first appearance, dropping
// duplicates.
func buildClause(group []spanTerm, fields []string) *Node {
	sorted := append([]spanTerm(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].field < sorted[j].field })
	var terms []*Node
	seen := make(map[TermRef]struct{})
	for _, st := range sorted {
		ref := TermRef{Field: fields[st.field], Term: st.term}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		terms = append(terms, &Node{Kind: NodeTerm, Field: ref.Field, Term: ref.Term})
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return &Node{Kind: NodeOr, Children: terms, MinMatch: 1}
}

func isStopWord(analyzers []*tokenizer.TextAnalyzer, term string) bool {
	for _, a := range analyzers {
		if a.IsStopWord(term) {
			return true
		}
	}
	return false
}
