// Package index holds the immutable inverted index and the builder that
// produces it. An Index is never mutated once constructed; rebuilding
// yields a new Index and callers swap their reference.
package index

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

var generations atomic.Uint64

// FieldData is the inverted data for one indexed field.
type FieldData struct {
	Postings    map[string]PostingList `json:"postings"`
	Lengths     []int                  `json:"lengths"`
	TotalLength int64                  `json:"total_length"`
}

// Snapshot is the plain-data form of an Index used for persistence.
type Snapshot struct {
	DocIDs  []string              `json:"doc_ids"`
	Stored  []StoredDoc           `json:"stored"`
	Fields  map[string]*FieldData `json:"fields"`
	BuiltAt time.Time             `json:"built_at"`
}

// Index is the queryable artifact: term dictionary and postings per field,
// the internal/external id bimap, the document store, and statistics.
// It is safe for concurrent readers.
type Index struct {
	schema     *schema.Schema
	generation uint64
	builtAt    time.Time
	docIDs     []string
	byExternal map[string]int
	fields     map[string]*FieldData
	stored     []StoredDoc
}

func newIndex(s *schema.Schema, snap Snapshot) *Index {
	byExternal := make(map[string]int, len(snap.DocIDs))
	for i, id := range snap.DocIDs {
		byExternal[id] = i
	}
	if snap.Fields == nil {
		snap.Fields = make(map[string]*FieldData)
	}
	return &Index{
		schema:     s,
		generation: generations.Add(1),
		builtAt:    snap.BuiltAt,
		docIDs:     snap.DocIDs,
		byExternal: byExternal,
		fields:     snap.Fields,
		stored:     snap.Stored,
	}
}

// FromSnapshot validates persisted data against the schema and wraps it in
// a new Index.
func FromSnapshot(s *schema.Schema, snap Snapshot) (*Index, error) {
	n := len(snap.DocIDs)
	if len(snap.Stored) != n {
		return nil, fmt.Errorf("%w: %d stored docs for %d ids", apperrors.ErrCorruptSnapshot, len(snap.Stored), n)
	}
	seen := make(map[string]struct{}, n)
	for _, id := range snap.DocIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate document id %q", apperrors.ErrCorruptSnapshot, id)
		}
		seen[id] = struct{}{}
	}
	for name, fd := range snap.Fields {
		spec, ok := s.Field(name)
		if !ok || !spec.Indexed {
			return nil, fmt.Errorf("%w: postings for undeclared field %q", apperrors.ErrCorruptSnapshot, name)
		}
		if fd == nil {
			return nil, fmt.Errorf("%w: field %q has no data", apperrors.ErrCorruptSnapshot, name)
		}
		if len(fd.Lengths) != n {
			return nil, fmt.Errorf("%w: field %q has %d lengths for %d docs", apperrors.ErrCorruptSnapshot, name, len(fd.Lengths), n)
		}
		for term, pl := range fd.Postings {
			prev := -1
			for _, p := range pl {
				if p.DocID <= prev || p.DocID >= n {
					return nil, fmt.Errorf("%w: field %q term %q has out-of-order doc %d", apperrors.ErrCorruptSnapshot, name, term, p.DocID)
				}
				prev = p.DocID
			}
		}
	}
	return newIndex(s, snap), nil
}

// Snapshot exposes the index contents for persistence. The returned data
// shares memory with the Index and must be treated as read-only.
func (ix *Index) Snapshot() Snapshot {
	return Snapshot{
		DocIDs:  ix.docIDs,
		Stored:  ix.stored,
		Fields:  ix.fields,
		BuiltAt: ix.builtAt,
	}
}

func (ix *Index) Schema() *schema.Schema {
	return ix.schema
}

// Generation is a process-unique number identifying this Index instance.
func (ix *Index) Generation() uint64 {
	return ix.generation
}

func (ix *Index) BuiltAt() time.Time {
	return ix.builtAt
}

// DocCount is the number of documents N; internal ids are [0, N).
func (ix *Index) DocCount() int {
	return len(ix.docIDs)
}

// ExternalID maps an internal id to the caller's id.
func (ix *Index) ExternalID(doc int) string {
	return ix.docIDs[doc]
}

// InternalID maps a caller id to its internal id.
func (ix *Index) InternalID(id string) (int, bool) {
	doc, ok := ix.byExternal[id]
	return doc, ok
}

// Postings returns the postings for a (field, term) pair, or nil.
func (ix *Index) Postings(field, term string) PostingList {
	fd, ok := ix.fields[field]
	if !ok {
		return nil
	}
	return fd.Postings[term]
}

// FieldLength is the analyzed token count of a field in one document.
func (ix *Index) FieldLength(field string, doc int) int {
	fd, ok := ix.fields[field]
	if !ok {
		return 0
	}
	return fd.Lengths[doc]
}

// AvgFieldLength averages a field's token count over all documents.
func (ix *Index) AvgFieldLength(field string) float64 {
	fd, ok := ix.fields[field]
	if !ok || len(ix.docIDs) == 0 {
		return 0
	}
	return float64(fd.TotalLength) / float64(len(ix.docIDs))
}

// Terms lists a field's dictionary in sorted order.
func (ix *Index) Terms(field string) []string {
	fd, ok := ix.fields[field]
	if !ok {
		return nil
	}
	terms := make([]string, 0, len(fd.Postings))
	for term := range fd.Postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// Stored returns the stored values of a document.
func (ix *Index) Stored(doc int) StoredDoc {
	return ix.stored[doc]
}

// Stats summarises the index for diagnostics.
type Stats struct {
	Generation uint64             `json:"generation"`
	Documents  int                `json:"documents"`
	BuiltAt    time.Time          `json:"built_at"`
	Terms      map[string]int     `json:"terms"`
	AvgLength  map[string]float64 `json:"avg_length"`
}

func (ix *Index) Stats() Stats {
	st := Stats{
		Generation: ix.generation,
		Documents:  len(ix.docIDs),
		BuiltAt:    ix.builtAt,
		Terms:      make(map[string]int, len(ix.fields)),
		AvgLength:  make(map[string]float64, len(ix.fields)),
	}
	for name, fd := range ix.fields {
		st.Terms[name] = len(fd.Postings)
		st.AvgLength[name] = ix.AvgFieldLength(name)
	}
	return st
}
