package index

import (
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/tokenizer"
)

// memoryField accumulates postings for one field while a build is running.
// It is owned by a single Builder and never shared.
type memoryField struct {
	postings    map[string]PostingList
	lengths     []int
	totalLength int64
	size        int64
}

func newMemoryField() *memoryField {
	return &memoryField{
		postings: make(map[string]PostingList),
	}
}

// termPostings groups one document's tokens by term.
func termPostings(docID int, tokens []tokenizer.Token) map[string]*Posting {
	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     docID,
				Frequency: 0,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}
	return termData
}

// addDocument appends the document's postings. Documents arrive in
// ascending docID order, so each list stays sorted without re-sorting.
func (m *memoryField) addDocument(docID int, length int, termData map[string]*Posting) {
	for len(m.lengths) < docID {
		m.lengths = append(m.lengths, 0)
	}
	m.lengths = append(m.lengths, length)
	m.totalLength += int64(length)
	for term, posting := range termData {
		m.postings[term] = append(m.postings[term], *posting)
		m.size += int64(len(term) + len(posting.Positions)*8 + 32)
	}
}

// finish pads lengths to n documents and hands the data over.
func (m *memoryField) finish(n int) *FieldData {
	for len(m.lengths) < n {
		m.lengths = append(m.lengths, 0)
	}
	return &FieldData{
		Postings:    m.postings,
		Lengths:     m.lengths,
		TotalLength: m.totalLength,
	}
}
