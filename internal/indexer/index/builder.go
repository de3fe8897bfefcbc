package index

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

// BuildOptions controls how Build treats documents that violate the schema.
type BuildOptions struct {
	// Lenient drops violating documents instead of aborting the build.
	Lenient bool
	Logger  *slog.Logger
}

// BuildStats describes a finished build.
type BuildStats struct {
	Indexed  int           `json:"indexed"`
	Dropped  int           `json:"dropped"`
	Size     int64         `json:"size_bytes"`
	Duration time.Duration `json:"duration"`
}

// Docs adapts a slice to the sequence Build consumes.
func Docs(docs ...Document) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for _, d := range docs {
			if !yield(d, nil) {
				return
			}
		}
	}
}

type preparedDoc struct {
	id     string
	fields map[string][]tokenizer.Token
	stored StoredDoc
}

// Build consumes docs in order and returns a new Index with internal ids
// 0..N-1 assigned in that order. Nothing is visible to readers until Build
// returns; on error no Index is returned. Errors yielded by docs are
// returned wrapped but otherwise unchanged.
func Build(ctx context.Context, s *schema.Schema, docs iter.Seq2[Document, error], opts BuildOptions) (*Index, BuildStats, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "index-builder")
	}

	indexed := s.IndexedFields()
	mem := make(map[string]*memoryField, len(indexed))
	for _, name := range indexed {
		mem[name] = newMemoryField()
	}
	var (
		stats  BuildStats
		docIDs []string
		stored []StoredDoc
		seen   = make(map[string]struct{})
		pos    int
	)
	for doc, err := range docs {
		if err != nil {
			return nil, stats, fmt.Errorf("reading document %d: %w", pos, err)
		}
		pos++
		if pos%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, fmt.Errorf("building index: %w", err)
			}
		}
		prepared, err := prepare(s, doc, seen)
		if err != nil {
			if opts.Lenient {
				stats.Dropped++
				logger.Warn("document dropped",
					"position", pos-1,
					"doc_id", doc.ID,
					"error", err,
				)
				continue
			}
			return nil, stats, fmt.Errorf("document at position %d: %w", pos-1, err)
		}

		docID := len(docIDs)
		seen[prepared.id] = struct{}{}
		docIDs = append(docIDs, prepared.id)
		stored = append(stored, prepared.stored)
		for _, name := range indexed {
			tokens := prepared.fields[name]
			mem[name].addDocument(docID, len(tokens), termPostings(docID, tokens))
		}
	}

	fields := make(map[string]*FieldData, len(mem))
	for name, m := range mem {
		fields[name] = m.finish(len(docIDs))
		stats.Size += m.size
	}
	ix := newIndex(s, Snapshot{
		DocIDs:  docIDs,
		Stored:  stored,
		Fields:  fields,
		BuiltAt: time.Now().UTC(),
	})
	stats.Indexed = len(docIDs)
	stats.Duration = time.Since(start)
	logger.Info("index built",
		"generation", ix.Generation(),
		"docs", stats.Indexed,
		"dropped", stats.Dropped,
		"fields", len(fields),
		"size", stats.Size,
		"duration", stats.Duration,
	)
	return ix, stats, nil
}

func prepare(s *schema.Schema, doc Document, seen map[string]struct{}) (preparedDoc, error) {
	id := strings.TrimSpace(doc.ID)
	idField := s.IDField()
	if id == "" && idField != "" {
		spec, _ := s.Field(idField)
		v, err := normalizeValue(spec, doc.Fields[idField])
		if err != nil {
			return preparedDoc{}, err
		}
		id = strings.TrimSpace(v.String())
	}
	if id == "" {
		return preparedDoc{}, apperrors.SchemaViolation("document has no id")
	}
	if _, dup := seen[id]; dup {
		return preparedDoc{}, apperrors.SchemaViolation("duplicate document id %q", id)
	}

	out := preparedDoc{
		id:     id,
		fields: make(map[string][]tokenizer.Token),
		stored: StoredDoc{Raw: doc.Raw},
	}
	for _, spec := range s.Fields() {
		raw, present := doc.Fields[spec.Name]
		if !present && spec.Name == idField {
			raw = id
		}
		v, err := normalizeValue(spec, raw)
		if err != nil {
			return preparedDoc{}, fmt.Errorf("document %q: %w", id, err)
		}
		if v.IsZero() {
			continue
		}
		if spec.Indexed {
			out.fields[spec.Name] = analyzeValue(s.Analyzer(spec.Name), v)
		}
		if spec.Stored {
			if out.stored.Fields == nil {
				out.stored.Fields = make(map[string]Value)
			}
			out.stored.Fields[spec.Name] = v
		}
	}
	return out, nil
}

// analyzeValue tokenizes every item of a value; positions run on across
// list items so a field keeps one position space.
func analyzeValue(a tokenizer.Analyzer, v Value) []tokenizer.Token {
	var tokens []tokenizer.Token
	for _, item := range v.Items {
		base := len(tokens)
		for _, tok := range a.Analyze(item) {
			tok.Position += base
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
