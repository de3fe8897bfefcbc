// Package schema declares the fields of an index: their kind, whether they
// are stored verbatim, indexed for search, and analyzed.
package schema

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

// Kind is the type of a field.
type Kind string

const (
	KindText    Kind = "text"
	KindKeyword Kind = "keyword"
	KindID      Kind = "id"
)

// FieldSpec describes one field.
type FieldSpec struct {
	Name     string  `json:"name" yaml:"name"`
	Kind     Kind    `json:"kind" yaml:"kind"`
	Stored   bool    `json:"stored" yaml:"stored"`
	Indexed  bool    `json:"indexed" yaml:"indexed"`
	Analyzed bool    `json:"analyzed" yaml:"analyzed"`
	Boost    float64 `json:"boost,omitempty" yaml:"boost,omitempty"`
}

// Options tunes the analyzers handed out by a Schema.
type Options struct {
	StopWords []string `json:"stop_words" yaml:"stopWords"`
	MinLength int      `json:"min_length,omitempty" yaml:"minLength"`
	Language  string   `json:"language,omitempty" yaml:"language"`
}

// Schema is an ordered, immutable set of field specs.
type Schema struct {
	fields    []FieldSpec
	byName    map[string]int
	analyzers []tokenizer.Analyzer
	idField   string
	opts      Options
}

// New validates specs and builds a Schema. Field names must be unique and
// non-empty. At most one ID field is allowed; it identifies documents.
func New(specs []FieldSpec, opts Options) (*Schema, error) {
	s := &Schema{
		fields:    make([]FieldSpec, 0, len(specs)),
		byName:    make(map[string]int, len(specs)),
		analyzers: make([]tokenizer.Analyzer, 0, len(specs)),
		opts:      opts,
	}
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "schema field with empty name")
		}
		if _, dup := s.byName[spec.Name]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "duplicate schema field %q", spec.Name)
		}
		switch spec.Kind {
		case KindText, KindKeyword:
		case KindID:
			if s.idField != "" {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
					"schema declares two id fields: %q and %q", s.idField, spec.Name)
			}
			s.idField = spec.Name
		default:
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "field %q has unknown kind %q", spec.Name, spec.Kind)
		}
		if spec.Boost <= 0 {
			spec.Boost = 1
		}
		s.byName[spec.Name] = len(s.fields)
		s.fields = append(s.fields, spec)
		s.analyzers = append(s.analyzers, newAnalyzer(spec, opts))
	}
	return s, nil
}

// MustNew is New for statically known schemas; it panics on error.
func MustNew(specs []FieldSpec, opts Options) *Schema {
	s, err := New(specs, opts)
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return s
}

func newAnalyzer(spec FieldSpec, opts Options) tokenizer.Analyzer {
	switch spec.Kind {
	case KindKeyword:
		return tokenizer.KeywordAnalyzer{}
	case KindID:
		return tokenizer.ExactAnalyzer{}
	default:
		return tokenizer.NewText(tokenizer.TextOptions{
			Stem:      spec.Analyzed,
			StopWords: opts.StopWords,
			MinLength: opts.MinLength,
			Language:  opts.Language,
		})
	}
}

// Fields returns a copy of the field specs in declaration order.
func (s *Schema) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a spec by name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// Analyzer returns the analyzer for a field, or nil if it is not declared.
func (s *Schema) Analyzer(name string) tokenizer.Analyzer {
	i, ok := s.byName[name]
	if !ok {
		return nil
	}
	return s.analyzers[i]
}

// IDField is the name of the ID field, or "" if none was declared.
func (s *Schema) IDField() string {
	return s.idField
}

// IndexedFields lists the names of indexed fields in declaration order.
func (s *Schema) IndexedFields() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		if f.Indexed {
			names = append(names, f.Name)
		}
	}
	return names
}

// Options returns the analyzer options the schema was built with.
func (s *Schema) Options() Options {
	return s.opts
}

// Default mirrors the classic id/title/text/keywords document layout.
func Default() []FieldSpec {
	return []FieldSpec{
		{Name: "id", Kind: KindID, Stored: true, Indexed: true},
		{Name: "title", Kind: KindText, Stored: true, Indexed: true, Analyzed: true},
		{Name: "text", Kind: KindText, Stored: true, Indexed: true, Analyzed: true},
		{Name: "keywords", Kind: KindKeyword, Stored: true, Indexed: true},
	}
}
