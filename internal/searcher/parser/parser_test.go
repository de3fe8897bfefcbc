package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

func testSchema() *schema.Schema {
	return schema.MustNew(schema.Default(), schema.Options{})
}

func TestParseAllTermsRequired(t *testing.T) {
	q, err := Parse(testSchema(), "red car", []string{"title", "text"}, 0.9)
	require.NoError(t, err)

	assert.Equal(t, NodeAnd, q.Root.Kind)
	assert.Equal(t, "AND(OR(title:red text:red) OR(title:car text:car))", q.String())
	assert.Equal(t, 2, q.Required())
	assert.Equal(t, []TermRef{
		{"title", "red"}, {"text", "red"}, {"title", "car"}, {"text", "car"},
	}, q.Terms())
}

func TestParseCoordinationThreshold(t *testing.T) {
	tests := []struct {
		name     string
		weight   float64
		kind     NodeKind
		required int
	}{
		{"any", 0, NodeOr, 1},
		{"half", 0.5, NodeOr, 2},
		{"most", 0.9, NodeAnd, 3},
		{"all", 1, NodeAnd, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(testSchema(), "red fast car", []string{"title"}, tt.weight)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, q.Root.Kind)
			assert.Equal(t, tt.required, q.Required())
			assert.Len(t, q.Clauses(), 3)
		})
	}
}

func TestParseStopWordsOnlyIsEmpty(t *testing.T) {
	q, err := Parse(testSchema(), "the and a", []string{"title", "text", "keywords"}, 0.9)
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Terms())
	assert.Equal(t, 0, q.Required())
}

func TestParseBlankQuery(t *testing.T) {
	q, err := Parse(testSchema(), "   ", []string{"title"}, 1)
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
}

func TestParseKeywordStopWordsDoNotFormClauses(t *testing.T) {
	q, err := Parse(testSchema(), "the red car", []string{"title", "keywords"}, 1)
	require.NoError(t, err)
	assert.Len(t, q.Clauses(), 2)
}

func TestParseStemsLikeIndexTime(t *testing.T) {
	q, err := Parse(testSchema(), "Running Cars", []string{"title"}, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"title": {"run", "car"}}, q.TermsByField())
}

func TestParseCoarseTokenJoinsEveryClauseItSpans(t *testing.T) {
	q, err := Parse(testSchema(), "red-car", []string{"title", "keywords"}, 1)
	require.NoError(t, err)
	require.Len(t, q.Clauses(), 2)
	assert.Equal(t, "AND(OR(title:red keywords:red-car) OR(title:car keywords:red-car))", q.String())
	assert.Equal(t, 2, q.Required())
}

func TestParseCoarseFieldsNeverMergeTextTerms(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   string
	}{
		{"title only", []string{"title"}, "AND(title:red title:car)"},
		{"with keywords", []string{"title", "keywords"}, "AND(OR(title:red keywords:red-car) OR(title:car keywords:red-car))"},
		{"with id", []string{"id", "title"}, "AND(OR(id:red-car title:red) OR(id:red-car title:car))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(testSchema(), "red-car", tt.fields, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
			assert.Equal(t, 2, q.Required())
		})
	}
}

func TestParseCoarseTokenWithoutTextOverlapFormsOwnClause(t *testing.T) {
	q, err := Parse(testSchema(), "red ++", []string{"title", "keywords"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "AND(OR(title:red keywords:red) keywords:++)", q.String())
}

func TestParseKeywordOnlyKeepsWordsApart(t *testing.T) {
	q, err := Parse(testSchema(), "machine learning", []string{"keywords"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "AND(keywords:machine keywords:learning)", q.String())
}

func TestParseDeduplicatesClauses(t *testing.T) {
	q, err := Parse(testSchema(), "red RED red", []string{"title"}, 1)
	require.NoError(t, err)
	assert.Len(t, q.Clauses(), 1)
	assert.Equal(t, "AND(title:red)", q.String())
}

func TestParseIDFieldIsCaseSensitive(t *testing.T) {
	q, err := Parse(testSchema(), "Doc-7", []string{"id"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []TermRef{{"id", "Doc-7"}}, q.Terms())
}

func TestParseUnknownField(t *testing.T) {
	_, err := Parse(testSchema(), "red", []string{"title", "author"}, 0.9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnknownField))
	assert.Contains(t, err.Error(), "author")
}

func TestParseNonIndexedField(t *testing.T) {
	s := schema.MustNew([]schema.FieldSpec{
		{Name: "id", Kind: schema.KindID, Stored: true, Indexed: true},
		{Name: "url", Kind: schema.KindText, Stored: true},
	}, schema.Options{})
	_, err := Parse(s, "example", []string{"url"}, 1)
	assert.True(t, errors.Is(err, apperrors.ErrUnknownField))
}

func TestParseRejectsBadWeight(t *testing.T) {
	_, err := Parse(testSchema(), "red", []string{"title"}, 1.5)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
