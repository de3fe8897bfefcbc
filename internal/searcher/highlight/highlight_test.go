package highlight

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/tokenizer"
)

func buildWith(t *testing.T, specs []schema.FieldSpec, docs ...index.Document) *index.Index {
	t.Helper()
	s := schema.MustNew(specs, schema.Options{})
	ix, _, err := index.Build(context.Background(), s, index.Docs(docs...), index.BuildOptions{})
	require.NoError(t, err)
	return ix
}

func TestHighlightMarksMatch(t *testing.T) {
	ix := buildWith(t, schema.Default(),
		index.Document{ID: "1", Fields: map[string]any{"title": "red car", "text": "a fast red car"}},
	)
	got := New(DefaultOptions()).Highlight(ix, 0, map[string][]string{"text": {"red"}}, []string{"text"})
	assert.Equal(t, map[string]string{"text": "a fast <b>red</b> car"}, got)
}

func TestHighlightUnanalyzedFieldIsVerbatim(t *testing.T) {
	specs := []schema.FieldSpec{
		{Name: "id", Kind: schema.KindID, Stored: true, Indexed: true},
		{Name: "text", Kind: schema.KindText, Stored: true, Indexed: true},
	}
	ix := buildWith(t, specs,
		index.Document{ID: "1", Fields: map[string]any{"text": "a fast red car"}},
	)
	got := New(DefaultOptions()).Highlight(ix, 0, map[string][]string{"text": {"red"}}, []string{"text"})
	assert.Equal(t, "a fast red car", got["text"])
}

func TestHighlightFallsBackToStoredValue(t *testing.T) {
	ix := buildWith(t, schema.Default(),
		index.Document{ID: "1", Fields: map[string]any{
			"title":    "blue bike",
			"text":     "a slow blue bike",
			"keywords": []string{"cycling", "outdoor"},
		}},
	)
	h := New(DefaultOptions())
	got := h.Highlight(ix, 0, map[string][]string{"text": {"red"}, "keywords": {"cycling"}},
		[]string{"title", "text", "keywords", "missing"})

	assert.Equal(t, map[string]string{
		"title":    "blue bike",
		"text":     "a slow blue bike",
		"keywords": "cycling, outdoor",
	}, got)
	assert.Empty(t, h.Highlight(ix, 7, nil, []string{"title"}))
}

func TestFragmentMatchesStemmedForms(t *testing.T) {
	a := tokenizer.NewText(tokenizer.TextOptions{Stem: true})
	got, ok := New(DefaultOptions()).Fragment(a, "Cars racing past parked cars", []string{"car"})
	require.True(t, ok)
	assert.Equal(t, "<b>Cars</b> racing past parked <b>cars</b>", got)
}

func TestFragmentPrefersDensestWindow(t *testing.T) {
	a := tokenizer.NewText(tokenizer.TextOptions{Stem: true})
	text := "red " + strings.Repeat("xx ", 11) + "red car red end"
	got, ok := New(Options{FragmentChars: 20, PreTag: "<b>", PostTag: "</b>", Ellipsis: "..."}).
		Fragment(a, text, []string{"red", "car"})
	require.True(t, ok)
	assert.Equal(t, "...xx <b>red</b> <b>car</b> <b>red</b> end", got)
}

func TestFragmentTruncatesOnWordBoundaries(t *testing.T) {
	a := tokenizer.NewText(tokenizer.TextOptions{Stem: true})
	text := strings.Repeat("alpha ", 20) + "target " + strings.Repeat("omega ", 20)
	got, ok := New(Options{FragmentChars: 30, PreTag: "[", PostTag: "]", Ellipsis: "..."}).
		Fragment(a, text, []string{"target"})
	require.True(t, ok)
	assert.Equal(t, "...alpha alpha [target] omega omega...", got)
}

func TestFragmentNoMatch(t *testing.T) {
	a := tokenizer.NewText(tokenizer.TextOptions{Stem: true})
	h := New(DefaultOptions())
	_, ok := h.Fragment(a, "nothing here", []string{"red"})
	assert.False(t, ok)
	_, ok = h.Fragment(a, "", []string{"red"})
	assert.False(t, ok)
	_, ok = h.Fragment(a, "red", nil)
	assert.False(t, ok)
}
