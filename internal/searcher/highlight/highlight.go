// Package highlight extracts short snippets of stored field text around the
// query terms a document matched.
package highlight

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/tokenizer"
)

// Options controls snippet size and markup. FragmentChars is measured in
// bytes of the stored text.
type Options struct {
	FragmentChars int
	PreTag        string
	PostTag       string
	Ellipsis      string
}

func DefaultOptions() Options {
	return Options{
		FragmentChars: 160,
		PreTag:        "<b>",
		PostTag:       "</b>",
		Ellipsis:      "...",
	}
}

type Highlighter struct {
	opts Options
}

func New(opts Options) *Highlighter {
	def := DefaultOptions()
	if opts.FragmentChars <= 0 {
		opts.FragmentChars = def.FragmentChars
	}
	if opts.PreTag == "" && opts.PostTag == "" {
		opts.PreTag, opts.PostTag = def.PreTag, def.PostTag
	}
	return &Highlighter{opts: opts}
}

// Highlight returns a snippet for every requested field that has a stored
// value in doc. terms maps field names to the query terms to mark. Fields
// that are not analyzed, or whose text holds none of the terms, come back
// as the plain stored value. It never fails.
func (h *Highlighter) Highlight(ix *index.Index, doc int, terms map[string][]string, fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	if doc < 0 || doc >= ix.DocCount() {
		return out
	}
	stored := ix.Stored(doc)
	s := ix.Schema()
	for _, name := range fields {
		v, ok := stored.Fields[name]
		if !ok {
			continue
		}
		text := v.String()
		spec, _ := s.Field(name)
		if !spec.Analyzed {
			out[name] = text
			continue
		}
		if snippet, ok := h.Fragment(s.Analyzer(name), text, terms[name]); ok {
			out[name] = snippet
		} else {
			out[name] = text
		}
	}
	return out
}

// Fragment marks the densest window of terms in text. It reports false when
// no term occurs in text.
func (h *Highlighter) Fragment(a tokenizer.Analyzer, text string, terms []string) (string, bool) {
	if a == nil || len(terms) == 0 || text == "" {
		return "", false
	}
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}
	var matches []tokenizer.Token
	for _, tok := range a.Analyze(text) {
		if _, ok := want[tok.Term]; ok {
			matches = append(matches, tok)
		}
	}
	if len(matches) == 0 {
		return "", false
	}

	first, last := bestWindow(matches, h.opts.FragmentChars)
	start, end := h.expand(text, matches[first].Start, matches[last].End, matches[first].Start, matches[last].End)

	var b strings.Builder
	if start > 0 {
		b.WriteString(h.opts.Ellipsis)
	}
	cursor := start
	for _, m := range matches[first : last+1] {
		b.WriteString(text[cursor:m.Start])
		b.WriteString(h.opts.PreTag)
		b.WriteString(text[m.Start:m.End])
		b.WriteString(h.opts.PostTag)
		cursor = m.End
	}
	b.WriteString(text[cursor:end])
	if end < len(text) {
		b.WriteString(h.opts.Ellipsis)
	}
	return b.String(), true
}

// bestWindow picks the run of matches spanning at most size bytes with the
// most matches; the earliest run wins ties. A single match longer than size
// is still returned on its own.
func bestWindow(matches []tokenizer.Token, size int) (int, int) {
	bestFirst, bestLast, bestCount := 0, 0, 0
	j := 0
	for i := range matches {
		if j < i {
			j = i
		}
		for j+1 < len(matches) && matches[j+1].End-matches[i].Start <= size {
			j++
		}
		if count := j - i + 1; count > bestCount {
			bestFirst, bestLast, bestCount = i, j, count
		}
	}
	return bestFirst, bestLast
}

// expand grows [start, end) with surrounding context up to the fragment
// size, then pulls both edges back to whitespace so no word is cut, never
// shrinking past the matched span [minStart, minEnd).
func (h *Highlighter) expand(text string, start, end, minStart, minEnd int) (int, int) {
	room := h.opts.FragmentChars - (end - start)
	if room > 0 {
		left := room / 2
		start -= left
		if start < 0 {
			left += start
			start = 0
		}
		end += room - left
		if end > len(text) {
			spill := end - len(text)
			end = len(text)
			start -= spill
			if start < 0 {
				start = 0
			}
		}
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start++
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}

	if start > 0 && !isSpaceBefore(text, start) {
		if i := strings.IndexFunc(text[start:minStart], unicode.IsSpace); i >= 0 {
			start += i
		} else {
			start = minStart
		}
	}
	if end < len(text) && !isSpaceAt(text, end) {
		if i := strings.LastIndexFunc(text[minEnd:end], unicode.IsSpace); i >= 0 {
			end = minEnd + i
		} else {
			end = minEnd
		}
	}
	for start < minStart {
		r, size := utf8.DecodeRuneInString(text[start:])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > minEnd {
		r, size := utf8.DecodeLastRuneInString(text[:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}

func isSpaceBefore(text string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r)
}

func isSpaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r)
}
