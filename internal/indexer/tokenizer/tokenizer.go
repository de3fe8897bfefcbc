// Package tokenizer provides text analysis for the search engine. Text
// fields are lower-cased, split on non-alphanumeric boundaries, stripped of
// stop-words and stemmed; keyword and identifier fields bypass all of that
// and are split by exact-match rules instead.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball"
)

// DefaultStopWords is the stop-word set used when a TextAnalyzer is built
// without an explicit list.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at",
	"be", "by", "for", "from", "has", "he",
	"in", "is", "it", "its", "of", "on",
	"or", "that", "the", "to", "was", "were",
	"will", "with", "this", "but", "they",
	"have", "had", "what", "when", "where",
	"who", "which", "their", "if", "each",
	"do", "not", "no", "so", "can",
}

// Token represents a single normalised term, its ordinal position among the
// kept tokens, and the byte span it was cut from in the original text.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// Analyzer turns raw field text into terms. Analyze is used at index time,
// AnalyzeQuery on query text; both must agree on normalisation.
type Analyzer interface {
	Analyze(text string) []Token
	AnalyzeQuery(text string) []Token
}

// TextOptions configures a TextAnalyzer.
type TextOptions struct {
	// Stem enables stop-word removal and snowball stemming.
	Stem      bool
	StopWords []string
	MinLength int
	Language  string
}

// TextAnalyzer handles free-text fields.
type TextAnalyzer struct {
	stem      bool
	stopWords map[string]struct{}
	minLength int
	language  string
}

// NewText builds a TextAnalyzer. A nil StopWords slice selects
// DefaultStopWords; an empty non-nil slice disables stop-word removal.
func NewText(opts TextOptions) *TextAnalyzer {
	words := opts.StopWords
	if words == nil {
		words = DefaultStopWords
	}
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[strings.ToLower(w)] = struct{}{}
	}
	if opts.MinLength <= 0 {
		opts.MinLength = 2
	}
	if opts.Language == "" {
		opts.Language = "english"
	}
	return &TextAnalyzer{
		stem:      opts.Stem,
		stopWords: stop,
		minLength: opts.MinLength,
		language:  opts.Language,
	}
}

func (a *TextAnalyzer) Analyze(text string) []Token {
	if text == "" {
		return nil
	}
	spans := splitSpans(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(spans))
	pos := 0
	for _, sp := range spans {
		word := strings.ToLower(text[sp[0]:sp[1]])
		if utf8.RuneCountInString(word) < a.minLength {
			continue
		}
		if a.stem {
			if _, isStop := a.stopWords[word]; isStop {
				continue
			}
			word = a.stemWord(word)
			if word == "" {
				continue
			}
		}
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
			Start:    sp[0],
			End:      sp[1],
		})
		pos++
	}
	return tokens
}

func (a *TextAnalyzer) AnalyzeQuery(text string) []Token {
	return a.Analyze(text)
}

// Stems reports whether the analyzer stems and removes stop-words.
func (a *TextAnalyzer) Stems() bool {
	return a.stem
}

// IsStopWord reports whether the lower-cased word is dropped by this
// analyzer. Always false when stemming is disabled.
func (a *TextAnalyzer) IsStopWord(word string) bool {
	if !a.stem {
		return false
	}
	_, ok := a.stopWords[strings.ToLower(word)]
	return ok
}

func (a *TextAnalyzer) stemWord(word string) string {
	stemmed, err := snowball.Stem(word, a.language, true)
	if err != nil {
		return word
	}
	return stemmed
}

// KeywordAnalyzer splits values on commas and whitespace. Terms are
// lower-cased but never stemmed. Queries go through the same splitter so a
// stored keyword is always reachable from its own text.
type KeywordAnalyzer struct{}

func (KeywordAnalyzer) Analyze(text string) []Token {
	return collect(text, splitSpans(text, isKeywordSep), strings.ToLower)
}

func (a KeywordAnalyzer) AnalyzeQuery(text string) []Token {
	return a.Analyze(text)
}

func isKeywordSep(r rune) bool {
	return r == ',' || unicode.IsSpace(r)
}

// ExactAnalyzer indexes the whole trimmed value as a single case-sensitive
// term. Used for identifier fields. A query matches only when its whole
// trimmed text equals a stored value.
type ExactAnalyzer struct{}

func (ExactAnalyzer) Analyze(text string) []Token {
	start, end := trimSpan(text, 0, len(text))
	if start >= end {
		return nil
	}
	return []Token{{Term: text[start:end], Position: 0, Start: start, End: end}}
}

func (a ExactAnalyzer) AnalyzeQuery(text string) []Token {
	return a.Analyze(text)
}

// Terms returns just the term strings of tokens, in order.
func Terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func collect(text string, spans [][2]int, norm func(string) string) []Token {
	tokens := make([]Token, 0, len(spans))
	for _, sp := range spans {
		start, end := trimSpan(text, sp[0], sp[1])
		if start >= end {
			continue
		}
		term := text[start:end]
		if norm != nil {
			term = norm(term)
		}
		tokens = append(tokens, Token{
			Term:     term,
			Position: len(tokens),
			Start:    start,
			End:      end,
		})
	}
	return tokens
}

// splitSpans works like strings.FieldsFunc but returns byte offsets so
// callers can map terms back onto the original text.
func splitSpans(text string, isSep func(rune) bool) [][2]int {
	var spans [][2]int
	start := -1
	for i, r := range text {
		if isSep(r) {
			if start >= 0 {
				spans = append(spans, [2]int{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(text)})
	}
	return spans
}

func trimSpan(text string, start, end int) (int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}
