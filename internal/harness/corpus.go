// Package harness drives evaluation runs: it loads a JSON-lines corpus,
// reads a CSV of queries, searches each one and writes the ranked document
// ids to one or more result sinks.
package harness

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

// docnoAlias is accepted in place of the configured id column.
const docnoAlias = "docno"

const maxLineBytes = 16 << 20

// LoadCorpus streams documents from a JSON-lines file. The file is opened
// when the sequence is first iterated and closed when iteration stops.
func LoadCorpus(path, idColumn string) iter.Seq2[index.Document, error] {
	return func(yield func(index.Document, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(index.Document{}, fmt.Errorf("opening corpus: %w", err))
			return
		}
		defer f.Close()
		for doc, err := range ReadCorpus(f, idColumn) {
			if !yield(doc, err) {
				return
			}
		}
	}
}

// ReadCorpus decodes one document per non-blank line. Each line is kept
// verbatim as the document's raw payload. A malformed line ends the
// sequence with an error naming its line number.
func ReadCorpus(r io.Reader, idColumn string) iter.Seq2[index.Document, error] {
	return func(yield func(index.Document, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		line := 0
		for scanner.Scan() {
			line++
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}
			doc, err := decodeDocument(raw, idColumn)
			if err != nil {
				yield(index.Document{}, fmt.Errorf("corpus line %d: %w", line, err))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(index.Document{}, fmt.Errorf("reading corpus: %w", err))
		}
	}
}

func decodeDocument(raw []byte, idColumn string) (index.Document, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return index.Document{}, apperrors.SchemaViolation("invalid JSON: %v", err)
	}
	id := idString(fields[idColumn])
	if id == "" {
		id = idString(fields[docnoAlias])
	}
	if id != "" {
		if _, ok := fields[idColumn]; !ok {
			fields[idColumn] = id
		}
	}
	return index.Document{
		ID:     id,
		Fields: fields,
		Raw:    json.RawMessage(bytes.Clone(raw)),
	}, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
