package harness

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

// Query is one input row.
type Query struct {
	ID   string
	Text string
	Line int
}

func LoadQueries(path, idColumn, textColumn string) ([]Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening queries: %w", err)
	}
	defer f.Close()
	return ReadQueries(f, idColumn, textColumn)
}

// ReadQueries reads a CSV with a header row naming idColumn and
// textColumn. Other columns are ignored.
func ReadQueries(r io.Reader, idColumn, textColumn string) ([]Query, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading query header: %w", err)
	}
	idIdx, textIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case idColumn:
			idIdx = i
		case textColumn:
			textIdx = i
		}
	}
	if idIdx < 0 || textIdx < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"query header %v must contain %q and %q", header, idColumn, textColumn)
	}

	var queries []Query
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading queries: %w", err)
		}
		line, _ := reader.FieldPos(0)
		queries = append(queries, Query{
			ID:   strings.TrimSpace(column(record, idIdx)),
			Text: column(record, textIdx),
			Line: line,
		})
	}
	return queries, nil
}

func column(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
