package harness

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/resilience"
)

// Sink receives the rows of a finished run.
type Sink interface {
	Name() string
	Write(ctx context.Context, rows []Row) error
	Close() error
}

var columnValues = map[string]func(Row) string{
	"queryid":  func(r Row) string { return r.QueryID },
	"entityid": func(r Row) string { return r.EntityID },
	"rank":     func(r Row) string { return strconv.Itoa(r.Rank) },
	"score":    func(r Row) string { return strconv.FormatFloat(r.Score, 'f', 6, 64) },
	"runid":    func(r Row) string { return r.RunID },
}

// CSVSink writes rows to a CSV file with a header. The file is replaced
// atomically, so a failed write leaves any earlier output intact.
type CSVSink struct {
	path    string
	columns []string
	values  []func(Row) string
}

// NewCSVSink accepts QueryId, EntityId, Rank, Score and RunId columns in
// any case and order.
func NewCSVSink(path string, columns []string) (*CSVSink, error) {
	if len(columns) == 0 {
		columns = []string{"QueryId", "EntityId"}
	}
	s := &CSVSink{path: path, columns: columns}
	for _, c := range columns {
		fn, ok := columnValues[strings.ToLower(strings.ReplaceAll(c, "_", ""))]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown output column %q", c)
		}
		s.values = append(s.values, fn)
	}
	return s, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(_ context.Context, rows []Row) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(s.columns); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing header: %w", err)
	}
	record := make([]string, len(s.values))
	for _, row := range rows {
		for i, fn := range s.values {
			record[i] = fn(row)
		}
		if err := w.Write(record); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flushing output: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing output: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming output: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error { return nil }

const createRunResults = `CREATE TABLE IF NOT EXISTS run_results (
    run_id     UUID NOT NULL,
    query_id   TEXT NOT NULL,
    entity_id  TEXT NOT NULL,
    rank       INTEGER NOT NULL,
    score      DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run_id, query_id, rank)
)`

// pgBatchRows keeps each INSERT well under the 65535 parameter limit.
const pgBatchRows = 1000

// PostgresSink stores rows in the run_results table, one transaction per
// run. Transient failures are retried with backoff.
type PostgresSink struct {
	client *postgres.Client
	retry  resilience.RetryConfig
}

// NewPostgresSink creates the run_results table if needed.
func NewPostgresSink(ctx context.Context, client *postgres.Client) (*PostgresSink, error) {
	if _, err := client.DB.ExecContext(ctx, createRunResults); err != nil {
		return nil, fmt.Errorf("creating run_results table: %w", err)
	}
	return &PostgresSink{
		client: client,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialDelay:   200 * time.Millisecond,
			JitterFraction: 0.1,
		},
	}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	return resilience.Retry(ctx, "postgres-sink", s.retry, func(ctx context.Context) error {
		return s.client.InTx(ctx, func(tx *sql.Tx) error {
			for _, batch := range chunk(rows, pgBatchRows) {
				query, args := insertRows(batch)
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return fmt.Errorf("inserting run results: %w", err)
				}
			}
			return nil
		})
	})
}

func (s *PostgresSink) Close() error {
	return s.client.Close()
}

func insertRows(rows []Row) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO run_results (run_id, query_id, entity_id, rank, score) VALUES ")
	args := make([]any, 0, len(rows)*5)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, r.RunID, r.QueryID, r.EntityID, r.Rank, r.Score)
	}
	b.WriteString(" ON CONFLICT (run_id, query_id, rank) DO NOTHING")
	return b.String(), args
}

func chunk(rows []Row, size int) [][]Row {
	var out [][]Row
	for len(rows) > size {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

// BatchPublisher is the part of kafka.Producer the Kafka sink needs.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
	Close() error
}

const kafkaBatchRows = 500

// KafkaSink publishes one message per row, keyed by query id so all hits
// of a query land on one partition in rank order.
type KafkaSink struct {
	producer BatchPublisher
}

func NewKafkaSink(producer BatchPublisher) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, rows []Row) error {
	for _, batch := range chunk(rows, kafkaBatchRows) {
		events := make([]kafka.Event, len(batch))
		for i, r := range batch {
			events[i] = kafka.Event{Key: r.QueryID, Value: r}
		}
		if err := s.producer.PublishBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
