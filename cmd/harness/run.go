package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/harness"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/postgres"
)

var (
	runRebuild bool
	runQueries string
	runOutput  string
	runTopK    int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate every query in the queries CSV and write the ranked hits",
	Long: `Search each row of the queries CSV and write one (QueryId, EntityId)
row per hit to every sink in harness.sinks. The saved snapshot is used when
present; otherwise, or with --rebuild, the index is built from the corpus.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runRebuild, "rebuild", false, "build the index from the corpus even if a snapshot exists")
	runCmd.Flags().StringVar(&runQueries, "queries", "", "queries CSV (default harness.queriesPath)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output CSV (default harness.outputPath)")
	runCmd.Flags().IntVar(&runTopK, "top-k", -1, "hits per query (default harness.topK)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if runQueries != "" {
		cfg.Harness.QueriesPath = runQueries
	}
	if runOutput != "" {
		cfg.Harness.OutputPath = runOutput
	}
	if runTopK >= 0 {
		cfg.Harness.TopK = runTopK
	}
	if cfg.Harness.Concurrency == 0 {
		cfg.Harness.Concurrency = cfg.Search.MaxConcurrentQueries
	}
	if err := harness.Validate(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	cfg.Indexer.LoadOnStart = !runRebuild
	engine, err := newEngine(cfg, m)
	if err != nil {
		return err
	}
	if err := ensureIndex(ctx, engine, cfg); err != nil {
		return err
	}

	queries, err := harness.LoadQueries(cfg.Harness.QueriesPath, cfg.Harness.QueryIDColumn, cfg.Harness.QueryColumn)
	if err != nil {
		return err
	}
	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				slog.Warn("closing sink", "sink", s.Name(), "error", err)
			}
		}
	}()

	svc := newService(cfg, engine, nil, nil, m)
	runner := harness.NewRunner(svc, harness.Options{
		TopK:        cfg.Harness.TopK,
		Concurrency: cfg.Harness.Concurrency,
		FailFast:    cfg.Harness.FailFast,
	}, m, sinks...)
	summary, err := runner.Run(ctx, queries)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// ensureIndex builds from the corpus when the engine holds no documents.
func ensureIndex(ctx context.Context, engine *indexer.Engine, cfg *config.Config) error {
	if engine.Current().DocCount() > 0 {
		return nil
	}
	slog.Info("building index from corpus", "corpus", cfg.Harness.CorpusPath)
	if _, _, err := engine.BuildIndex(ctx, harness.LoadCorpus(cfg.Harness.CorpusPath, cfg.Harness.IDColumn)); err != nil {
		return err
	}
	return nil
}

func openSinks(ctx context.Context, cfg *config.Config) ([]harness.Sink, error) {
	var sinks []harness.Sink
	fail := func(err error) ([]harness.Sink, error) {
		var errs []error
		for _, s := range sinks {
			errs = append(errs, s.Close())
		}
		return nil, errors.Join(append([]error{err}, errs...)...)
	}
	for _, name := range cfg.Harness.Sinks {
		switch name {
		case "csv":
			s, err := harness.NewCSVSink(cfg.Harness.OutputPath, cfg.Harness.OutputColumns)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		case "postgres":
			client, err := postgres.New(ctx, cfg.Postgres)
			if err != nil {
				return fail(err)
			}
			s, err := harness.NewPostgresSink(ctx, client)
			if err != nil {
				client.Close()
				return fail(err)
			}
			sinks = append(sinks, s)
		case "kafka":
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunResults)
			sinks = append(sinks, harness.NewKafkaSink(producer))
		default:
			return fail(fmt.Errorf("unknown sink %q", name))
		}
		slog.Info("sink opened", "sink", name)
	}
	return sinks, nil
}
