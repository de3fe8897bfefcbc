package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/highlight"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "harness",
	Short: "Relevance harness - index a corpus, evaluate queries, serve search",
	Long: `harness builds a BM25 index over a JSON-lines corpus, runs a CSV of
queries against it and writes the ranked document ids to the configured
sinks. The serve command exposes the same index over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")
	rootCmd.AddCommand(indexCmd, runCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config and installs the default logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func newEngine(cfg *config.Config, m *metrics.Metrics) (*indexer.Engine, error) {
	s, err := schema.New(cfg.Schema, cfg.Indexer.SchemaOptions())
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	engine, err := indexer.NewEngine(cfg.Indexer, s, m)
	if err != nil {
		return nil, err
	}
	slog.Info("index engine ready",
		"data_dir", cfg.Indexer.DataDir,
		"docs", engine.Current().DocCount(),
	)
	return engine, nil
}

func newService(cfg *config.Config, source searcher.IndexSource, qc *cache.QueryCache, tracker searcher.Tracker, m *metrics.Metrics) *searcher.Service {
	return searcher.New(source, searcher.Options{
		Fields:       cfg.Search.Fields,
		Weight:       cfg.Search.CombinationWeight,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		QueryTimeout: cfg.Search.QueryTimeout,
		Params:       ranker.Params{K1: cfg.Search.K1, B: cfg.Search.B},
		Highlight: highlight.Options{
			FragmentChars: cfg.Highlight.FragmentChars,
			PreTag:        cfg.Highlight.PreTag,
			PostTag:       cfg.Highlight.PostTag,
			Ellipsis:      cfg.Highlight.Ellipsis,
		},
	}, qc, tracker, m)
}
