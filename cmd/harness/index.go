package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/harness"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
)

var indexCorpus string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the index from the corpus and save a snapshot",
	Long: `Build the index from a JSON-lines corpus and write it to the snapshot
path (indexer.dataDir/indexer.snapshotName). A running "serve --watch"
picks the new snapshot up without a restart.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexCorpus, "corpus", "", "corpus file (default harness.corpusPath)")
}

func runIndex(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if indexCorpus != "" {
		cfg.Harness.CorpusPath = indexCorpus
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Indexer.LoadOnStart = false
	engine, err := newEngine(cfg, metrics.New(nil))
	if err != nil {
		return err
	}
	path, stats, err := buildSnapshot(ctx, engine, harness.LoadCorpus(cfg.Harness.CorpusPath, cfg.Harness.IDColumn))
	if err != nil {
		return err
	}
	slog.Info("index written",
		"corpus", cfg.Harness.CorpusPath,
		"snapshot", path,
		"docs", stats.Indexed,
		"dropped", stats.Dropped,
		"duration", stats.Duration,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents (%d dropped) into %s\n", stats.Indexed, stats.Dropped, path)
	return nil
}

// buildSnapshot builds the index from docs and leaves it on disk, writing
// the snapshot once whether or not the engine persists on build.
func buildSnapshot(ctx context.Context, engine *indexer.Engine, docs iter.Seq2[index.Document, error]) (string, index.BuildStats, error) {
	_, stats, err := engine.BuildIndex(ctx, docs)
	if err != nil {
		return "", stats, err
	}
	if engine.PersistsOnBuild() {
		return engine.SnapshotPath(), stats, nil
	}
	path, err := engine.Save()
	if err != nil {
		return "", stats, err
	}
	return path, stats, nil
}
