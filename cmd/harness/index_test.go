package main

import (
	"context"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
)

func TestBuildSnapshotWritesOnce(t *testing.T) {
	for _, persist := range []bool{false, true} {
		m := metrics.New(prometheus.NewRegistry())
		s := schema.MustNew(schema.Default(), schema.Options{})
		engine, err := indexer.NewEngine(config.IndexerConfig{
			DataDir:        t.TempDir(),
			SnapshotName:   "index.rhix",
			PersistOnBuild: persist,
		}, s, m)
		require.NoError(t, err)

		path, stats, err := buildSnapshot(context.Background(), engine, index.Docs(
			index.Document{ID: "1", Fields: map[string]any{"title": "red car"}},
		))
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Indexed)
		assert.Equal(t, engine.SnapshotPath(), path)
		_, err = os.Stat(path)
		assert.NoError(t, err, "persist=%v", persist)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotSavesTotal.WithLabelValues("success")), "persist=%v", persist)
	}
}
