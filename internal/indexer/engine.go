// Package indexer owns the active Index. Builds and snapshot loads produce a
// fresh immutable Index that is published with an atomic pointer swap, so
// readers never observe a partially built index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
)

type Engine struct {
	current atomic.Pointer[index.Index]
	schema  *schema.Schema
	writer  *segment.Writer
	cfg     config.IndexerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	// buildMu serialises writers; readers never take it.
	buildMu sync.Mutex
}

// NewEngine creates an Engine serving an empty index for s. When
// cfg.LoadOnStart is set and a snapshot exists it is loaded instead.
// m may be nil.
func NewEngine(cfg config.IndexerConfig, s *schema.Schema, m *metrics.Metrics) (*Engine, error) {
	e := &Engine{
		schema:  s,
		writer:  segment.NewWriter(cfg.DataDir),
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
	empty, _, err := index.Build(context.Background(), s, index.Docs(), index.BuildOptions{Logger: e.logger})
	if err != nil {
		return nil, fmt.Errorf("creating empty index: %w", err)
	}
	e.current.Store(empty)

	if cfg.LoadOnStart {
		path := e.SnapshotPath()
		if _, err := os.Stat(path); err == nil {
			if err := e.Load(path); err != nil {
				return nil, fmt.Errorf("loading snapshot on start: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking snapshot %s: %w", path, err)
		} else {
			e.logger.Info("no snapshot found, starting empty", "path", path)
		}
	}
	return e, nil
}

// Current returns the active Index. The returned value stays valid and
// unchanged even if a newer Index is swapped in afterwards.
func (e *Engine) Current() *index.Index {
	return e.current.Load()
}

// SnapshotPath is where Save writes and Watch looks.
func (e *Engine) SnapshotPath() string {
	return filepath.Join(e.cfg.DataDir, e.cfg.SnapshotName)
}

// PersistsOnBuild reports whether BuildIndex already writes the snapshot.
func (e *Engine) PersistsOnBuild() bool {
	return e.cfg.PersistOnBuild
}

// BuildIndex builds a new Index from docs and swaps it in. On failure the
// active Index is left untouched.
func (e *Engine) BuildIndex(ctx context.Context, docs iter.Seq2[index.Document, error]) (*index.Index, index.BuildStats, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	ix, stats, err := index.Build(ctx, e.schema, docs, index.BuildOptions{
		Lenient: e.cfg.Lenient,
		Logger:  e.logger,
	})
	if err != nil {
		e.observeBuild("error", stats)
		return nil, stats, fmt.Errorf("building index: %w", err)
	}
	e.observeBuild("success", stats)
	e.swap(ix)

	if e.cfg.PersistOnBuild {
		if _, err := e.save(ix); err != nil {
			return ix, stats, err
		}
	}
	return ix, stats, nil
}

// Save writes the active Index to the snapshot path.
func (e *Engine) Save() (string, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	return e.save(e.Current())
}

func (e *Engine) save(ix *index.Index) (string, error) {
	path, err := e.writer.Write(e.cfg.SnapshotName, ix)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SnapshotSavesTotal.WithLabelValues("error").Inc()
		}
		return "", fmt.Errorf("saving snapshot: %w", err)
	}
	if e.metrics != nil {
		e.metrics.SnapshotSavesTotal.WithLabelValues("success").Inc()
	}
	e.logger.Info("snapshot saved",
		"path", path,
		"generation", ix.Generation(),
		"docs", ix.DocCount(),
	)
	return path, nil
}

// Load reads a snapshot and swaps it in. A failed load leaves the active
// Index in place. The snapshot's own schema becomes authoritative.
func (e *Engine) Load(path string) error {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	ix, err := segment.Load(path)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SnapshotLoadsTotal.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("loading snapshot %s: %w", path, err)
	}
	if e.metrics != nil {
		e.metrics.SnapshotLoadsTotal.WithLabelValues("success").Inc()
	}
	e.schema = ix.Schema()
	e.swap(ix)
	e.logger.Info("snapshot loaded",
		"path", path,
		"generation", ix.Generation(),
		"docs", ix.DocCount(),
	)
	return nil
}

func (e *Engine) swap(ix *index.Index) {
	old := e.current.Swap(ix)
	if e.metrics != nil {
		e.metrics.IndexDocCount.Set(float64(ix.DocCount()))
	}
	var oldGen uint64
	if old != nil {
		oldGen = old.Generation()
	}
	e.logger.Info("index swapped",
		"old_generation", oldGen,
		"generation", ix.Generation(),
		"docs", ix.DocCount(),
	)
}

func (e *Engine) observeBuild(status string, stats index.BuildStats) {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexBuildsTotal.WithLabelValues(status).Inc()
	e.metrics.DocsIndexedTotal.Add(float64(stats.Indexed))
	e.metrics.DocsDroppedTotal.Add(float64(stats.Dropped))
}

// Watch reloads the snapshot whenever the file is replaced, until ctx is
// cancelled. Bursts of events within the debounce window cause one reload.
// Load failures are logged and the current Index keeps serving.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := os.MkdirAll(e.cfg.DataDir, 0755); err != nil {
		watcher.Close()
		return fmt.Errorf("creating index data directory: %w", err)
	}
	if err := watcher.Add(e.cfg.DataDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", e.cfg.DataDir, err)
	}
	debounce := e.cfg.WatchDebounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	target := filepath.Clean(e.SnapshotPath())
	e.logger.Info("watching snapshot", "path", target, "debounce", debounce)

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				e.logger.Info("snapshot watch stopping")
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := e.Load(target); err != nil {
					if errors.Is(err, os.ErrNotExist) {
						continue
					}
					e.logger.Error("snapshot reload failed, keeping current index", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Error("snapshot watcher error", "error", err)
			}
		}
	}()
	return nil
}
