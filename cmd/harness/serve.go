package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/redis"
)

var (
	serveWatch bool
	serveBuild bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search API over HTTP",
	Long: `Serve search, highlight, stats and analytics endpoints over the saved
snapshot. With --watch a new snapshot written by "harness index" is swapped
in without dropping in-flight queries.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload the snapshot when it changes on disk")
	serveCmd.Flags().BoolVar(&serveBuild, "build", false, "build from the corpus when no snapshot is available")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	cfg.Indexer.LoadOnStart = true
	engine, err := newEngine(cfg, m)
	if err != nil {
		return err
	}
	if serveBuild {
		if err := ensureIndex(ctx, engine, cfg); err != nil {
			return err
		}
	}
	if serveWatch {
		if err := engine.Watch(ctx); err != nil {
			return err
		}
	}

	checker := health.NewChecker(0)
	checker.Register("index", indexCheck(engine))

	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, remote cache tier disabled", "error", err)
		} else {
			defer redisClient.Close()
			checker.Register("redis", health.PingCheck(redisClient.Ping, health.StatusDegraded))
		}
	}

	var queryCache *cache.QueryCache
	if cfg.Cache.Enabled {
		var remote cache.Remote
		if redisClient != nil {
			remote = redisClient
		}
		queryCache, err = cache.New(cache.Options{
			LocalSize: cfg.Cache.LocalSize,
			TTL:       cfg.Redis.CacheTTL,
		}, remote, m)
		if err != nil {
			return err
		}
		slog.Info("search cache enabled", "local_size", cfg.Cache.LocalSize, "remote", redisClient != nil)
	}

	aggregator := analytics.NewAggregator()
	var tracker searcher.Tracker = aggregator
	if len(cfg.Kafka.Brokers) > 0 {
		topic := cfg.Kafka.Topics.AnalyticsEvents
		collector := analytics.NewCollector(kafka.NewProducer(cfg.Kafka, topic), 10000)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector

		consumer := kafka.NewConsumer(cfg.Kafka, topic, analytics.HandleEvent(aggregator))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()
		slog.Info("analytics pipeline started", "topic", topic)
	}

	svc := newService(cfg, engine, queryCache, tracker, m)

	mux := http.NewServeMux()
	handler.New(svc).Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow))(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", server.Addr, err)
	}
	slog.Info("search service listening", "addr", server.Addr)
	if err := serveUntilDone(ctx, server, ln, cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	slog.Info("search service stopped")
	return nil
}

// serveUntilDone serves on ln until ctx is cancelled, then shuts the server
// down. It returns only once in-flight requests have drained.
func serveUntilDone(ctx context.Context, server *http.Server, ln net.Listener, timeout time.Duration) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-drained
	return nil
}

func indexCheck(engine *indexer.Engine) health.Check {
	return func(context.Context) health.ComponentHealth {
		ix := engine.Current()
		if ix.DocCount() == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "index is empty"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents, generation %d", ix.DocCount(), ix.Generation()),
		}
	}
}
