// Package cache memoises search results in two tiers: an in-process LRU and
// an optional shared remote store. Keys carry the identity of the index
// snapshot, so entries computed against an older index are never served
// once a new one is swapped in.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/resilience"
)

const keyPrefix = "search:"

// Status values reported by GetOrCompute.
const (
	StatusLocal  = "l1"
	StatusRemote = "l2"
	StatusMiss   = "miss"
)

// Remote is the shared cache tier. Get returns pkgredis.ErrMiss for
// absent keys.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cached search. Version names the index snapshot and
// ranking parameters the result was computed with.
type Key struct {
	Version string
	Query   string
	Fields  []string
	TopK    int
	Weight  float64
}

func (k Key) String() string {
	raw := strings.Join([]string{
		k.Version,
		normalizeQuery(k.Query),
		strings.Join(k.Fields, ","),
		strconv.Itoa(k.TopK),
		strconv.FormatFloat(k.Weight, 'g', -1, 64),
	}, "|")
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

type Options struct {
	LocalSize int
	TTL       time.Duration
	Breaker   resilience.CircuitBreakerConfig
}

type QueryCache struct {
	local   *lru.Cache[string, *executor.SearchResult]
	remote  Remote
	breaker *resilience.CircuitBreaker
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a QueryCache. remote and m may be nil.
func New(opts Options, remote Remote, m *metrics.Metrics) (*QueryCache, error) {
	if opts.LocalSize <= 0 {
		opts.LocalSize = 1024
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	local, err := lru.New[string, *executor.SearchResult](opts.LocalSize)
	if err != nil {
		return nil, fmt.Errorf("creating local cache: %w", err)
	}
	breakerCfg := opts.Breaker
	breakerCfg.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, pkgredis.ErrMiss)
	}
	if m != nil {
		breakerCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &QueryCache{
		local:   local,
		remote:  remote,
		breaker: resilience.NewCircuitBreaker("query-cache-remote", breakerCfg),
		ttl:     opts.TTL,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}, nil
}

// Get looks the key up in the local tier, then the remote tier. Remote
// hits are promoted to the local tier.
func (c *QueryCache) Get(ctx context.Context, key Key) (*executor.SearchResult, string, bool) {
	k := key.String()
	if result, ok := c.local.Get(k); ok {
		c.recordHit(StatusLocal)
		return result, StatusLocal, true
	}
	if result, ok := c.getRemote(ctx, k); ok {
		c.local.Add(k, result)
		c.recordHit(StatusRemote)
		return result, StatusRemote, true
	}
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
	return nil, StatusMiss, false
}

// Set stores result in both tiers. Remote failures are logged and
// otherwise ignored.
func (c *QueryCache) Set(ctx context.Context, key Key, result *executor.SearchResult) {
	k := key.String()
	c.local.Add(k, result)
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.remote.Set(ctx, k, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns a cached result or runs computeFn once per key,
// sharing its result with concurrent callers of the same key. The returned
// status is StatusLocal, StatusRemote or StatusMiss.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key Key,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, string, error) {
	if result, status, ok := c.Get(ctx, key); ok {
		return result, status, nil
	}
	val, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if result, ok := c.local.Get(key.String()); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, StatusMiss, err
	}
	return val.(*executor.SearchResult), StatusMiss, nil
}

// Invalidate drops every local entry and every remote key under the
// search prefix.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	c.local.Purge()
	if c.remote == nil {
		return nil
	}
	deleted, err := c.remote.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) Len() int {
	return c.local.Len()
}

func (c *QueryCache) getRemote(ctx context.Context, k string) (*executor.SearchResult, bool) {
	if c.remote == nil {
		return nil, false
	}
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.remote.Get(ctx, k)
		return err
	})
	if errors.Is(err, pkgredis.ErrMiss) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", "key", k, "error", err)
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		return nil, false
	}
	return &result, true
}

func (c *QueryCache) recordHit(tier string) {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

// normalizeQuery collapses whitespace only; identifier fields are case
// sensitive.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
