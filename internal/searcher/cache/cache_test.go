package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/resilience"
)

type fakeRemote struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  error
	gets  int
	flush int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.fail != nil {
		return nil, f.fail
	}
	v, ok := f.data[key]
	if !ok {
		return nil, pkgredis.ErrMiss
	}
	return v, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.data[key] = value
	return nil
}

func (f *fakeRemote) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	f.flush++
	return n, nil
}

func result(ids ...string) *executor.SearchResult {
	res := &executor.SearchResult{Query: "q", TotalHits: len(ids), Results: []ranker.ScoredHit{}}
	for i, id := range ids {
		res.Results = append(res.Results, ranker.ScoredHit{DocID: id, Score: float64(len(ids) - i)})
	}
	return res
}

func key(version, query string) Key {
	return Key{Version: version, Query: query, Fields: []string{"title", "text"}, TopK: 10, Weight: 0.9}
}

func TestKeyNormalisation(t *testing.T) {
	assert.Equal(t, key("v1", "red  car ").String(), key("v1", " red car").String())
	assert.NotEqual(t, key("v1", "Doc-7").String(), key("v1", "doc-7").String())
	assert.NotEqual(t, key("v1", "red").String(), key("v2", "red").String())

	k := key("v1", "red")
	k.TopK = 5
	assert.NotEqual(t, key("v1", "red").String(), k.String())
	assert.True(t, strings.HasPrefix(k.String(), keyPrefix))
}

func TestLocalOnly(t *testing.T) {
	c, err := New(Options{LocalSize: 2}, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, status, ok := c.Get(ctx, key("v1", "red"))
	assert.False(t, ok)
	assert.Equal(t, StatusMiss, status)

	c.Set(ctx, key("v1", "red"), result("1"))
	got, status, ok := c.Get(ctx, key("v1", "red"))
	require.True(t, ok)
	assert.Equal(t, StatusLocal, status)
	assert.Equal(t, "1", got.Results[0].DocID)

	c.Set(ctx, key("v1", "a"), result("2"))
	c.Set(ctx, key("v1", "b"), result("3"))
	assert.Equal(t, 2, c.Len())
	_, _, ok = c.Get(ctx, key("v1", "red"))
	assert.False(t, ok, "least recently used entry is evicted")

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestRemoteTierPromotesToLocal(t *testing.T) {
	remote := newFakeRemote()
	ctx := context.Background()
	writer, err := New(Options{}, remote, nil)
	require.NoError(t, err)
	writer.Set(ctx, key("v1", "red"), result("1", "2"))
	assert.Len(t, remote.data, 1)

	m := metrics.New(prometheus.NewRegistry())
	reader, err := New(Options{}, remote, m)
	require.NoError(t, err)

	got, status, ok := reader.Get(ctx, key("v1", "red"))
	require.True(t, ok)
	assert.Equal(t, StatusRemote, status)
	assert.Equal(t, []ranker.ScoredHit{{DocID: "1", Score: 2}, {DocID: "2", Score: 1}}, got.Results)

	_, status, _ = reader.Get(ctx, key("v1", "red"))
	assert.Equal(t, StatusLocal, status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues(StatusRemote)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues(StatusLocal)))
}

func TestRemoteFailureDegradesToLocal(t *testing.T) {
	remote := newFakeRemote()
	remote.fail = errors.New("connection refused")
	c, err := New(Options{Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}}, remote, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, ok := c.Get(ctx, key("v1", "red"))
		assert.False(t, ok)
	}
	assert.Equal(t, 2, remote.gets, "open breaker stops remote calls")
	assert.Equal(t, resilience.StateOpen, c.breaker.GetState())

	c.Set(ctx, key("v1", "red"), result("1"))
	_, status, ok := c.Get(ctx, key("v1", "red"))
	assert.True(t, ok)
	assert.Equal(t, StatusLocal, status)
}

func TestGetOrComputeCoalesces(t *testing.T) {
	c, err := New(Options{}, nil, nil)
	require.NoError(t, err)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		<-release
		return result("1"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := c.GetOrCompute(context.Background(), key("v1", "red"), compute)
			assert.NoError(t, err)
			assert.Equal(t, "1", got.Results[0].DocID)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	_, status, err := c.GetOrCompute(context.Background(), key("v1", "red"), compute)
	require.NoError(t, err)
	assert.Equal(t, StatusLocal, status)
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	c, err := New(Options{}, nil, nil)
	require.NoError(t, err)
	boom := errors.New("boom")
	_, _, err = c.GetOrCompute(context.Background(), key("v1", "red"), func() (*executor.SearchResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestInvalidate(t *testing.T) {
	remote := newFakeRemote()
	c, err := New(Options{}, remote, nil)
	require.NoError(t, err)
	ctx := context.Background()
	c.Set(ctx, key("v1", "red"), result("1"))
	c.Set(ctx, key("v1", "blue"), result("2"))

	require.NoError(t, c.Invalidate(ctx))
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, remote.data)
	assert.Equal(t, 1, remote.flush)
}
