package summary

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/medisight/healthdata-platform/pkg/metrics"
	"github.com/medisight/healthdata-platform/pkg/redis"
	"github.com/medisight/healthdata-platform/pkg/resilience"
)

const cacheKey = "dashboard:summary"

// redisOpTimeout bounds cache round trips so a slow Redis degrades to a
// recompute instead of stalling the dashboard.
const redisOpTimeout = 250 * time.Millisecond

// Cached wraps an Engine with a staleness-bounded cache. The unbounded
// (default) view is cached in Redis when configured, with an in-process
// fallback; ranged views always recompute. A stale or unreachable cache is
// never an error — the engine recomputes and the cache is repopulated best
// effort, since views are derived data.
type Cached struct {
	engine *Engine
	client *redis.Client // nil when Redis is not configured
	ttl    time.Duration

	mu      sync.Mutex
	memView *View
	memExp  time.Time

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCached creates the caching layer. client and m may be nil.
func NewCached(engine *Engine, client *redis.Client, ttl time.Duration, m *metrics.Metrics) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cached{
		engine:  engine,
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "summary-cache"),
	}
}

// Summarize returns a cached view when one is fresh, otherwise computes and
// caches a new one.
func (c *Cached) Summarize(ctx context.Context, opts Options) (*View, error) {
	if !opts.From.IsZero() || !opts.To.IsZero() {
		return c.engine.Summarize(ctx, opts)
	}

	if view := c.lookup(ctx); view != nil {
		if c.metrics != nil {
			c.metrics.SummaryCacheHits.Inc()
		}
		return view, nil
	}
	if c.metrics != nil {
		c.metrics.SummaryCacheMisses.Inc()
	}

	view, err := c.engine.Summarize(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.put(ctx, view)
	return view, nil
}

func (c *Cached) lookup(ctx context.Context) *View {
	if c.client != nil {
		var data string
		err := resilience.WithTimeout(ctx, redisOpTimeout, "summary-cache-get", func(ctx context.Context) error {
			var err error
			data, err = c.client.Get(ctx, cacheKey)
			return err
		})
		if err == nil {
			var view View
			if err := json.Unmarshal([]byte(data), &view); err == nil {
				return &view
			}
			c.logger.Warn("discarding undecodable cached summary")
		} else if !redis.IsNilError(err) {
			c.logger.Warn("summary cache read failed", "error", err)
		}
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memView != nil && time.Now().Before(c.memExp) {
		return c.memView
	}
	return nil
}

func (c *Cached) put(ctx context.Context, view *View) {
	if c.client != nil {
		data, err := json.Marshal(view)
		if err != nil {
			c.logger.Error("failed to marshal summary for cache", "error", err)
			return
		}
		err = resilience.WithTimeout(ctx, redisOpTimeout, "summary-cache-set", func(ctx context.Context) error {
			return c.client.Set(ctx, cacheKey, data, c.ttl)
		})
		if err != nil {
			c.logger.Warn("summary cache write failed", "error", err)
		}
		return
	}

	c.mu.Lock()
	c.memView = view
	c.memExp = time.Now().Add(c.ttl)
	c.mu.Unlock()
}

// Invalidate drops any cached view so the next Summarize recomputes.
func (c *Cached) Invalidate(ctx context.Context) {
	if c.client != nil {
		if err := c.client.Del(ctx, cacheKey); err != nil {
			c.logger.Warn("summary cache invalidation failed", "error", err)
		}
		return
	}
	c.mu.Lock()
	c.memView = nil
	c.mu.Unlock()
}
