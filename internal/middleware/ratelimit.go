// ratelimit.go provides per-client rate limiting. A process-local token bucket
// (golang.org/x/time/rate) is used by default; when a Redis URL is configured the
// GCRA limiter from redis_rate shares one budget across all replicas.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/consortium-members/membership-backend/internal/config"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate allowed per client
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often idle in-memory buckets are dropped
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the general API limit
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig returns stricter limits for login and token acceptance,
// where each request is a guess at a credential.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitConfigFrom applies configured overrides on top of the defaults
func RateLimitConfigFrom(cfg config.RateLimitingConfig) RateLimitConfig {
	rl := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		rl.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		rl.BurstSize = cfg.Burst
	}
	return rl
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the client identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// ---------------------------------------------------------------------------
// In-memory limiter
// ---------------------------------------------------------------------------

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	config   RateLimitConfig
	limit    rate.Limit
	buckets  map[string]*bucket
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryLimiter creates a limiter and starts its idle-bucket cleanup goroutine
func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	ml := &MemoryLimiter{
		config:  cfg,
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go ml.cleanupLoop()
	return ml
}

func (ml *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(ml.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ml.cleanup(10 * time.Minute)
		case <-ml.stopCh:
			return
		}
	}
}

// cleanup drops buckets idle for longer than maxIdle
func (ml *MemoryLimiter) cleanup(maxIdle time.Duration) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	now := ml.now()
	for key, b := range ml.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(ml.buckets, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (ml *MemoryLimiter) Stop() {
	ml.stopOnce.Do(func() { close(ml.stopCh) })
}

// Allow takes one token from key's bucket
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	b, ok := ml.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(ml.limit, ml.config.BurstSize)}
		ml.buckets[key] = b
	}
	b.lastSeen = now

	d := Decision{Limit: ml.config.RequestsPerMinute}
	if b.limiter.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = int(math.Max(0, b.limiter.TokensAt(now)))
		return d, nil
	}

	// Time until one whole token has refilled.
	missing := 1 - b.limiter.TokensAt(now)
	if ml.limit > 0 {
		d.RetryAfter = time.Duration(missing / float64(ml.limit) * float64(time.Second))
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Redis limiter
// ---------------------------------------------------------------------------

// RedisLimiter shares budgets across replicas through Redis.
type RedisLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter connects to the Redis instance at redisURL
// (redis://[:password@]host:port/db).
func NewRedisLimiter(redisURL, prefix string, cfg RateLimitConfig) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisLimiter{
		client:  client,
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.BurstSize,
			Period: time.Minute,
		},
		prefix: prefix,
	}, nil
}

// Allow runs one GCRA check in Redis
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	d := Decision{
		Allowed:   res.Allowed > 0,
		Limit:     rl.limit.Rate,
		Remaining: res.Remaining,
	}
	if !d.Allowed {
		d.RetryAfter = res.RetryAfter
	}
	return d, nil
}

// Close releases the Redis connection pool
func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}

// NewLimiterFromConfig picks the Redis limiter when a URL is configured and the
// in-memory one otherwise. prefix namespaces the keys of separate limit tiers.
func NewLimiterFromConfig(cfg config.RateLimitingConfig, prefix string, tier RateLimitConfig) (Limiter, error) {
	if cfg.RedisURL != "" {
		return NewRedisLimiter(cfg.RedisURL, "ratelimit:"+prefix+":", tier)
	}
	return NewMemoryLimiter(tier), nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitMiddleware rejects over-budget clients with 429. If the limiter
// itself fails (Redis unreachable) the request is let through: an outage of the
// limiter must not take the API down with it.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        "rate_limited",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Priority: user_id > api_key_id > IP address
func getRateLimitKey(c *gin.Context) string {
	if id := c.GetString(ContextUserID); id != "" {
		return "user:" + id
	}
	if id := c.GetString(ContextAPIKeyID); id != "" {
		return "apikey:" + id
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
