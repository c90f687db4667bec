package httpapi

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether the client identified by key may proceed.
// retryAfter is meaningful only when ok is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// MemoryLimiter is a token bucket per key, local to the process.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond float64
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewMemoryLimiter(burst, perSecond int) *MemoryLimiter {
	return &MemoryLimiter{
		buckets:   make(map[string]*bucket),
		perSecond: float64(perSecond),
		burst:     burst,
		ttl:       5 * time.Minute,
		now:       time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.perSecond), l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	if b.lim.AllowN(now, 1) {
		return true, 0, nil
	}
	return false, time.Duration(float64(time.Second) / l.perSecond), nil
}

// fixedWindow counts hits per key and window. It returns the hit count and
// the remaining window in milliseconds.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter is a fixed-window counter shared by every replica.
type RedisLimiter struct {
	client redis.Scripter
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter allows max(burst, perSecond*window) hits per window.
func NewRedisLimiter(client redis.Scripter, burst, perSecond int, window time.Duration) *RedisLimiter {
	limit := int64(math.Ceil(float64(perSecond) * window.Seconds()))
	if int64(burst) > limit {
		limit = int64(burst)
	}
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "restgen:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := fixedWindow.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if res[0] <= l.limit {
		return true, 0, nil
	}
	retry := time.Duration(res[1]) * time.Millisecond
	if retry <= 0 {
		retry = l.window
	}
	return false, retry, nil
}

// RateLimit rejects clients over their limit with 429. A failing limiter
// lets the request through.
func RateLimit(l Limiter, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if ip == "" {
				ip = "unknown"
			}
			ok, retry, err := l.Allow(r.Context(), ip)
			if err != nil {
				log.Warn("rate limiter unavailable", zap.Error(err), zap.String("request_id", RequestIDFromContext(r)))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				secs := int(math.Ceil(retry.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeMessage(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
