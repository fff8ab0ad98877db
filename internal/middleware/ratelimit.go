package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentrel/sentrel/internal/httputil"
	"github.com/sentrel/sentrel/internal/metrics"
)

// Decision is the outcome of a rate-limit check for one request. On a
// rejection RetryAfter is the full window length; on an allowed request it
// is the time left in the client's current window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int // seconds
}

// Limiter decides whether a client may proceed. Implementations count
// requests per client in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (Decision, error)
}

// bypassPaths are never rate limited.
var bypassPaths = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// RateLimit enforces per-client request limits, attaching X-RateLimit-*
// headers to every counted response and Retry-After to rejections. A nil
// limiter disables limiting. Limiter errors fail open.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bypassPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), ClientID(r))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(decision.RetryAfter))

			if !decision.Allowed {
				metrics.RateLimitHits.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientID identifies the caller for rate limiting: the first entry of
// X-Forwarded-For when present, otherwise the peer address without port.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MemoryLimiter counts requests per client in fixed windows in process
// memory. Each client's window opens on its first request, not on a shared
// clock. Suitable for single-instance deployments.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*clientWindow
	now     func() time.Time
}

type clientWindow struct {
	start time.Time
	count int
}

// NewMemoryLimiter creates a fixed-window in-memory limiter.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow counts the request against the client's current window, opening a
// fresh window when the previous one has elapsed.
func (l *MemoryLimiter) Allow(_ context.Context, clientID string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[clientID]
	if !ok || now.Sub(w.start) >= l.window {
		w = &clientWindow{start: now}
		l.clients[clientID] = w
	}

	windowSecs := int(l.window.Seconds())
	if windowSecs < 1 {
		windowSecs = 1
	}

	if w.count >= l.limit {
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			RetryAfter: windowSecs,
		}, nil
	}

	w.count++
	reset := int(l.window.Seconds() - now.Sub(w.start).Seconds())
	if reset < 1 {
		reset = 1
	}
	return Decision{
		Allowed:    true,
		Limit:      l.limit,
		Remaining:  l.limit - w.count,
		RetryAfter: reset,
	}, nil
}

// redisWindowScript increments the per-client window counter, setting the
// expiry on first hit, and returns the count plus remaining TTL.
var redisWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])

local count = redis.call('INCR', key)
if count == 1 then
	redis.call('EXPIRE', key, window)
end
local ttl = redis.call('TTL', key)
if ttl < 0 then
	ttl = window
end
return {count, ttl}
`)

// RedisLimiter counts requests per client in fixed windows in Redis so the
// limit holds across gateway replicas.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a distributed fixed-window limiter.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "sentrel:ratelimit:",
	}
}

// Allow runs the window script for the client key.
func (l *RedisLimiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	windowSecs := int(l.window.Seconds())
	if windowSecs < 1 {
		windowSecs = 1
	}

	result, err := redisWindowScript.Run(ctx, l.client,
		[]string{l.prefix + clientID}, windowSecs).Slice()
	if err != nil || len(result) != 2 {
		return Decision{}, err
	}

	count, _ := result[0].(int64)
	ttl, _ := result[1].(int64)

	decision := Decision{
		Limit:      l.limit,
		Remaining:  l.limit - int(count),
		RetryAfter: int(ttl),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	decision.Allowed = int(count) <= l.limit
	if !decision.Allowed {
		decision.RetryAfter = windowSecs
	}
	return decision, nil
}
