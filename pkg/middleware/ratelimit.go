package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vantagecms/vantage/pkg/observability"
)

// Limiter enforces fixed-window request budgets with Redis counters shared
// across instances. Redis failures fail open: an unreachable quota store
// must never reject traffic.
type Limiter struct {
	redis        *redis.Client
	prefix       string
	defaultLimit int
	window       time.Duration
	overrides    map[string]RouteLimit
	metrics      *observability.Metrics
}

// NewLimiter creates a limiter writing counters under the same key scheme
// the QuotaReader reads. metrics may be nil.
func NewLimiter(client *redis.Client, prefix string, defaultLimit int, window time.Duration, overrides map[string]RouteLimit, metrics *observability.Metrics) *Limiter {
	if prefix == "" {
		prefix = "quota"
	}
	return &Limiter{
		redis:        client,
		prefix:       prefix,
		defaultLimit: defaultLimit,
		window:       window,
		overrides:    overrides,
		metrics:      metrics,
	}
}

// Allow increments the identity's counter for the route and reports whether
// the request is within budget.
func (l *Limiter) Allow(ctx context.Context, identity, route string) bool {
	if l.redis == nil {
		return true
	}

	limit, window := l.limitFor(route)
	key := quotaKey(l.prefix, route, identity)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("rate limiter unavailable, failing open")
		return true
	}

	return incr.Val() <= int64(limit)
}

func (l *Limiter) limitFor(route string) (int, time.Duration) {
	if override, ok := l.overrides[route]; ok {
		limit, window := override.Limit, override.Window
		if limit <= 0 {
			limit = l.defaultLimit
		}
		if window <= 0 {
			window = l.window
		}
		return limit, window
	}
	return l.defaultLimit, l.window
}

// Handler rejects over-budget requests with 429.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := Classify(r)
		route := routeFor(r)

		if !l.Allow(r.Context(), identity, route) {
			if l.metrics != nil {
				l.metrics.RateLimitedTotal.WithLabelValues(IdentityClass(identity)).Inc()
			}
			limit, window := l.limitFor(route)
			reset := time.Now().Add(window)
			if l.redis != nil {
				key := quotaKey(l.prefix, route, identity)
				if ttl, err := l.redis.TTL(r.Context(), key).Result(); err == nil && ttl > 0 {
					reset = time.Now().Add(ttl)
				}
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
