package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/vantagecms/vantage/pkg/observability"
)

// RouteLimit overrides the request budget for one route.
type RouteLimit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// QuotaReader reads current counter state from the shared quota store for
// client-visible rate-limit headers. It only reads counters the limiter
// writes; on any lookup failure it degrades to a full window rather than
// failing the request.
type QuotaReader struct {
	redis        *redis.Client
	prefix       string
	defaultLimit int
	window       time.Duration
	overrides    map[string]RouteLimit
	metrics      *observability.Metrics
	now          func() time.Time
}

// NewQuotaReader creates a quota reader sharing the limiter's key scheme.
// metrics may be nil.
func NewQuotaReader(client *redis.Client, prefix string, defaultLimit int, window time.Duration, overrides map[string]RouteLimit, metrics *observability.Metrics) *QuotaReader {
	if prefix == "" {
		prefix = "quota"
	}
	return &QuotaReader{
		redis:        client,
		prefix:       prefix,
		defaultLimit: defaultLimit,
		window:       window,
		overrides:    overrides,
		metrics:      metrics,
		now:          time.Now,
	}
}

// CurrentQuota returns (limit, remaining, reset unix seconds) for an
// identity on a route.
func (q *QuotaReader) CurrentQuota(ctx context.Context, identity, route string) (int, int, int64) {
	limit, window := q.limitFor(route)

	degraded := func() (int, int, int64) {
		if q.metrics != nil {
			q.metrics.QuotaLookupFailures.Inc()
		}
		return limit, limit, q.now().Add(window).Unix()
	}
	if q.redis == nil {
		return degraded()
	}

	key := quotaKey(q.prefix, route, identity)
	count, err := q.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return limit, limit, q.now().Add(window).Unix()
	}
	if err != nil {
		return degraded()
	}

	ttl, err := q.redis.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return limit, remaining, q.now().Add(ttl).Unix()
}

func (q *QuotaReader) limitFor(route string) (int, time.Duration) {
	if override, ok := q.overrides[route]; ok {
		limit, window := override.Limit, override.Window
		if limit <= 0 {
			limit = q.defaultLimit
		}
		if window <= 0 {
			window = q.window
		}
		return limit, window
	}
	return q.defaultLimit, q.window
}

// QuotaHeaders populates X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset on every response, including when no quota data exists.
func (q *QuotaReader) QuotaHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := Classify(r)
		limit, remaining, reset := q.CurrentQuota(r.Context(), identity, routeFor(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		next.ServeHTTP(w, r)
	})
}

// quotaKey is the single source of truth for counter key construction. The
// reader and the enforcing limiter must agree byte for byte or the headers
// lie.
func quotaKey(prefix, route, identity string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, route, identity)
}

// routeFor prefers the mux route template so counters aggregate per route
// rather than per URL.
func routeFor(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return r.URL.Path
}
