package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitResult reports the outcome of a limit check; values feed the
// X-RateLimit-* response headers.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    int64
	RetryAfter int
}

// EndpointLimit is a per-endpoint policy. Burst is the enforced per-second
// window cap; Rate is the sustained target reported alongside it.
type EndpointLimit struct {
	Rate  int
	Burst int
}

// DefaultLimits mirrors the shipped per-endpoint policies; env overrides
// RATE_LIMIT_<NAME>_RATE / _BURST are applied by the config loader.
func DefaultLimits() map[string]EndpointLimit {
	return map[string]EndpointLimit{
		"search":        {Rate: 50, Burst: 100},
		"ask":           {Rate: 3, Burst: 5},
		"ask_stream":    {Rate: 1, Burst: 3},
		"admin_refresh": {Rate: 1, Burst: 2},
		"webhook_s3":    {Rate: 100, Burst: 200},
		"webhook_gcs":   {Rate: 100, Burst: 200},
		"default":       {Rate: 100, Burst: 200},
	}
}

// DefaultConcurrency caps in-flight requests on the expensive endpoints.
func DefaultConcurrency() map[string]int {
	return map[string]int{
		"ask":        3,
		"ask_stream": 2,
	}
}

const (
	// In-flight entries older than this are considered leaked and pruned.
	concurrencyStaleAfter = 600 * time.Second
	// Safety-net TTL on concurrency sets so leaks expire even unpruned.
	concurrencyKeyTTL = 120 * time.Second
)

// RateLimiter enforces fixed one-second windows and concurrency caps in
// Redis. State lives entirely in the shared store, so limits hold across
// processes. All checks fail open when Redis is unreachable.
type RateLimiter struct {
	rdb         redis.UniversalClient
	limits      map[string]EndpointLimit
	concurrency map[string]int

	// OnFailOpen is invoked when a Redis failure lets a request through.
	OnFailOpen func(endpoint string)
}

// NewRateLimiter builds a limiter over rdb; nil maps fall back to defaults.
func NewRateLimiter(rdb redis.UniversalClient, limits map[string]EndpointLimit, concurrency map[string]int) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	if concurrency == nil {
		concurrency = DefaultConcurrency()
	}
	return &RateLimiter{rdb: rdb, limits: limits, concurrency: concurrency}
}

func (r *RateLimiter) limitFor(endpoint string) EndpointLimit {
	if l, ok := r.limits[endpoint]; ok {
		return l
	}
	return r.limits["default"]
}

// Allow counts the request against the endpoint's current one-second window.
func (r *RateLimiter) Allow(ctx context.Context, endpoint, identifier string) (RateLimitResult, error) {
	limit := r.limitFor(endpoint)
	now := time.Now().Unix()
	key := fmt.Sprintf("ratelimit:%s:%s:%d", endpoint, identifier, now)

	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*time.Second)
		return nil
	})
	if err != nil {
		if r.OnFailOpen != nil {
			r.OnFailOpen(endpoint)
		}
		return RateLimitResult{
			Allowed:   true,
			Limit:     limit.Burst,
			Remaining: limit.Burst,
			ResetAt:   now + 1,
		}, nil
	}

	count := incr.Val()
	remaining := limit.Burst - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := RateLimitResult{
		Allowed:   int(count) <= limit.Burst,
		Limit:     limit.Burst,
		Remaining: remaining,
		ResetAt:   now + 1,
	}
	if !res.Allowed {
		res.RetryAfter = 1
	}
	return res, nil
}

// CheckConcurrency reports whether another in-flight request is permitted.
// Endpoints without a cap always pass.
func (r *RateLimiter) CheckConcurrency(ctx context.Context, endpoint, identifier string) (bool, error) {
	limit, ok := r.concurrency[endpoint]
	if !ok || limit <= 0 {
		return true, nil
	}
	key := concurrencyKey(endpoint, identifier)
	stale := float64(time.Now().Add(-concurrencyStaleAfter).Unix())

	if err := r.rdb.ZRemRangeByScore(ctx, key, "-inf", formatScore(stale)).Err(); err != nil {
		if r.OnFailOpen != nil {
			r.OnFailOpen(endpoint)
		}
		return true, nil
	}
	n, err := r.rdb.ZCard(ctx, key).Result()
	if err != nil {
		if r.OnFailOpen != nil {
			r.OnFailOpen(endpoint)
		}
		return true, nil
	}
	return n < int64(limit), nil
}

// MarkRequestStart registers an in-flight request in the concurrency set.
func (r *RateLimiter) MarkRequestStart(ctx context.Context, endpoint, identifier, requestID string) error {
	if _, ok := r.concurrency[endpoint]; !ok {
		return nil
	}
	key := concurrencyKey(endpoint, identifier)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(time.Now().Unix()), Member: requestID})
		pipe.Expire(ctx, key, concurrencyKeyTTL)
		return nil
	})
	return err
}

// MarkRequestEnd removes a completed request from the concurrency set.
func (r *RateLimiter) MarkRequestEnd(ctx context.Context, endpoint, identifier, requestID string) error {
	if _, ok := r.concurrency[endpoint]; !ok {
		return nil
	}
	return r.rdb.ZRem(ctx, concurrencyKey(endpoint, identifier), requestID).Err()
}

// Limits exposes the effective per-endpoint policies (admin reporting).
func (r *RateLimiter) Limits() map[string]EndpointLimit {
	out := make(map[string]EndpointLimit, len(r.limits))
	for k, v := range r.limits {
		out[k] = v
	}
	return out
}

func concurrencyKey(endpoint, identifier string) string {
	return fmt.Sprintf("concurrency:%s:%s", endpoint, identifier)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
