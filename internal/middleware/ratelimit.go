package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/notez/internal/metrics"
)

// RealIP returns the host part of r.RemoteAddr. Put ProxyHeaders in front
// of the handler to have it reflect the client behind a trusted proxy.
func RealIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ProxyHeaders replaces r.RemoteAddr with the client address reported by
// CF-Connecting-IP or X-Forwarded-For, but only when the direct peer is in
// trusted. With no trusted proxies the headers are ignored.
func ProxyHeaders(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peer, ok := parseAddr(RealIP(r)); ok && containsAddr(trusted, peer) {
				if ip := forwardedClient(r, trusted); ip != "" {
					r.RemoteAddr = ip
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedClient(r *http.Request, trusted []netip.Prefix) string {
	if ip, ok := parseAddr(r.Header.Get("CF-Connecting-IP")); ok {
		return ip.String()
	}
	// Walk right to left; the first hop we don't run is the client.
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseAddr(hops[i])
		if !ok {
			return ""
		}
		if !containsAddr(trusted, ip) {
			return ip.String()
		}
	}
	return ""
}

func parseAddr(s string) (netip.Addr, bool) {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func containsAddr(prefixes []netip.Prefix, ip netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Limiter decides whether key may make another request in the current
// fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type entry struct {
	count    int
	windowAt time.Time
}

// RateLimiter provides in-memory rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*entry),
	}
}

// Allow returns true if the key has not exceeded limit in the given window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	e, ok := rl.entries[key]
	if !ok || now.After(e.windowAt) {
		rl.entries[key] = &entry{count: 1, windowAt: now.Add(window)}
		return true
	}
	e.count++
	return e.count <= limit
}

// Cleanup removes expired entries.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, e := range rl.entries {
		if now.After(e.windowAt) {
			delete(rl.entries, key)
		}
	}
}

const redisTimeout = 200 * time.Millisecond

// RedisLimiter shares fixed windows between processes through Redis. When
// Redis cannot be reached it falls back to the in-memory limiter.
type RedisLimiter struct {
	client   *redis.Client
	fallback *RateLimiter
	logger   *slog.Logger
}

func NewRedisLimiter(client *redis.Client, fallback *RateLimiter, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, fallback: fallback, logger: logger}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	bucket := time.Now().UTC().Truncate(window).Unix()
	k := fmt.Sprintf("rl:%s:%d", key, bucket)

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	n, err := rl.client.Incr(ctx, k).Result()
	if err != nil {
		rl.logger.Warn("redis rate limit unavailable, using memory", "error", err)
		return rl.fallback.Allow(ctx, key, limit, window)
	}
	if n == 1 {
		if err := rl.client.Expire(ctx, k, window+time.Second).Err(); err != nil {
			rl.logger.Warn("redis rate limit expire", "key", k, "error", err)
		}
	}
	return n <= int64(limit)
}

// RateLimit returns middleware that rate-limits requests by a key function.
func RateLimit(limiter Limiter, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if !limiter.Allow(r.Context(), key, limit, window) {
				metrics.RateLimitedTotal.Inc()
				w.Header().Set("Retry-After", retryAfter)
				writeJSONError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
