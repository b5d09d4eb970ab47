package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/erp/pkg/slogx"
	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// MaxAttempts is the number of requests allowed in the time window.
	MaxAttempts int
	// Window is the time window for rate limiting.
	Window time.Duration
}

// AuthLimit is the default profile for credential endpoints: 5 attempts per
// 15 minutes, counted regardless of outcome.
var AuthLimit = RateLimitConfig{
	MaxAttempts: 5,
	Window:      15 * time.Minute,
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = AuthLimit.MaxAttempts
	}
	if c.Window <= 0 {
		c.Window = AuthLimit.Window
	}
	return c
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts attempts per key. Implementations must be safe for
// concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, user ID, etc.)
type KeyExtractor func(*http.Request) string

type clientIPKey struct{}

// IPKeyExtractor returns the client IP resolved by ClientIP, or the host of
// RemoteAddr when that middleware did not run. Forwarding headers are never
// read here.
func IPKeyExtractor(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ParseTrustedProxies parses a list of IPs and CIDR prefixes.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func isTrusted(trusted []netip.Prefix, ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the client address once per request. X-Forwarded-For and
// X-Real-IP are honoured only when the direct peer is one of trusted; the
// forwarded chain is walked from the right and the first untrusted hop wins.
func ClientIP(trusted []netip.Prefix) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trusted)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip)))
		})
	}
}

func resolveClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteHost(r)
	if !isTrusted(trusted, peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		var leftmost string
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			leftmost = hop
			if !isTrusted(trusted, hop) {
				return hop
			}
		}
		if leftmost != "" {
			return leftmost
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// MemoryLimiter keeps one fixed window per key in process memory. Suitable
// for a single instance only; it counts exactly like RedisLimiter.
type MemoryLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	// sweep bounds how often expired windows are dropped.
	sweep rate.Sometimes
}

type window struct {
	start time.Time
	count int
}

// NewMemoryLimiter creates an in-process limiter allowing MaxAttempts per
// Window. The window starts at the first attempt and is not extended by
// later ones.
func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	cfg = cfg.normalized()
	return &MemoryLimiter{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*window),
		sweep:   rate.Sometimes{Interval: cfg.Window},
	}
}

// evict drops windows that have closed, so idle keys do not accumulate.
func (m *MemoryLimiter) evict(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, w := range m.windows {
		if !now.Before(w.start.Add(m.cfg.Window)) {
			delete(m.windows, key)
		}
	}
}

// Allow consumes one attempt for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	m.sweep.Do(func() { m.evict(now) })

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.start.Add(m.cfg.Window)) {
		w = &window{start: now}
		m.windows[key] = w
	}
	w.count++

	d := Decision{
		Allowed:   w.count <= m.cfg.MaxAttempts,
		Limit:     m.cfg.MaxAttempts,
		Remaining: max(m.cfg.MaxAttempts-w.count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = w.start.Add(m.cfg.Window).Sub(now)
	}
	return d, nil
}

// RedisLimiter is a fixed-window counter shared by every instance pointed
// at the same Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	cfg    RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter. Keys are stored as
// "{prefix}:{key}".
func NewRedisLimiter(client redis.UniversalClient, cfg RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, cfg: cfg.normalized(), prefix: prefix}
}

// Allow increments the window counter for key. The window starts at the
// first attempt and is not extended by later ones.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.prefix + ":" + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Limit: l.cfg.MaxAttempts}, fmt.Errorf("rate limit counter: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		// New key, or one that lost its expiry.
		if err := l.client.PExpire(ctx, redisKey, l.cfg.Window).Err(); err != nil {
			return Decision{Allowed: true, Limit: l.cfg.MaxAttempts}, fmt.Errorf("rate limit expiry: %w", err)
		}
		ttl = l.cfg.Window
	}

	count := int(incr.Val())
	d := Decision{
		Allowed:   count <= l.cfg.MaxAttempts,
		Limit:     l.cfg.MaxAttempts,
		Remaining: max(l.cfg.MaxAttempts-count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// LimitedFunc is invoked when a request is rejected, typically to emit a
// security event.
type LimitedFunc func(r *http.Request, key string, d Decision)

// RateLimitMiddleware rejects requests once the limiter says no. Limiter
// errors fail open.
func RateLimitMiddleware(limiter Limiter, keyExtractor KeyExtractor, onLimited LimitedFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			key := keyExtractor(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Allow(ctx, key)
			if err != nil {
				log.Warn("rate limit: limiter unavailable, allowing request", "err", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				retryAfter := max(int(d.RetryAfter.Round(time.Second).Seconds()), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn("rate limit exceeded",
					"key", key,
					"endpoint", r.URL.Path,
					"retry_after", retryAfter,
				)
				if onLimited != nil {
					onLimited(r, key, d)
				}

				WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					"Too many attempts. Please try again later.",
					map[string]int{"retryAfter": retryAfter})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
