package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

// Decision is the result of a single rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key. Implementations share the sliding window
// approximation: the previous window's count weighted by its overlap plus
// the current window's count.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// slidingWindow computes the window start, the previous window's weight and
// the reset time for now.
func slidingWindow(now time.Time, window time.Duration) (start time.Time, weight float64, resetAt time.Time) {
	start = now.Truncate(window)
	weight = 1.0 - now.Sub(start).Seconds()/window.Seconds()
	if weight < 0 {
		weight = 0
	}
	return start, weight, start.Add(window)
}

// entry tracks request counts across two adjacent windows.
type entry struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

// MemoryLimiter keeps counters in process memory. Suitable for a single
// instance.
type MemoryLimiter struct {
	max     int
	window  time.Duration
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemoryLimiter creates a MemoryLimiter.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     limit,
		window:  window,
		entries: make(map[string]*entry),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start, weight, resetAt := slidingWindow(now, l.window)

	e, ok := l.entries[key]
	if !ok {
		e = &entry{currStart: start}
		l.entries[key] = e
	}
	if !e.currStart.Equal(start) {
		if start.Sub(e.currStart) == l.window {
			e.prevCount = e.currCount
		} else {
			e.prevCount = 0
		}
		e.currCount = 0
		e.currStart = start
	}

	effective := e.prevCount*weight + e.currCount
	if effective >= float64(l.max) {
		return Decision{ResetAt: resetAt}, nil
	}
	e.currCount++

	remaining := int(float64(l.max) - effective - 1)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

// cleanup removes entries whose windows have fully expired.
func (l *MemoryLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if now.Sub(e.currStart) >= 2*l.window {
			delete(l.entries, key)
		}
	}
}

// StartCleanup evicts expired entries every two windows until ctx is done.
func (l *MemoryLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * l.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.cleanup(now)
			}
		}
	}()
}

// RateLimit returns a middleware that enforces a per-key in-memory sliding
// window limit. Every response carries the X-RateLimit-* headers; rejected
// requests get 429 with a JSON error body.
func RateLimit(cfg RateLimitConfig) Middleware {
	return RateLimitWith(cfg, NewMemoryLimiter(cfg.Max, cfg.Window))
}

// RateLimitWithCleanup is like RateLimit but also evicts stale entries in the
// background until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewMemoryLimiter(cfg.Max, cfg.Window)
	l.StartCleanup(ctx)
	return RateLimitWith(cfg, l)
}

// RateLimitWith enforces cfg using limiter. Limiter failures let the request
// through.
func RateLimitWith(cfg RateLimitConfig, limiter Limiter) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = defaultKeyFunc
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), keyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := time.Until(d.ResetAt)
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeTooManyRequests(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(http.StatusTooManyRequests)
	e.FieldStart("kind")
	e.Str("rate_limited")
	e.FieldStart("message")
	e.Str("rate limit exceeded")
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write(e.Bytes())
}

// defaultKeyFunc extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
