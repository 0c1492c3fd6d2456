package proxy

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// responseWriter is a wrapper around http.ResponseWriter that captures the status code
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

// Recovery returns a middleware that recovers from panics and logs them
func Recovery(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("remote_addr", r.RemoteAddr),
						zap.Any("error", err),
						zap.String("stack", string(debug.Stack())),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					fmt.Fprint(w, `{"error":"Internal Server Error"}`)
				}
			}()

			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(fn)
	}
}

// Logger returns a middleware that logs HTTP requests with a level picked
// from the response status code.
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", wrapped.status),
				zap.Duration("duration", time.Since(start)),
			}

			switch {
			case wrapped.status >= 500:
				logger.Error("http request - server error", fields...)
			case wrapped.status >= 400:
				logger.Warn("http request - client error", fields...)
			default:
				logger.Debug("http request", fields...)
			}
		}

		return http.HandlerFunc(fn)
	}
}

// RateLimiter provides IP-based rate limiting with automatic cleanup
type RateLimiter struct {
	limiters   map[string]*limiterEntry
	mu         sync.RWMutex
	rate       rate.Limit
	burst      int
	cleanupTTL time.Duration
}

// limiterEntry wraps a rate.Limiter with last-access tracking.
// lastAccess holds unix nanoseconds; it is updated under the map's read
// lock, so the write must be atomic to be safe against cleanup scans.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

func (e *limiterEntry) touch() {
	e.lastAccess.Store(time.Now().UnixNano())
}

// NewRateLimiter creates a new rate limiter with automatic cleanup
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters:   make(map[string]*limiterEntry, 256),
		rate:       rate.Limit(ratePerSecond),
		burst:      burst,
		cleanupTTL: 10 * time.Minute,
	}
	go rl.autoCleanup()
	return rl
}

func (rl *RateLimiter) autoCleanup() {
	ticker := time.NewTicker(rl.cleanupTTL)
	defer ticker.Stop()
	for range ticker.C {
		rl.cleanupStaleLimiters()
	}
}

func (rl *RateLimiter) cleanupStaleLimiters() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.cleanupTTL).UnixNano()
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Load() < cutoff {
			delete(rl.limiters, ip)
		}
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	entry, exists := rl.limiters[ip]
	rl.mu.RUnlock()

	if exists {
		entry.touch()
		return entry.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	entry, exists = rl.limiters[ip]
	if exists {
		entry.touch()
		return entry.limiter
	}

	entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
	entry.touch()
	rl.limiters[ip] = entry

	return entry.limiter
}

// Allow checks if a request from the given IP is allowed
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getLimiter(ip).Allow()
}

// RateLimit returns a rate limiting middleware
func RateLimit(ratePerSecond float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(ratePerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r)

			if !limiter.Allow(ip) {
				logger.Warn("rate limit exceeded",
					zap.String("ip", ip),
					zap.String("path", r.URL.Path),
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded","message":"too many requests, please retry later"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP extracts the real client IP from the request,
// preferring forwarding headers over the socket address.
func extractClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		if net.ParseIP(real) != nil {
			return real
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
