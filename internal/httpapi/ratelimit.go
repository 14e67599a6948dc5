package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/apperr"
)

// Per-address sliding-window rate limiting. Orthogonal to the per-rule
// maxMessagesPerDay quota the permission engine enforces.

// slidingWindow tracks request timestamps inside the window for one address.
type slidingWindow struct {
	mu     sync.Mutex
	stamps []time.Time
	seen   time.Time
}

// allow prunes expired stamps and admits the request when capacity remains.
// Returns the remaining budget and, on refusal, when the oldest stamp leaves
// the window.
func (s *slidingWindow) allow(now time.Time, max int, window time.Duration) (bool, int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = now
	cutoff := now.Add(-window)
	kept := s.stamps[:0]
	for _, t := range s.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.stamps = kept

	if len(s.stamps) >= max {
		return false, 0, s.stamps[0].Add(window)
	}
	s.stamps = append(s.stamps, now)
	return true, max - len(s.stamps), now.Add(window)
}

// RateLimiter manages per-address windows.
type RateLimiter struct {
	mu      sync.RWMutex
	windows map[string]*slidingWindow
	max     int
	window  time.Duration
	now     func() time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string]*slidingWindow),
		max:     max,
		window:  window,
		now:     time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) get(addr string) *slidingWindow {
	rl.mu.RLock()
	w, ok := rl.windows[addr]
	rl.mu.RUnlock()
	if ok {
		return w
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if w, ok := rl.windows[addr]; ok {
		return w
	}
	w = &slidingWindow{}
	rl.windows[addr] = w
	return w
}

// Allow reports whether a request from the address may proceed.
func (rl *RateLimiter) Allow(addr string) (bool, int, time.Time) {
	return rl.get(addr).allow(rl.now(), rl.max, rl.window)
}

// cleanupLoop drops windows idle for ten minutes.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for addr, w := range rl.windows {
			w.mu.Lock()
			idle := w.seen.Before(cutoff)
			w.mu.Unlock()
			if idle {
				delete(rl.windows, addr)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware enforces the per-address limit and sets the
// X-RateLimit-* headers. RealIP must run earlier so RemoteAddr reflects the
// client behind a proxy.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := r.RemoteAddr
			if host, _, err := net.SplitHostPort(addr); err == nil {
				addr = host
			}

			allowed, remaining, reset := limiter.Allow(addr)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				retryAfter := int(time.Until(reset).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				log.Ctx(r.Context()).Warn().
					Str("addr", addr).
					Str("path", r.URL.Path).
					Msg("rate limit exceeded")
				rateLimited.Inc()
				writeErr(w, r, apperr.New(apperr.KindRateLimited, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
