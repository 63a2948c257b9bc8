package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mercado-field/api/internal/platform/auth"
	"github.com/mercado-field/api/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// windowRateLimiter admits limit calls per key within a fixed window that starts at the key's first call.
type windowRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

func newWindowRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

// Allow reports whether key may proceed and, when it may not, how long until its window resets.
func (l *windowRateLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true, 0
	}
	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.store[key] = entry
	return true, 0
}

func (l *windowRateLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}

// rateLimited rejects callers over the limit with 429 and a Retry-After in whole seconds. It keys on the
// authenticated uid, so it must run after RequireAuth.
func rateLimited(limiter rateLimiter, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var key string
		if identity, ok := auth.IdentityFromContext(r.Context()); ok {
			key = identity.UID
		}
		allowed, wait := limiter.Allow(key)
		if !allowed {
			seconds := int((wait + time.Second - 1) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many checkout attempts, retry later", http.StatusTooManyRequests))
			return
		}
		next(w, r)
	}
}
