package auth

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"arena-serverless/internal/observability"
)

const maxTrackedClients = 5000

// RequestLimiter is an in-process sliding window shared by every limited
// route. Hits are counted per (scope, client IP), so a burst on one route
// does not consume another route's budget. It is a flood guard in front of
// the login guard, not a replacement for it.
type RequestLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*hitLog
	now     func() time.Time
}

// hitLog holds the request times inside the current window, oldest first.
type hitLog struct {
	times []time.Time
}

// expire drops hits at or before cutoff.
func (h *hitLog) expire(cutoff time.Time) {
	n := sort.Search(len(h.times), func(i int) bool { return h.times[i].After(cutoff) })
	if n > 0 {
		h.times = append(h.times[:0], h.times[n:]...)
	}
}

func NewRequestLimiter(limit int, window time.Duration) *RequestLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RequestLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*hitLog),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Limit wraps next so each client gets the configured budget under scope.
// Rejected requests get 429 with message and a Retry-After header.
func (l *RequestLimiter) Limit(scope, message string, next http.Handler) http.Handler {
	if message == "" {
		message = "Too many requests"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait, ok := l.take(scope + "|" + observability.ClientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
			writeError(w, http.StatusTooManyRequests, message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take records a hit for key and reports whether it fits in the window.
// When it does not, the returned duration is the wait until the oldest hit
// leaves the window, never under one second.
func (l *RequestLimiter) take(key string) (time.Duration, bool) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	log, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.evict(cutoff)
		}
		log = &hitLog{}
		l.clients[key] = log
	}
	log.expire(cutoff)

	if len(log.times) >= l.limit {
		wait := log.times[0].Sub(cutoff)
		if wait < time.Second {
			wait = time.Second
		}
		return wait, false
	}
	log.times = append(log.times, now)
	return 0, true
}

// evict forgets clients whose last hit already left the window.
func (l *RequestLimiter) evict(cutoff time.Time) {
	for key, log := range l.clients {
		if n := len(log.times); n == 0 || !log.times[n-1].After(cutoff) {
			delete(l.clients, key)
		}
	}
}
