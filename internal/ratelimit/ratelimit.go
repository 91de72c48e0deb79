package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/metrolabs/busstop-api/internal/httpmw"
)

// Limiter admits or rejects requests per client under a fixed-size sliding
// time window. For each client it retains the timestamps of admitted
// requests that are still inside the trailing window; stale entries are
// pruned lazily on each check. Windows are created on first sight of a
// client and live for the process lifetime - the key space is bounded by
// distinct client identifiers seen, so there is no background eviction.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	// denied tracks clients that have already triggered the first-denial
	// callback; cleared again when the client is next admitted
	denied map[string]bool

	max    int
	window time.Duration

	// injected clock for deterministic tests
	now func() time.Time

	// OnFirstDenied is called once per denial streak, used for logging
	// without log spam. OnDenied is called on every denied request, used
	// for incrementing prometheus counters.
	OnFirstDenied func(clientID string)
	OnDenied      func(clientID string)
}

type Option func(*Limiter)

// WithLimit sets the admission budget: at most max requests per client
// within any trailing window of the given size.
func WithLimit(max int, window time.Duration) Option {
	return func(l *Limiter) {
		l.max = max
		l.window = window
	}
}

// WithClock overrides the time source, for deterministic testing.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithOnFirstDenied sets a callback for the first denial of a streak.
// Intentionally separate from OnDenied: we log once, but increment
// counters on each denial.
func WithOnFirstDenied(fn func(clientID string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request.
func WithOnDenied(fn func(clientID string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// New creates a Limiter. Defaults: 600 requests per 60s window.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string][]time.Time),
		denied:  make(map[string]bool),
		max:     600,
		window:  60 * time.Second,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admit decides whether one unit of work from clientID may proceed.
// It prunes timestamps that have aged out of the window (an entry exactly
// at the window start is dropped; retained entries are strictly newer),
// rejects without recording when the retained count has reached the
// limit, and otherwise records now and admits. Admit never fails; a
// false return is the whole answer and the boundary decides how to
// signal it.
//
// The prune-count-append sequence is a critical section: concurrent
// callers for the same client must not both observe a free slot when
// only one remains.
func (l *Limiter) Admit(clientID string) bool {
	l.mu.Lock()

	now := l.now()
	windowStart := now.Add(-l.window)

	win := l.windows[clientID]
	drop := 0
	for drop < len(win) && !win[drop].After(windowStart) {
		drop++
	}
	if drop > 0 {
		// shift forward instead of reslicing so the backing array does
		// not pin aged-out entries
		win = append(win[:0], win[drop:]...)
	}

	if len(win) >= l.max {
		l.windows[clientID] = win
		first := !l.denied[clientID]
		l.denied[clientID] = true
		// release before hooks, they may do slow work
		l.mu.Unlock()
		if first && l.OnFirstDenied != nil {
			l.OnFirstDenied(clientID)
		}
		if l.OnDenied != nil {
			l.OnDenied(clientID)
		}
		return false
	}

	l.windows[clientID] = append(win, now)
	if l.denied[clientID] {
		delete(l.denied, clientID)
	}
	l.mu.Unlock()
	return true
}

// retained returns a copy of the client's current window, for tests.
func (l *Limiter) retained(clientID string) []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	win := l.windows[clientID]
	out := make([]time.Time, len(win))
	copy(out, win)
	return out
}

// Middleware returns middleware that rejects requests over the per-client
// limit with 429. Must run after httpmw.ClientIP so the resolved address
// is available; denied requests never reach the handler or the store.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := httpmw.ClientIPFromContext(r.Context())

		if !l.Admit(clientID) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			// intentionally no detail about limits or remaining budget
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
