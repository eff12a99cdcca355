// Package ratelimit bounds how many actions an agent may take per
// service inside a fixed time window.
package ratelimit

import (
	"sync"
	"time"
)

// Result reports the outcome of one consumed rate-limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
}

// Limiter tracks fixed-window action counts per service. Check consumes
// quota; the counter starts over once the window elapses. Safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count     int
	startedAt time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Check consumes one action against the service window and reports
// whether it fit. The first call for a service, and the first call after
// its window elapses, starts a fresh count. Exhausted windows keep
// answering not-allowed with zero remaining until they roll over.
func (l *Limiter) Check(service string, cfg Config) Result {
	name := normalizeService(service)
	windowLen := time.Duration(cfg.WindowMinutes) * time.Minute

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[name]
	if !ok || now.Sub(w.startedAt) >= windowLen {
		w = &window{startedAt: now}
		l.windows[name] = w
	}

	w.count++
	remaining := cfg.MaxActions - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= cfg.MaxActions,
		Remaining: remaining,
		Limit:     cfg.MaxActions,
	}
}

// Reset clears the service window immediately, regardless of expiry.
func (l *Limiter) Reset(service string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, normalizeService(service))
}

// Bump adjusts the current count by delta without consuming a check.
// A negative delta gives quota back after a cancelled action; the count
// never drops below zero. Bumping an untracked service starts a window
// only for positive deltas.
func (l *Limiter) Bump(service string, delta int) {
	name := normalizeService(service)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[name]
	if !ok {
		if delta <= 0 {
			return
		}
		w = &window{startedAt: l.now()}
		l.windows[name] = w
	}
	w.count += delta
	if w.count < 0 {
		w.count = 0
	}
}

// Snapshot returns the live counter for a service without consuming
// quota. ok is false when no window is being tracked.
func (l *Limiter) Snapshot(service string) (count int, startedAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[normalizeService(service)]
	if !found {
		return 0, time.Time{}, false
	}
	return w.count, w.startedAt, true
}
