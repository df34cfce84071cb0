package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultMax    = 100
	DefaultWindow = 60 * time.Second
)

type window struct {
	count int
	start time.Time
}

// Limiter counts requests per connection in fixed windows. Windows are
// created on first use and live until Forget is called.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(max int, length time.Duration, opts ...Option) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if length <= 0 {
		length = DefaultWindow
	}
	l := &Limiter{
		max:     max,
		window:  length,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit records a request for id and reports whether it is within the limit.
// The count keeps growing past max while the window is saturated.
func (l *Limiter) Admit(id string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[id]
	if !ok || now.After(w.start.Add(l.window)) {
		l.windows[id] = &window{count: 1, start: now}
		return true
	}

	w.count++
	return w.count <= l.max
}

func (l *Limiter) Forget(id string) {
	l.mu.Lock()
	delete(l.windows, id)
	l.mu.Unlock()
}

// Len is the number of connections currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) count(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[id]; ok {
		return w.count
	}
	return 0
}
