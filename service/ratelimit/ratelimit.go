// Package ratelimit bounds per-connection event volume with fixed counting
// windows, one per (connection, category).
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"collabgate/tools/errs"
)

type Category string

const (
	Message        Category = "message"
	JoinRoom       Category = "join_room"
	WorkflowUpdate Category = "workflow_update"
)

// Limits maps a category to its allowance per window. Categories without an
// entry are unlimited.
type Limits map[Category]int

func DefaultLimits() Limits {
	return Limits{
		Message:        100,
		JoinRoom:       10,
		WorkflowUpdate: 30,
	}
}

type Config struct {
	Limits Limits
	Window time.Duration    // default 1m
	Clock  func() time.Time // nil => time.Now
}

type window struct {
	start time.Time
	count int
}

type key struct {
	conn string
	cat  Category
}

// Limiter is safe for concurrent use. Windows are created on first use and
// evicted by Sweep once they have elapsed, or by Release on disconnect.
type Limiter struct {
	mu      sync.Mutex
	windows map[key]*window
	limits  Limits
	size    time.Duration
	now     func() time.Time
}

func New(c Config) *Limiter {
	if c.Limits == nil {
		c.Limits = DefaultLimits()
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return &Limiter{
		windows: make(map[key]*window),
		limits:  c.Limits,
		size:    c.Window,
		now:     c.Clock,
	}
}

// Allow counts one event for (connID, cat). When the window is full it returns
// RateLimitExceeded with the remaining wait in the detail; the event is not
// counted.
func (l *Limiter) Allow(connID string, cat Category) error {
	limit, ok := l.limits[cat]
	if !ok || limit <= 0 {
		return nil
	}
	now := l.now()
	k := key{conn: connID, cat: cat}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[k]
	if w == nil || now.Sub(w.start) >= l.size {
		w = &window{start: now}
		l.windows[k] = w
	}
	if w.count >= limit {
		retry := w.start.Add(l.size).Sub(now)
		return errs.RateLimitExceeded.WrapMsg("rate limit exceeded",
			"category", string(cat), "limit", strconv.Itoa(limit), "retry_after_ms", retry.Milliseconds())
	}
	w.count++
	return nil
}

// Remaining is the allowance left in the current window.
func (l *Limiter) Remaining(connID string, cat Category) int {
	limit, ok := l.limits[cat]
	if !ok {
		return -1
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.windows[key{conn: connID, cat: cat}]
	if w == nil || now.Sub(w.start) >= l.size {
		return limit
	}
	return limit - w.count
}

// Release drops every window held by connID.
func (l *Limiter) Release(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.windows {
		if k.conn == connID {
			delete(l.windows, k)
		}
	}
}

// Sweep evicts windows that elapsed before now and returns how many it removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.size {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run sweeps once per window length until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(l.size)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			l.Sweep(l.now())
		}
	}
}
