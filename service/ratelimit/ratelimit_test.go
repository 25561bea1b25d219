package ratelimit

import (
	"sync"
	"testing"
	"time"

	"collabgate/tools/errs"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLimiter() (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(Config{Clock: c.now}), c
}

func TestWorkflowUpdateLimit(t *testing.T) {
	l, _ := newLimiter()

	for i := 0; i < 30; i++ {
		require.NoError(t, l.Allow("c1", WorkflowUpdate), "update %d", i+1)
	}
	err := l.Allow("c1", WorkflowUpdate)
	require.Error(t, err)
	require.True(t, errs.Has(err, errs.RateLimitExceeded))
	require.Contains(t, errs.As(err).Detail, "category=workflow_update")

	// other categories and connections are independent
	require.NoError(t, l.Allow("c1", Message))
	require.NoError(t, l.Allow("c2", WorkflowUpdate))
	require.Equal(t, 99, l.Remaining("c1", Message))
}

func TestWindowResets(t *testing.T) {
	l, c := newLimiter()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow("c1", JoinRoom))
	}
	require.Error(t, l.Allow("c1", JoinRoom))

	c.add(59 * time.Second)
	require.Error(t, l.Allow("c1", JoinRoom))

	c.add(time.Second)
	require.NoError(t, l.Allow("c1", JoinRoom))
	require.Equal(t, 9, l.Remaining("c1", JoinRoom))
}

func TestRejectedEventNotCounted(t *testing.T) {
	l := New(Config{Limits: Limits{Message: 1}})
	require.NoError(t, l.Allow("c", Message))
	for i := 0; i < 5; i++ {
		require.Error(t, l.Allow("c", Message))
	}
	require.Equal(t, 0, l.Remaining("c", Message))
}

func TestUnlimitedCategory(t *testing.T) {
	l := New(Config{Limits: Limits{Message: 1}})
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Allow("c", WorkflowUpdate))
	}
	require.Zero(t, l.Len())
}

func TestReleaseAndSweep(t *testing.T) {
	l, c := newLimiter()
	require.NoError(t, l.Allow("a", Message))
	require.NoError(t, l.Allow("a", JoinRoom))
	require.NoError(t, l.Allow("b", Message))
	require.Equal(t, 3, l.Len())

	l.Release("a")
	require.Equal(t, 1, l.Len())

	require.Zero(t, l.Sweep(c.now()))
	c.add(time.Minute)
	require.Equal(t, 1, l.Sweep(c.now()))
	require.Zero(t, l.Len())
}

func TestConcurrentAllow(t *testing.T) {
	l := New(Config{Limits: Limits{Message: 50}})
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("c", Message) == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, ok)
}
