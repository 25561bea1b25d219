package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"collabgate/global"
	"collabgate/tools/errs"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPLimiter bounds connection attempts per client address. Counters are per
// process.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPLimiter(perSecond float64, burst int) *IPLimiter {
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	return &IPLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     3 * time.Minute,
	}
}

func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

// Run forgets idle addresses until ctx is done.
func (l *IPLimiter) Run(ctx context.Context) error {
	t := time.NewTicker(l.idle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if time.Since(v.lastSeen) > l.idle {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Limit rejects requests over the per-address rate with 429.
func (l *IPLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				global.Fail(errs.RateLimitExceeded.WrapMsg("too many connection attempts")))
			return
		}
		c.Next()
	}
}
