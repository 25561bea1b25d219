package token

import (
	"context"
	"sync"
	"time"

	"collabgate/logger"
	"go.uber.org/zap"
)

// MemoryConf configures a process-local store.
type MemoryConf struct {
	TTL           time.Duration    // token lifetime (default 5m)
	SweepInterval time.Duration    // sweep cadence for Run (default 5m)
	Clock         func() time.Time // injectable clock for tests; nil => time.Now
}

func (c *MemoryConf) norm() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// MemoryStore keeps tokens in a mutex-guarded map. It is constructed once at
// gateway startup; Run owns the background sweep and returns when ctx is done.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]Token
	conf   MemoryConf
	log    *zap.Logger
}

func NewMemoryStore(conf MemoryConf) *MemoryStore {
	conf.norm()
	return &MemoryStore{
		tokens: make(map[string]Token),
		conf:   conf,
		log:    logger.Named("token"),
	}
}

func (s *MemoryStore) Issue(_ context.Context, userID string) (Token, error) {
	if err := checkUser(userID); err != nil {
		return Token{}, err
	}
	v, err := newValue()
	if err != nil {
		return Token{}, err
	}
	t := Token{Value: v, UserID: userID, ExpiresAt: s.conf.Clock().Add(s.conf.TTL)}

	s.mu.Lock()
	s.tokens[v] = t
	s.mu.Unlock()

	s.log.Info("issued one-time token", zap.String("user_id", userID), zap.Time("expires_at", t.ExpiresAt))
	return t, nil
}

// Redeem checks and removes the token inside one critical section.
func (s *MemoryStore) Redeem(_ context.Context, value string) (string, bool, error) {
	if value == "" {
		return "", false, nil
	}
	now := s.conf.Clock()

	s.mu.Lock()
	t, ok := s.tokens[value]
	if ok {
		delete(s.tokens, value)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Warn("unknown one-time token", zap.String("token", logger.TokenPrefix(value)))
		return "", false, nil
	}
	if t.Expired(now) {
		s.log.Warn("expired one-time token", zap.String("token", logger.TokenPrefix(value)), zap.String("user_id", t.UserID))
		return "", false, nil
	}
	s.log.Info("one-time token redeemed", zap.String("user_id", t.UserID))
	return t.UserID, true, nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.conf.Clock()
	n := 0
	s.mu.Lock()
	for v, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, v)
			n++
		}
	}
	s.mu.Unlock()
	return n, nil
}

// Len is the number of stored tokens, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Run sweeps expired tokens every SweepInterval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context) error {
	t := time.NewTicker(s.conf.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n, _ := s.Sweep(ctx); n > 0 {
				s.log.Debug("swept expired one-time tokens", zap.Int("removed", n))
			}
		}
	}
}
