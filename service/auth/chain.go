package auth

import (
	"context"

	"collabgate/logger"
	"collabgate/service/metrics"
	"collabgate/service/token"
	"collabgate/service/verifier"
	"collabgate/tools/errs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options selects the strategies of a chain. The direct user id strategy is
// only constructed when TrustDirectUserID is set.
type Options struct {
	Tokens            token.Store
	Verifier          verifier.Verifier
	Sessions          SessionResolver
	TrustDirectUserID bool
	Metrics           *metrics.Metrics
}

// Chain tries its strategies in order and stops at the first acceptance.
type Chain struct {
	strategies []Strategy
	m          *metrics.Metrics
	log        *zap.Logger
}

// NewChain orders the strategies by priority: one-time token, long-lived
// token, session, then direct user id when trusted.
func NewChain(o Options) *Chain {
	ss := []Strategy{
		OneTimeTokenStrategy{Tokens: o.Tokens},
		LongLivedTokenStrategy{Verifier: o.Verifier},
		SessionStrategy{Resolver: o.Sessions},
	}
	if o.TrustDirectUserID {
		ss = append(ss, DirectUserIDStrategy{})
	}
	c := WithStrategies(ss...)
	if o.Metrics != nil {
		c.m = o.Metrics
	}
	if o.TrustDirectUserID {
		c.log.Warn("direct userId authentication is enabled; do not use this in production")
	}
	return c
}

func WithStrategies(ss ...Strategy) *Chain {
	return &Chain{strategies: ss, m: metrics.Discard(), log: logger.Named("auth")}
}

func (c *Chain) Strategies() []string {
	out := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		out = append(out, s.Name())
	}
	return out
}

// Authenticate returns AuthenticationRequired when every strategy skipped and
// AuthenticationFailed when at least one rejected and none accepted.
func (c *Chain) Authenticate(ctx context.Context, p Payload) (*Identity, error) {
	var lastErr error
	for _, s := range c.strategies {
		id, out, err := s.Attempt(ctx, p)
		switch out {
		case Skipped:
			continue
		case Accepted:
			if id.SessionID == "" {
				id.SessionID = p.SessionID
			}
			if id.SessionID == "" {
				id.SessionID = uuid.NewString()
			}
			id.Strategy = s.Name()
			c.m.AuthTotal.WithLabelValues(s.Name(), out.String()).Inc()
			c.log.Info("authenticated", zap.String("strategy", s.Name()), zap.String("user_id", id.UserID))
			return &id, nil
		case Rejected:
			c.m.AuthTotal.WithLabelValues(s.Name(), out.String()).Inc()
			if errs.Has(err, errs.UpstreamUnavailable) {
				c.log.Error("identity provider unavailable during handshake", zap.String("strategy", s.Name()), zap.Error(err))
			} else {
				c.log.Info("strategy rejected", zap.String("strategy", s.Name()), zap.Error(err))
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		c.m.AuthTotal.WithLabelValues("none", Skipped.String()).Inc()
		return nil, errs.AuthenticationRequired.WrapMsg("no credentials supplied")
	}
	if errs.Has(lastErr, errs.AuthenticationFailed) {
		return nil, lastErr
	}
	return nil, errs.AuthenticationFailed.WrapMsg("authentication failed", "cause", errs.As(lastErr).Msg)
}
