package auth

import (
	"context"

	"collabgate/logger"
	"collabgate/service/token"
	"collabgate/service/verifier"
	"collabgate/tools/errs"
	"go.uber.org/zap"
)

// Outcome of a single strategy attempt.
type Outcome int

const (
	// Skipped means the strategy had nothing to work with.
	Skipped Outcome = iota
	Accepted
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "skipped"
	}
}

// Strategy inspects a payload. A Rejected outcome carries the reason in err.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, p Payload) (Identity, Outcome, error)
}

// SessionResolver maps a session id to an identity. ok=false means the session
// is unknown.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (id Identity, ok bool, err error)
}

type OneTimeTokenStrategy struct {
	Tokens token.Store
}

func (OneTimeTokenStrategy) Name() string { return "one_time_token" }

func (s OneTimeTokenStrategy) Attempt(ctx context.Context, p Payload) (Identity, Outcome, error) {
	if p.OneTimeToken == "" || s.Tokens == nil {
		return Identity{}, Skipped, nil
	}
	uid, ok, err := s.Tokens.Redeem(ctx, p.OneTimeToken)
	if err != nil {
		return Identity{}, Rejected, err
	}
	if !ok {
		return Identity{}, Rejected, errs.AuthenticationFailed.WrapMsg("one-time token invalid or expired")
	}
	return Identity{UserID: uid}, Accepted, nil
}

type LongLivedTokenStrategy struct {
	Verifier verifier.Verifier
}

func (LongLivedTokenStrategy) Name() string { return "token" }

func (s LongLivedTokenStrategy) Attempt(ctx context.Context, p Payload) (Identity, Outcome, error) {
	if p.Token == "" || s.Verifier == nil {
		return Identity{}, Skipped, nil
	}
	c, err := s.Verifier.Verify(ctx, p.Token)
	if err != nil {
		return Identity{}, Rejected, err
	}
	return Identity{
		UserID:      c.UserID,
		Email:       c.Email,
		Role:        c.Role,
		OrgID:       c.OrgID,
		Permissions: c.Permissions,
	}, Accepted, nil
}

// SessionStrategy skips when no resolver is configured.
type SessionStrategy struct {
	Resolver SessionResolver
}

func (SessionStrategy) Name() string { return "session" }

func (s SessionStrategy) Attempt(ctx context.Context, p Payload) (Identity, Outcome, error) {
	if p.SessionID == "" {
		return Identity{}, Skipped, nil
	}
	if s.Resolver == nil {
		logger.Debug("session id supplied but no session resolver is configured", zap.String("strategy", s.Name()))
		return Identity{}, Skipped, nil
	}
	id, ok, err := s.Resolver.Resolve(ctx, p.SessionID)
	if err != nil {
		return Identity{}, Rejected, err
	}
	if !ok || id.UserID == "" {
		return Identity{}, Rejected, errs.AuthenticationFailed.WrapMsg("unknown session")
	}
	id.SessionID = p.SessionID
	return id, Accepted, nil
}

// DirectUserIDStrategy trusts the userId field as is. It must only be placed
// in a chain for trusted, non-production deployments.
type DirectUserIDStrategy struct{}

func (DirectUserIDStrategy) Name() string { return "direct_user_id" }

func (DirectUserIDStrategy) Attempt(_ context.Context, p Payload) (Identity, Outcome, error) {
	if p.UserID == "" {
		return Identity{}, Skipped, nil
	}
	return Identity{UserID: p.UserID}, Accepted, nil
}
