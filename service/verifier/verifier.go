// Package verifier checks long-lived credentials issued by the identity
// provider and turns them into claims the gateway understands.
package verifier

import (
	"context"
	"errors"
	"net"
	"strings"

	"collabgate/global"
	"collabgate/tools/errs"
)

// Claims is what a verified credential tells us about its holder.
type Claims struct {
	UserID      string
	Email       string
	Role        string
	OrgID       string
	Permissions []string
}

// Verifier returns AuthenticationFailed for credentials that are malformed,
// expired or badly signed, and UpstreamUnavailable when the provider could
// not be reached.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
	Name() string
}

// New builds the verifier selected by cfg.Verifier. It returns nil, nil for
// "none", which leaves long-lived tokens unsupported.
func New(ctx context.Context, cfg *global.AppConfig) (Verifier, error) {
	switch cfg.Verifier {
	case global.VerifierNone:
		return nil, nil
	case global.VerifierOIDC:
		v, err := NewOIDC(ctx, OIDCConfig{
			Issuer:   cfg.OIDCIssuer,
			JWKSURL:  cfg.OIDCJWKSURL,
			Audience: cfg.OIDCAudience,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		v, err := NewJWT(JWTConfig{
			Secret: []byte(cfg.JWTSecret),
			Alg:    cfg.JWTAlg,
			Issuer: cfg.JWTIssuer,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func rejected(err error) error {
	return errs.AuthenticationFailed.WrapMsg("credential rejected", "err", err)
}

func unreachable(err error) error {
	return errs.UpstreamUnavailable.WrapMsg("identity provider unreachable", "err", err)
}

// isTransport tells a network failure from a verification failure. go-oidc
// flattens the key fetch error into a string, hence the message check.
func isTransport(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "fetching keys") || strings.Contains(msg, "get keys failed")
}
