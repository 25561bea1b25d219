package verifier

import (
	"context"
	"errors"
	"sync"

	"collabgate/tools/errs"
	"github.com/coreos/go-oidc/v3/oidc"
)

type OIDCConfig struct {
	Issuer   string
	JWKSURL  string // when empty the keys are found through discovery on Issuer
	Audience string // when empty the audience is not checked
}

// OIDCVerifier validates RS/ES signed access tokens against the provider's
// published key set. Keys are fetched lazily and cached by go-oidc. Without a
// JWKS URL, discovery runs on the first Verify and is retried until it
// succeeds, so a provider outage only fails the attempts made during it.
type OIDCVerifier struct {
	issuer string
	conf   *oidc.Config

	mu sync.Mutex
	v  *oidc.IDTokenVerifier
}

type oidcClaims struct {
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	OrgID       string   `json:"org_id"`
	Permissions []string `json:"permissions"`
}

func NewOIDC(ctx context.Context, c OIDCConfig) (*OIDCVerifier, error) {
	if c.Issuer == "" {
		return nil, errors.New("oidc verifier: empty issuer")
	}
	conf := &oidc.Config{
		ClientID:          c.Audience,
		SkipClientIDCheck: c.Audience == "",
	}
	v := &OIDCVerifier{issuer: c.Issuer, conf: conf}
	if c.JWKSURL != "" {
		// the key set keeps ctx for its background fetches
		v.v = oidc.NewVerifier(c.Issuer, oidc.NewRemoteKeySet(ctx, c.JWKSURL), conf)
	}
	return v, nil
}

// verifier returns the token verifier, running discovery if it has not
// succeeded yet.
func (v *OIDCVerifier) verifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.v != nil {
		return v.v, nil
	}
	p, err := oidc.NewProvider(ctx, v.issuer)
	if err != nil {
		return nil, errs.UpstreamUnavailable.WrapMsg("oidc discovery", "issuer", v.issuer, "err", err)
	}
	v.v = p.Verifier(v.conf)
	return v.v, nil
}

func (v *OIDCVerifier) Name() string { return "oidc" }

func (v *OIDCVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	tv, err := v.verifier(ctx)
	if err != nil {
		return Claims{}, err
	}
	idt, err := tv.Verify(ctx, token)
	if err != nil {
		if isTransport(err) {
			return Claims{}, unreachable(err)
		}
		return Claims{}, rejected(err)
	}
	var extra oidcClaims
	if err := idt.Claims(&extra); err != nil {
		return Claims{}, rejected(err)
	}
	if idt.Subject == "" {
		return Claims{}, rejected(errors.New("token has no subject"))
	}
	return Claims{
		UserID:      idt.Subject,
		Email:       extra.Email,
		Role:        extra.Role,
		OrgID:       extra.OrgID,
		Permissions: extra.Permissions,
	}, nil
}
