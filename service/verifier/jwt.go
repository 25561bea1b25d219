package verifier

import (
	"context"
	"errors"

	"collabgate/tools/security"
)

type JWTConfig struct {
	Secret []byte
	Alg    string // HS256 (default), HS384, HS512
	Issuer string // optional
}

// JWTVerifier checks HMAC-signed access tokens locally with the shared
// project secret. It never talks to the network.
type JWTVerifier struct {
	opts security.Options
}

func NewJWT(c JWTConfig) (*JWTVerifier, error) {
	if len(c.Secret) == 0 {
		return nil, errors.New("jwt verifier: empty secret")
	}
	if _, err := security.SigningMethod(c.Alg); err != nil {
		return nil, err
	}
	return &JWTVerifier{opts: security.Options{Secret: c.Secret, Alg: c.Alg, Issuer: c.Issuer}}, nil
}

func (v *JWTVerifier) Name() string { return "jwt" }

func (v *JWTVerifier) Verify(_ context.Context, token string) (Claims, error) {
	c, err := security.Verify(v.opts, token)
	if err != nil {
		return Claims{}, rejected(err)
	}
	return Claims{
		UserID:      c.Subject,
		Email:       c.Email,
		Role:        c.Role,
		OrgID:       c.OrgID,
		Permissions: c.Permissions,
	}, nil
}
