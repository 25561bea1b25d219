// Package token holds short-lived, single-use credentials that let a client
// skip the identity provider for exactly one connection attempt.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"collabgate/tools/errs"
)

const (
	// DefaultTTL is how long an issued token stays redeemable.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepInterval is the reference cadence of the expiry sweep.
	DefaultSweepInterval = 5 * time.Minute

	entropyBytes = 32
)

// Token is an issued one-time credential.
type Token struct {
	Value     string
	UserID    string
	ExpiresAt time.Time
}

func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store issues and redeems one-time tokens.
//
// Redeem reports ok=false with a nil error for tokens that were never issued,
// were already redeemed or have expired; err is reserved for backend
// failures. Exactly one of any number of concurrent Redeem calls for the same
// value can succeed.
type Store interface {
	Issue(ctx context.Context, userID string) (Token, error)
	Redeem(ctx context.Context, value string) (userID string, ok bool, err error)
	Sweep(ctx context.Context) (removed int, err error)
}

func newValue() (string, error) {
	b := make([]byte, entropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errs.WrapMsg(err, "read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func checkUser(userID string) error {
	if userID == "" {
		return errs.InvalidArgument.WrapMsg("userId is empty")
	}
	return nil
}
