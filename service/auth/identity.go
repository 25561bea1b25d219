// Package auth turns a handshake payload into an authenticated identity by
// trying an ordered list of strategies.
package auth

import (
	"slices"

	"collabgate/tools/errs"
)

// Payload is what a client presents when it connects. Every field is
// optional; the chain decides which one to honour.
type Payload struct {
	Token        string `json:"token,omitempty" mapstructure:"token"`
	OneTimeToken string `json:"oneTimeToken,omitempty" mapstructure:"oneTimeToken"`
	SessionID    string `json:"sessionId,omitempty" mapstructure:"sessionId"`
	UserID       string `json:"userId,omitempty" mapstructure:"userId"`
}

func (p Payload) Empty() bool {
	return p.Token == "" && p.OneTimeToken == "" && p.SessionID == "" && p.UserID == ""
}

// Identity is attached to a connection once the handshake succeeds.
type Identity struct {
	UserID      string   `json:"userId"`
	SessionID   string   `json:"sessionId"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	OrgID       string   `json:"orgId,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Strategy    string   `json:"-"`
}

func (i *Identity) HasPermission(p string) bool {
	return i != nil && slices.Contains(i.Permissions, p)
}

func (i *Identity) HasRole(roles ...string) bool {
	return i != nil && i.Role != "" && slices.Contains(roles, i.Role)
}

// RequirePermission fails with PermissionDenied unless id holds p.
func RequirePermission(id *Identity, p string) error {
	if id == nil {
		return errs.AuthenticationRequired.Wrap()
	}
	if !id.HasPermission(p) {
		return errs.PermissionDenied.WrapMsg("missing permission", "permission", p)
	}
	return nil
}

// RequireRole fails with RoleMismatch unless id has one of roles.
func RequireRole(id *Identity, roles ...string) error {
	if id == nil {
		return errs.AuthenticationRequired.Wrap()
	}
	if !id.HasRole(roles...) {
		return errs.RoleMismatch.WrapMsg("role not allowed", "role", id.Role, "want", roles)
	}
	return nil
}

// State of one handshake. StatePending moves to exactly one terminal state.
type State int32

const (
	StatePending State = iota
	StateAuthenticated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "pending"
	}
}
