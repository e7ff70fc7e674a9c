package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are carried by access tokens. SessionID ties the token to a
// Session so logout and revocation take effect before the token expires.
type AccessClaims struct {
	jwt.RegisteredClaims
	UID       string `json:"uid"`
	UserRole  string `json:"role,omitempty"`
	SessionID string `json:"sid"`
}

// UserID returns the user id claim, falling back to the subject.
func (c *AccessClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

// Role returns the role slug at issue time.
func (c *AccessClaims) Role() string {
	return c.UserRole
}

// Expires returns the expiration time, or the zero time when unset.
func (c *AccessClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
