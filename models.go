package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PendingRegistration holds an unverified signup until the activation code
// is confirmed or the record expires.
type PendingRegistration struct {
	bun.BaseModel `bun:"table:pending_registrations,alias:pr"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Email        string    `bun:"email,notnull" json:"email"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`
	Name         string    `bun:"name,notnull" json:"name"`
	CodeHash     string    `bun:"code_hash,notnull" json:"-"`
	Attempts     int       `bun:"attempts,notnull" json:"attempts"`
	ExpiresAt    time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Expired reports whether the record is past its expiry at now.
func (p *PendingRegistration) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// User is the account aggregate.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID                 uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email              string     `bun:"email,notnull" json:"email"`
	PasswordHash       *string    `bun:"password_hash" json:"-"`
	Name               string     `bun:"name,notnull" json:"name"`
	Role               string     `bun:"role,notnull" json:"role"`
	IsVerified         bool       `bun:"is_verified,notnull" json:"is_verified"`
	LinkedProviders    []Provider `bun:"linked_providers,notnull" json:"linked_providers"`
	PrimaryProvider    *Provider  `bun:"primary_provider" json:"primary_provider,omitempty"`
	GoogleID           *string    `bun:"google_id" json:"-"`
	FacebookID         *string    `bun:"facebook_id" json:"-"`
	GitHubID           *string    `bun:"github_id" json:"-"`
	ProfileSyncedAt    *time.Time `bun:"profile_synced_at" json:"profile_synced_at,omitempty"`
	LastSyncedProvider *Provider  `bun:"last_synced_provider" json:"last_synced_provider,omitempty"`
	LastLoginAt        *time.Time `bun:"last_login_at" json:"last_login_at,omitempty"`
	Version            int64      `bun:"version,notnull" json:"-"`
	CreatedAt          time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	DeletedAt          time.Time  `bun:"deleted_at,soft_delete,nullzero" json:"-"`
}

// HasPassword reports whether the account can sign in with email/password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// IsLinked reports whether provider is in the linked set.
func (u *User) IsLinked(p Provider) bool {
	for _, lp := range u.LinkedProviders {
		if lp == p {
			return true
		}
	}
	return false
}

// Session is one signed-in device.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`

	ID               string    `bun:"id,pk" json:"id"`
	UserID           uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id"`
	RefreshTokenHash string    `bun:"refresh_token_hash,notnull" json:"-"`
	UserAgent        string    `bun:"user_agent,notnull" json:"user_agent"`
	IP               string    `bun:"ip,notnull" json:"ip"`
	DeviceName       string    `bun:"device_name,notnull" json:"device_name"`
	IsValid          bool      `bun:"is_valid,notnull" json:"is_valid"`
	LastUsedAt       time.Time `bun:"last_used_at,notnull" json:"last_used_at"`
	ExpiresAt        time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt        time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Active reports whether the session can still be used at now.
func (s *Session) Active(now time.Time) bool {
	return s.IsValid && now.Before(s.ExpiresAt)
}

// Role is a named permission set.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rl"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Name         string    `bun:"name,notnull" json:"name"`
	Slug         string    `bun:"slug,notnull" json:"slug"`
	Description  string    `bun:"description,notnull" json:"description"`
	IsSystemRole bool      `bun:"is_system_role,notnull" json:"is_system_role"`
	IsProtected  bool      `bun:"is_protected,notnull" json:"is_protected"`
	Permissions  []string  `bun:"permissions,notnull" json:"permissions"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// PermissionGrant is a per-user permission override.
type PermissionGrant struct {
	bun.BaseModel `bun:"table:permission_grants,alias:grt"`

	ID         uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID     uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Permission string     `bun:"permission,notnull" json:"permission"`
	Granted    bool       `bun:"granted,notnull" json:"granted"`
	Scope      string     `bun:"scope,notnull" json:"scope,omitempty"`
	ExpiresAt  *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
	GrantedBy  *uuid.UUID `bun:"granted_by,type:uuid" json:"granted_by,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Effective reports whether the grant contributes to the effective set at now.
func (g *PermissionGrant) Effective(now time.Time) bool {
	return g.Granted && (g.ExpiresAt == nil || now.Before(*g.ExpiresAt))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
