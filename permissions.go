package identity

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WildcardPermission grants every permission.
const WildcardPermission = "*"

var permissionPattern = regexp.MustCompile(`^[a-z0-9_-]+:[a-z0-9_-]+(:[a-z0-9_-]+)?$`)

// Permission is the parsed form of resource:action[:scope]. It is only
// used for grouping; checks always compare the raw string.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Scope    string `json:"scope,omitempty"`
}

func (p Permission) String() string {
	if p.Resource == WildcardPermission {
		return WildcardPermission
	}
	s := p.Resource + ":" + p.Action
	if p.Scope != "" {
		s += ":" + p.Scope
	}
	return s
}

// IsWildcard reports whether p is the sentinel granting everything.
func (p Permission) IsWildcard() bool {
	return p.Resource == WildcardPermission
}

var permissionRules = []validation.Rule{
	validation.Required,
	validation.Length(1, 128),
	validation.Match(permissionPattern),
}

// ValidatePermission returns ErrInvalidPermission for malformed strings.
func ValidatePermission(permission string) error {
	if permission == WildcardPermission {
		return nil
	}
	if err := validation.Validate(permission, permissionRules...); err != nil {
		return ErrInvalidPermission
	}
	return nil
}

// ParsePermission splits a permission string into its parts.
func ParsePermission(permission string) (Permission, error) {
	if err := ValidatePermission(permission); err != nil {
		return Permission{}, err
	}
	if permission == WildcardPermission {
		return Permission{Resource: WildcardPermission}, nil
	}
	parts := strings.Split(permission, ":")
	p := Permission{Resource: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		p.Scope = parts[2]
	}
	return p, nil
}

// GroupPermissions indexes permissions by resource for display.
func GroupPermissions(permissions []string) map[string][]Permission {
	out := map[string][]Permission{}
	for _, raw := range permissions {
		p, err := ParsePermission(raw)
		if err != nil {
			continue
		}
		out[p.Resource] = append(out[p.Resource], p)
	}
	return out
}

// PermissionSet is an effective permission set.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from one or more permission lists.
func NewPermissionSet(lists ...[]string) PermissionSet {
	set := PermissionSet{}
	for _, list := range lists {
		for _, p := range list {
			if p != "" {
				set[p] = struct{}{}
			}
		}
	}
	return set
}

// Has reports whether permission is granted. The wildcard satisfies any
// request; otherwise only an exact match does.
func (s PermissionSet) Has(permission string) bool {
	if _, ok := s[WildcardPermission]; ok {
		return true
	}
	_, ok := s[permission]
	return ok
}

// Slice returns the sorted permissions.
func (s PermissionSet) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// GrantOptions qualifies a direct grant.
type GrantOptions struct {
	Scope     string
	ExpiresAt *time.Time
	GrantedBy *uuid.UUID
}

// PermissionService resolves and manages permissions.
type PermissionService struct {
	repo     RepositoryManager
	clock    Clock
	logger   Logger
	activity ActivitySink
}

// PermissionOption configures a PermissionService.
type PermissionOption func(*PermissionService)

func WithPermissionClock(c Clock) PermissionOption {
	return func(s *PermissionService) {
		s.clock = c
	}
}

func WithPermissionLogger(l Logger) PermissionOption {
	return func(s *PermissionService) {
		s.logger = l
	}
}

func WithPermissionActivitySink(sink ActivitySink) PermissionOption {
	return func(s *PermissionService) {
		s.activity = sink
	}
}

// NewPermissionService builds the service.
func NewPermissionService(repo RepositoryManager, opts ...PermissionOption) *PermissionService {
	s := &PermissionService{repo: repo}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.clock = normalizeClock(s.clock)
	s.logger = normalizeLogger(s.logger)
	return s
}

func (s *PermissionService) recorder() activityRecorder {
	return activityRecorder{sink: s.activity, logger: s.logger, clock: s.clock}
}

// resolve loads the role and direct grants of a user in one read
// transaction.
func (s *PermissionService) resolve(ctx context.Context, userID uuid.UUID) (PermissionSet, []string, error) {
	var rolePerms, direct []string
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		role, err := s.repo.Roles().FindBySlugTx(ctx, tx, user.Role)
		switch {
		case err == nil:
			rolePerms = role.Permissions
		case errors.Is(err, ErrRoleNotFound):
			s.logger.Warn("user %s references missing role %q", user.ID, user.Role)
		default:
			return err
		}

		grants, err := s.repo.PermissionGrants().ListByUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.clock()
		for _, g := range grants {
			if g.Effective(now) {
				direct = append(direct, g.Permission)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, settle(err, "failed to resolve permissions")
	}
	return NewPermissionSet(rolePerms, direct), rolePerms, nil
}

// EffectivePermissions returns the union of role and direct permissions.
func (s *PermissionService) EffectivePermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	ctx, cancel, err := begin(ctx, "permission resolution")
	if err != nil {
		return nil, err
	}
	defer cancel()

	set, _, err := s.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.Slice(), nil
}

// HasPermission checks permission against the effective set.
func (s *PermissionService) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	ctx, cancel, err := begin(ctx, "permission check")
	if err != nil {
		return false, err
	}
	defer cancel()

	set, _, err := s.resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(permission), nil
}

// GrantPermission attaches permission directly to the user.
func (s *PermissionService) GrantPermission(ctx context.Context, userID uuid.UUID, permission string, opts GrantOptions) (*PermissionGrant, error) {
	ctx, cancel, err := begin(ctx, "permission grant")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := ValidatePermission(permission); err != nil {
		return nil, err
	}

	grant := &PermissionGrant{
		UserID:     userID,
		Permission: permission,
		Granted:    true,
		Scope:      opts.Scope,
		ExpiresAt:  opts.ExpiresAt,
		GrantedBy:  opts.GrantedBy,
		CreatedAt:  s.clock(),
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.Users().GetUserTx(ctx, tx, userID); err != nil {
			return err
		}
		return s.repo.PermissionGrants().InsertTx(ctx, tx, grant)
	})
	if err != nil {
		return nil, settle(err, "permission grant transaction failed")
	}

	s.recorder().record(ctx, ActivityPermissionGranted, ActorFromContext(ctx), userID.String(), map[string]any{
		"permission": permission,
		"scope":      opts.Scope,
	})
	return grant, nil
}

// RevokePermission removes a direct grant. Role permissions cannot be
// revoked this way.
func (s *PermissionService) RevokePermission(ctx context.Context, userID uuid.UUID, permission string) error {
	ctx, cancel, err := begin(ctx, "permission revoke")
	if err != nil {
		return err
	}
	defer cancel()

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		deleted, err := s.repo.PermissionGrants().DeleteTx(ctx, tx, userID, permission)
		if err != nil {
			return err
		}
		if deleted {
			return nil
		}

		role, err := s.repo.Roles().FindBySlugTx(ctx, tx, user.Role)
		if err != nil && !errors.Is(err, ErrRoleNotFound) {
			return err
		}
		if role != nil && NewPermissionSet(role.Permissions).Has(permission) {
			return ErrCannotRevokeInheritedPermission
		}
		return ErrPermissionNotFound
	})
	if err != nil {
		return settle(err, "permission revoke transaction failed")
	}

	s.recorder().record(ctx, ActivityPermissionRevoked, ActorFromContext(ctx), userID.String(), map[string]any{
		"permission": permission,
	})
	return nil
}

// ListGrants returns the direct grants of a user, expired ones included.
func (s *PermissionService) ListGrants(ctx context.Context, userID uuid.UUID) ([]*PermissionGrant, error) {
	ctx, cancel, err := begin(ctx, "permission grant listing")
	if err != nil {
		return nil, err
	}
	defer cancel()

	db := s.repo.DB()
	if _, err := s.repo.Users().GetUserTx(ctx, db, userID); err != nil {
		return nil, err
	}
	return s.repo.PermissionGrants().ListByUserTx(ctx, db, userID)
}
