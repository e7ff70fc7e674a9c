package identity

import (
	"context"
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	// DefaultRoleSlug is assigned to new accounts.
	DefaultRoleSlug = "user"
	// AdminRoleSlug holds the wildcard permission.
	AdminRoleSlug = "admin"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// SystemRoles are created by SeedSystemRoles.
func SystemRoles() []*Role {
	return []*Role{
		{
			Name:         "Administrator",
			Slug:         AdminRoleSlug,
			Description:  "Full access",
			IsSystemRole: true,
			IsProtected:  true,
			Permissions:  []string{WildcardPermission},
		},
		{
			Name:         "User",
			Slug:         DefaultRoleSlug,
			Description:  "Default role for new accounts",
			IsSystemRole: true,
			IsProtected:  true,
			Permissions:  []string{},
		},
	}
}

// RoleInput creates or updates a role. Nil fields are left unchanged on
// update.
type RoleInput struct {
	Name        *string  `json:"name"`
	Slug        string   `json:"slug"`
	Description *string  `json:"description"`
	Permissions []string `json:"permissions"`
}

func (r RoleInput) validate(creating bool) error {
	rules := []*validation.FieldRules{
		validation.Field(&r.Permissions, validation.Each(validation.By(func(v any) error {
			s, _ := v.(string)
			if ValidatePermission(s) != nil {
				return validation.NewError("validation_invalid_permission", "must be * or resource:action[:scope]")
			}
			return nil
		}))),
	}
	if creating {
		rules = append(rules,
			validation.Field(&r.Slug, validation.Required, validation.Length(2, 64), validation.Match(slugPattern)),
			validation.Field(&r.Name, validation.Required, validation.Length(1, 80)),
		)
	} else {
		rules = append(rules, validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, 80)))
	}
	if err := validation.ValidateStruct(&r, rules...); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid role")
	}
	return nil
}

// RoleService manages the role catalog and role assignment.
type RoleService struct {
	repo     RepositoryManager
	clock    Clock
	logger   Logger
	activity ActivitySink
}

// RoleOption configures a RoleService.
type RoleOption func(*RoleService)

func WithRoleClock(c Clock) RoleOption {
	return func(s *RoleService) {
		s.clock = c
	}
}

func WithRoleLogger(l Logger) RoleOption {
	return func(s *RoleService) {
		s.logger = l
	}
}

func WithRoleActivitySink(sink ActivitySink) RoleOption {
	return func(s *RoleService) {
		s.activity = sink
	}
}

// NewRoleService builds the service.
func NewRoleService(repo RepositoryManager, opts ...RoleOption) *RoleService {
	s := &RoleService{repo: repo}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.clock = normalizeClock(s.clock)
	s.logger = normalizeLogger(s.logger)
	return s
}

// SeedSystemRoles creates missing system roles. Existing rows are kept.
func (s *RoleService) SeedSystemRoles(ctx context.Context) error {
	ctx, cancel, err := begin(ctx, "system role seeding")
	if err != nil {
		return err
	}
	defer cancel()

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, role := range SystemRoles() {
			_, err := s.repo.Roles().FindBySlugTx(ctx, tx, role.Slug)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrRoleNotFound) {
				return err
			}
			now := s.clock()
			role.CreatedAt, role.UpdatedAt = now, now
			if err := s.repo.Roles().InsertTx(ctx, tx, role); err != nil {
				return err
			}
			s.logger.Info("seeded system role %s", role.Slug)
		}
		return nil
	})
	return settle(err, "system role seeding failed")
}

// CreateRole adds a custom role.
func (s *RoleService) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	ctx, cancel, err := begin(ctx, "role creation")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := in.validate(true); err != nil {
		return nil, err
	}

	now := s.clock()
	role := &Role{
		Name:        *in.Name,
		Slug:        in.Slug,
		Permissions: NewPermissionSet(in.Permissions).Slice(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Description != nil {
		role.Description = *in.Description
	}

	if err := s.repo.Roles().InsertTx(ctx, s.repo.DB(), role); err != nil {
		return nil, err
	}
	return role, nil
}

// GetRole loads a role by slug.
func (s *RoleService) GetRole(ctx context.Context, slug string) (*Role, error) {
	ctx, cancel, err := begin(ctx, "role lookup")
	if err != nil {
		return nil, err
	}
	defer cancel()

	return s.repo.Roles().FindBySlugTx(ctx, s.repo.DB(), slug)
}

// ListRoles returns system roles first, then custom roles by slug.
func (s *RoleService) ListRoles(ctx context.Context) ([]*Role, error) {
	ctx, cancel, err := begin(ctx, "role listing")
	if err != nil {
		return nil, err
	}
	defer cancel()

	return s.repo.Roles().ListRolesTx(ctx, s.repo.DB())
}

// UpdateRole edits a role. Protected roles accept permission and
// description edits but cannot be renamed.
func (s *RoleService) UpdateRole(ctx context.Context, slug string, in RoleInput) (*Role, error) {
	ctx, cancel, err := begin(ctx, "role update")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := in.validate(false); err != nil {
		return nil, err
	}

	var role *Role
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		role, err = s.repo.Roles().FindBySlugTx(ctx, tx, slug)
		if err != nil {
			return err
		}

		renaming := (in.Name != nil && *in.Name != role.Name) || (in.Slug != "" && in.Slug != role.Slug)
		if renaming && role.IsProtected {
			return ErrProtectedRole
		}
		if in.Slug != "" && in.Slug != role.Slug {
			return goerrors.New("role slug cannot be changed", goerrors.CategoryValidation).
				WithCode(goerrors.CodeBadRequest).
				WithMetadata(map[string]any{"slug": role.Slug})
		}

		columns := []string{}
		if in.Name != nil {
			role.Name = *in.Name
			columns = append(columns, "name")
		}
		if in.Description != nil {
			role.Description = *in.Description
			columns = append(columns, "description")
		}
		if in.Permissions != nil {
			role.Permissions = NewPermissionSet(in.Permissions).Slice()
			columns = append(columns, "permissions")
		}
		if len(columns) == 0 {
			return nil
		}
		role.UpdatedAt = s.clock()
		return s.repo.Roles().SaveTx(ctx, tx, role, columns...)
	})
	if err != nil {
		return nil, settle(err, "role update transaction failed")
	}
	return role, nil
}

// DeleteRole removes an unprotected role that no user holds.
func (s *RoleService) DeleteRole(ctx context.Context, slug string) error {
	ctx, cancel, err := begin(ctx, "role deletion")
	if err != nil {
		return err
	}
	defer cancel()

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		role, err := s.repo.Roles().FindBySlugTx(ctx, tx, slug)
		if err != nil {
			return err
		}
		if role.IsProtected {
			return ErrProtectedRole
		}
		n, err := s.repo.Users().CountByRoleTx(ctx, tx, slug)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrRoleInUse
		}
		return s.repo.Roles().DeleteBySlugTx(ctx, tx, slug)
	})
	return settle(err, "role deletion transaction failed")
}

// AssignRole sets the role of a user.
func (s *RoleService) AssignRole(ctx context.Context, userID uuid.UUID, slug string) (*User, error) {
	ctx, cancel, err := begin(ctx, "role assignment")
	if err != nil {
		return nil, err
	}
	defer cancel()

	var user *User
	var previous string
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.Roles().FindBySlugTx(ctx, tx, slug); err != nil {
			return err
		}
		user, err = s.repo.Users().GetUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		previous = user.Role
		if previous == slug {
			return nil
		}
		now := s.clock()
		if err := s.repo.Users().SetRoleTx(ctx, tx, userID, slug, now); err != nil {
			return err
		}
		user.Role = slug
		user.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, settle(err, "role assignment transaction failed")
	}

	if previous != slug {
		s.recorder().record(ctx, ActivityRoleChanged, ActorFromContext(ctx), userID.String(), map[string]any{
			"from": previous,
			"to":   slug,
		})
	}
	return user, nil
}

func (s *RoleService) recorder() activityRecorder {
	return activityRecorder{sink: s.activity, logger: s.logger, clock: s.clock}
}
