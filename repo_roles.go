package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Roles persists the role catalog.
type Roles interface {
	repository.Repository[*Role]

	FindBySlugTx(ctx context.Context, tx bun.IDB, slug string) (*Role, error)
	ListRolesTx(ctx context.Context, tx bun.IDB) ([]*Role, error)
	InsertTx(ctx context.Context, tx bun.IDB, role *Role) error
	SaveTx(ctx context.Context, tx bun.IDB, role *Role, columns ...string) error
	DeleteBySlugTx(ctx context.Context, tx bun.IDB, slug string) error
}

type roles struct {
	repository.Repository[*Role]
}

var _ Roles = (*roles)(nil)

// NewRolesRepository creates the bun backed Roles repository.
func NewRolesRepository(db *bun.DB) Roles {
	return &roles{
		Repository: repository.NewRepository[*Role](db, repository.ModelHandlers[*Role]{
			NewRecord: func() *Role { return &Role{} },
			GetID: func(r *Role) uuid.UUID {
				if r == nil {
					return uuid.Nil
				}
				return r.ID
			},
			SetID: func(r *Role, id uuid.UUID) {
				if r != nil {
					r.ID = id
				}
			},
			GetIdentifier: func() string {
				return "slug"
			},
		}),
	}
}

func (r *roles) FindBySlugTx(ctx context.Context, tx bun.IDB, slug string) (*Role, error) {
	record, err := r.Repository.GetByIdentifierTx(ctx, tx, slug)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRoleNotFound
		}
		return nil, internal(err, "failed to load role")
	}
	return record, nil
}

func (r *roles) ListRolesTx(ctx context.Context, tx bun.IDB) ([]*Role, error) {
	var records []*Role
	err := tx.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.is_system_role DESC, ?TableAlias.slug ASC").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, internal(err, "failed to list roles")
	}
	return records, nil
}

func (r *roles) InsertTx(ctx context.Context, tx bun.IDB, role *Role) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	if _, err := tx.NewInsert().Model(role).Exec(ctx); err != nil {
		if mapped := mapConstraintError(err); mapped != err {
			return mapped
		}
		return internal(err, "failed to create role")
	}
	return nil
}

func (r *roles) SaveTx(ctx context.Context, tx bun.IDB, role *Role, columns ...string) error {
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	res, err := tx.NewUpdate().
		Model(role).
		Column(append(columns, "updated_at")...).
		Where("id = ?", role.ID).
		Exec(ctx)
	if err != nil {
		if mapped := mapConstraintError(err); mapped != err {
			return mapped
		}
		return internal(err, "failed to update role")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

func (r *roles) DeleteBySlugTx(ctx context.Context, tx bun.IDB, slug string) error {
	res, err := tx.NewDelete().
		Model((*Role)(nil)).
		Where("slug = ?", slug).
		Exec(ctx)
	if err != nil {
		return internal(err, "failed to delete role")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRoleNotFound
	}
	return nil
}
