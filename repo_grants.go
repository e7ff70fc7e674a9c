package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PermissionGrants persists direct per-user permission grants.
type PermissionGrants interface {
	InsertTx(ctx context.Context, tx bun.IDB, grant *PermissionGrant) error
	ListByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*PermissionGrant, error)
	DeleteTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, permission string) (bool, error)
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error)
}

type permissionGrants struct{}

// NewPermissionGrantsRepository creates the bun backed repository.
func NewPermissionGrantsRepository() PermissionGrants {
	return permissionGrants{}
}

func (permissionGrants) InsertTx(ctx context.Context, tx bun.IDB, grant *PermissionGrant) error {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(grant).Exec(ctx); err != nil {
		if mapped := mapConstraintError(err); mapped != err {
			return mapped
		}
		return internal(err, "failed to grant permission")
	}
	return nil
}

func (permissionGrants) ListByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*PermissionGrant, error) {
	var records []*PermissionGrant
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("permission ASC").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, internal(err, "failed to list permission grants")
	}
	return records, nil
}

func (permissionGrants) DeleteTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, permission string) (bool, error) {
	res, err := tx.NewDelete().
		Model((*PermissionGrant)(nil)).
		Where("user_id = ?", userID).
		Where("permission = ?", permission).
		Exec(ctx)
	return affected(res, err, "failed to revoke permission")
}

func (permissionGrants) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	res, err := tx.NewDelete().
		Model((*PermissionGrant)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return count(res, err, "failed to delete permission grants")
}
