package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

var schemaModels = []any{
	(*PendingRegistration)(nil),
	(*User)(nil),
	(*Session)(nil),
	(*Role)(nil),
	(*PermissionGrant)(nil),
}

var lookupIndexes = []struct {
	name    string
	model   any
	columns []string
}{
	{name: "ix_sessions_user_id", model: (*Session)(nil), columns: []string{"user_id", "is_valid"}},
	{name: "ix_sessions_expires_at", model: (*Session)(nil), columns: []string{"expires_at"}},
	{name: "ix_pending_registrations_expires_at", model: (*PendingRegistration)(nil), columns: []string{"expires_at"}},
	{name: "ix_users_role", model: (*User)(nil), columns: []string{"role"}},
}

// CreateSchema creates tables and indexes when they do not exist. It is
// safe to run on every start.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range schemaModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
		}
	}

	for _, idx := range uniqueIndexes {
		q := db.NewCreateIndex().
			Unique().
			IfNotExists().
			Table(idx.table).
			Index(idx.name).
			Column(idx.columns...)
		if idx.where != "" {
			q = q.Where(idx.where)
		}
		if _, err := q.Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index "+idx.name)
		}
	}

	for _, idx := range lookupIndexes {
		_, err := db.NewCreateIndex().
			IfNotExists().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index "+idx.name)
		}
	}
	return nil
}
