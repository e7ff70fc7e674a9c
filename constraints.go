package identity

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// uniqueIndex describes a unique index and the domain error its violation
// maps to.
type uniqueIndex struct {
	name    string
	table   string
	columns []string
	where   string
	err     error
}

var uniqueIndexes = []uniqueIndex{
	{name: "ux_pending_registrations_email", table: "pending_registrations", columns: []string{"email"}, err: ErrEmailAlreadyRegistered},
	{name: "ux_users_email", table: "users", columns: []string{"email"}, where: "deleted_at IS NULL", err: ErrEmailAlreadyRegistered},
	{name: "ux_users_google_id", table: "users", columns: []string{"google_id"}, err: ErrProviderLinkedToOtherAccount},
	{name: "ux_users_facebook_id", table: "users", columns: []string{"facebook_id"}, err: ErrProviderLinkedToOtherAccount},
	{name: "ux_users_github_id", table: "users", columns: []string{"github_id"}, err: ErrProviderLinkedToOtherAccount},
	{name: "ux_sessions_refresh_token_hash", table: "sessions", columns: []string{"refresh_token_hash"}, err: ErrUnauthorized},
	{name: "ux_roles_slug", table: "roles", columns: []string{"slug"}, err: ErrRoleAlreadyExists},
	{name: "ux_permission_grants_user_permission", table: "permission_grants", columns: []string{"user_id", "permission"}, err: ErrPermissionAlreadyGranted},
}

// sqliteTarget is how SQLite names a violated unique index in its message,
// e.g. "UNIQUE constraint failed: permission_grants.user_id, permission_grants.permission".
func (u uniqueIndex) sqliteTarget() string {
	parts := make([]string, len(u.columns))
	for i, c := range u.columns {
		parts[i] = u.table + "." + c
	}
	return "UNIQUE constraint failed: " + strings.Join(parts, ", ")
}

// mapConstraintError translates unique violations into the domain conflict
// registered for the index. Other errors are returned unchanged.
func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return err
		}
		for _, idx := range uniqueIndexes {
			if idx.name == pgErr.ConstraintName {
				return idx.err
			}
		}
		return err
	}

	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	for _, idx := range uniqueIndexes {
		if containsTarget(msg, idx.sqliteTarget()) {
			return idx.err
		}
	}
	return err
}

// containsTarget matches target as a whole column list so "users.email" does
// not match a message about "users.email_alias".
func containsTarget(msg, target string) bool {
	i := strings.Index(msg, target)
	if i < 0 {
		return false
	}
	rest := msg[i+len(target):]
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ' ', ')', '\n', ',':
		return !strings.HasPrefix(rest, ", ")
	}
	return false
}
