package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users persists the User aggregate.
type Users interface {
	repository.Repository[*User]

	GetUserTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	FindByExternalIDTx(ctx context.Context, tx bun.IDB, provider Provider, externalID string) (*User, error)
	InsertTx(ctx context.Context, tx bun.IDB, user *User) error
	CompareAndSwapTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) (bool, error)
	TouchLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
	SetRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role string, at time.Time) error
	CountByRoleTx(ctx context.Context, tx bun.IDB, role string) (int, error)
	SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

// NewUsersRepository creates the bun backed Users repository.
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

// GetByIdentifierTx resolves a user by id or by email.
func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record := &User{}
		q := tx.NewSelect().Model(record)
		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}
		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) GetUserTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, internal(err, "failed to load user")
	}
	return record, nil
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, internal(err, "failed to load user by email")
	}
	return record, nil
}

// FindByExternalIDTx looks a user up by an OAuth provider id.
func (a *users) FindByExternalIDTx(ctx context.Context, tx bun.IDB, provider Provider, externalID string) (*User, error) {
	column, ok := externalIDColumn(provider)
	if !ok {
		return nil, ErrUnknownProvider
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, internal(err, "failed to load user by provider id")
	}
	return record, nil
}

// InsertTx creates user, mapping unique violations to domain conflicts.
func (a *users) InsertTx(ctx context.Context, tx bun.IDB, user *User) error {
	prepareUserDefaults(user)
	if _, err := tx.NewInsert().Model(user).Exec(ctx); err != nil {
		if mapped := mapConstraintError(err); mapped != err {
			return mapped
		}
		return internal(err, "failed to create user")
	}
	return nil
}

// CompareAndSwapTx writes columns of user only if the stored version still
// equals user.Version. On success user.Version is advanced.
func (a *users) CompareAndSwapTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) (bool, error) {
	expected := user.Version
	user.Version = expected + 1

	res, err := tx.NewUpdate().
		Model(user).
		Column(append(columns, "version", "updated_at")...).
		Where("id = ?", user.ID).
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		user.Version = expected
		if mapped := mapConstraintError(err); mapped != err {
			return false, mapped
		}
		return false, internal(err, "failed to update user")
	}

	n, err := res.RowsAffected()
	if err != nil {
		user.Version = expected
		return false, internal(err, "failed to read rows affected")
	}
	if n == 0 {
		user.Version = expected
		return false, nil
	}
	return true, nil
}

func (a *users) TouchLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("last_login_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return internal(err, "failed to track login")
}

func (a *users) SetRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role string, at time.Time) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("role = ?", role).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return internal(err, "failed to assign role")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (a *users) CountByRoleTx(ctx context.Context, tx bun.IDB, role string) (int, error) {
	n, err := tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.role = ?", role).
		Count(ctx)
	return n, internal(err, "failed to count users by role")
}

// SoftDeleteTx marks the user deleted and releases its external ids so the
// provider accounts can be linked elsewhere.
func (a *users) SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	q := tx.NewUpdate().
		Model((*User)(nil)).
		Set("deleted_at = ?", at).
		Set("updated_at = ?", at).
		Set("version = version + 1")
	for _, field := range externalIDFields {
		q = q.Set("? = NULL", bun.Ident(field.column))
	}
	res, err := q.Where("id = ?", id).Exec(ctx)
	if err != nil {
		return internal(err, "failed to delete user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Email = NormalizeEmail(record.Email)
	if record.Role == "" {
		record.Role = DefaultRoleSlug
	}
	if record.LinkedProviders == nil {
		record.LinkedProviders = []Provider{}
	}
	if record.Version == 0 {
		record.Version = 1
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}
	if isUUID(trimmed) {
		return []identifierOption{{column: "id", value: trimmed}}
	}
	return []identifierOption{{column: "email", value: NormalizeEmail(trimmed)}}
}
