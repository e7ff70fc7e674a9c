package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	DB() *bun.DB
	Users() Users
	PendingRegistrations() PendingRegistrations
	Sessions() Sessions
	Roles() Roles
	PermissionGrants() PermissionGrants
}

type mngr struct {
	db      *bun.DB
	users   Users
	pending PendingRegistrations
	session Sessions
	roles   Roles
	grants  PermissionGrants
}

// NewRepositoryManager wires every repository over db.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:      db,
		users:   NewUsersRepository(db),
		pending: NewPendingRegistrationsRepository(),
		session: NewSessionsRepository(),
		roles:   NewRolesRepository(db),
		grants:  NewPermissionGrantsRepository(),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}
	if m.pending == nil {
		return errors.New("repository pending registrations should be initialized")
	}
	if m.session == nil {
		return errors.New("repository sessions should be initialized")
	}
	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}
	if m.grants == nil {
		return errors.New("repository permission grants should be initialized")
	}
	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) PendingRegistrations() PendingRegistrations {
	return m.pending
}

func (m mngr) Sessions() Sessions {
	return m.session
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) PermissionGrants() PermissionGrants {
	return m.grants
}
