package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PendingRegistrations persists registrations awaiting activation.
type PendingRegistrations interface {
	UpsertTx(ctx context.Context, tx bun.IDB, record *PendingRegistration) error
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*PendingRegistration, error)
	IncrementAttemptsTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (int, error)
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
	DeleteExpiredTx(ctx context.Context, tx bun.IDB, now time.Time) (int64, error)
}

type pendingRegistrations struct{}

// NewPendingRegistrationsRepository creates the bun backed repository.
func NewPendingRegistrationsRepository() PendingRegistrations {
	return pendingRegistrations{}
}

// UpsertTx inserts record or replaces the live record for the same email in
// a single statement.
func (pendingRegistrations) UpsertTx(ctx context.Context, tx bun.IDB, record *PendingRegistration) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Email = NormalizeEmail(record.Email)

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (email) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("password_hash = EXCLUDED.password_hash").
		Set("name = EXCLUDED.name").
		Set("code_hash = EXCLUDED.code_hash").
		Set("attempts = 0").
		Set("expires_at = EXCLUDED.expires_at").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	return internal(err, "failed to store pending registration")
}

func (pendingRegistrations) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*PendingRegistration, error) {
	record := &PendingRegistration{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRegistrationNotFound
		}
		return nil, internal(err, "failed to load pending registration")
	}
	return record, nil
}

// IncrementAttemptsTx atomically bumps the attempt counter and returns the
// value this caller produced. Run inside a transaction so the read observes
// the caller's own increment.
func (pendingRegistrations) IncrementAttemptsTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (int, error) {
	res, err := tx.NewUpdate().
		Model((*PendingRegistration)(nil)).
		Set("attempts = attempts + 1").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, internal(err, "failed to count activation attempt")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, ErrRegistrationNotFound
	}

	var attempts int
	err = tx.NewSelect().
		Model((*PendingRegistration)(nil)).
		Column("attempts").
		Where("id = ?", id).
		Scan(ctx, &attempts)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return 0, ErrRegistrationNotFound
		}
		return 0, internal(err, "failed to read activation attempts")
	}
	return attempts, nil
}

func (pendingRegistrations) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	res, err := tx.NewDelete().
		Model((*PendingRegistration)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, internal(err, "failed to delete pending registration")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, internal(err, "failed to read rows affected")
	}
	return n > 0, nil
}

func (pendingRegistrations) DeleteExpiredTx(ctx context.Context, tx bun.IDB, now time.Time) (int64, error) {
	res, err := tx.NewDelete().
		Model((*PendingRegistration)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, internal(err, "failed to purge pending registrations")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
