package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions persists device sessions.
type Sessions interface {
	CreateTx(ctx context.Context, tx bun.IDB, session *Session) error
	FindByIDTx(ctx context.Context, tx bun.IDB, id string) (*Session, error)
	FindByTokenHashTx(ctx context.Context, tx bun.IDB, hash string) (*Session, error)
	RotateTx(ctx context.Context, tx bun.IDB, id, oldHash, newHash string, at time.Time) (bool, error)
	InvalidateTx(ctx context.Context, tx bun.IDB, id string) (bool, error)
	InvalidateOthersTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, keepID string) (int64, error)
	InvalidateAllTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error)
	ListActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, now time.Time) ([]*Session, error)
	DeleteExpiredTx(ctx context.Context, tx bun.IDB, now time.Time) (int64, error)
}

type sessions struct{}

// NewSessionsRepository creates the bun backed repository.
func NewSessionsRepository() Sessions {
	return sessions{}
}

func (sessions) CreateTx(ctx context.Context, tx bun.IDB, session *Session) error {
	if _, err := tx.NewInsert().Model(session).Exec(ctx); err != nil {
		if mapped := mapConstraintError(err); mapped != err {
			return mapped
		}
		return internal(err, "failed to create session")
	}
	return nil
}

func (sessions) FindByIDTx(ctx context.Context, tx bun.IDB, id string) (*Session, error) {
	return findSession(ctx, tx, "id", id)
}

func (sessions) FindByTokenHashTx(ctx context.Context, tx bun.IDB, hash string) (*Session, error) {
	return findSession(ctx, tx, "refresh_token_hash", hash)
}

func findSession(ctx context.Context, tx bun.IDB, column, value string) (*Session, error) {
	record := &Session{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, internal(err, "failed to load session")
	}
	return record, nil
}

// RotateTx swaps the refresh token digest only while the stored digest is
// still oldHash and the session is valid. A false result means another
// request already rotated or revoked the session.
func (sessions) RotateTx(ctx context.Context, tx bun.IDB, id, oldHash, newHash string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("refresh_token_hash = ?", newHash).
		Set("last_used_at = ?", at).
		Where("id = ?", id).
		Where("refresh_token_hash = ?", oldHash).
		Where("is_valid = ?", true).
		Exec(ctx)
	return affected(res, err, "failed to rotate session")
}

func (sessions) InvalidateTx(ctx context.Context, tx bun.IDB, id string) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("is_valid = ?", false).
		Where("id = ?", id).
		Where("is_valid = ?", true).
		Exec(ctx)
	return affected(res, err, "failed to invalidate session")
}

func (sessions) InvalidateOthersTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, keepID string) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("is_valid = ?", false).
		Where("user_id = ?", userID).
		Where("is_valid = ?", true).
		Where("id <> ?", keepID).
		Exec(ctx)
	return count(res, err, "failed to revoke sessions")
}

func (sessions) InvalidateAllTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("is_valid = ?", false).
		Where("user_id = ?", userID).
		Where("is_valid = ?", true).
		Exec(ctx)
	return count(res, err, "failed to revoke sessions")
}

func (sessions) ListActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, now time.Time) ([]*Session, error) {
	var records []*Session
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.is_valid = ?", true).
		Where("?TableAlias.expires_at > ?", now).
		Order("id DESC").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, internal(err, "failed to list sessions")
	}
	return records, nil
}

// DeleteExpiredTx removes expired and invalidated sessions.
func (sessions) DeleteExpiredTx(ctx context.Context, tx bun.IDB, now time.Time) (int64, error) {
	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		WhereOr("expires_at <= ?", now).
		WhereOr("is_valid = ?", false).
		Exec(ctx)
	return count(res, err, "failed to purge sessions")
}

func affected(res interface{ RowsAffected() (int64, error) }, err error, msg string) (bool, error) {
	n, err := count(res, err, msg)
	return n > 0, err
}

func count(res interface{ RowsAffected() (int64, error) }, err error, msg string) (int64, error) {
	if err != nil {
		return 0, internal(err, msg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, internal(err, "failed to read rows affected")
	}
	return n, nil
}
