package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"colleague-auth/internal/models"
	"colleague-auth/internal/repository"
)

const (
	uniqueViolation  = "23505"
	mobileConstraint = "users_mobile_key"
	handleConstraint = "users_handle_key"
	userColumns      = "id, mobile, password_hash, user_name, gender, handle, avatar, status, created_at, updated_at, last_login_at"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PingContext(ctx context.Context) error
}

type UserRepository struct {
	db  DBTX
	now func() time.Time
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Mobile, u.PasswordHash, u.UserName, u.Gender, nullable(u.Handle), u.Avatar,
		int(u.Status), u.CreatedAt, u.UpdatedAt, u.LastLoginAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) FindByMobile(ctx context.Context, mobile string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE mobile = $1`, mobile)
}

func (r *UserRepository) FindByHandle(ctx context.Context, handle string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE handle = $1`, handle)
}

func (r *UserRepository) AdvanceEpoch(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	query := `UPDATE users SET last_login_at = $3, status = $4, updated_at = $5
		WHERE id = $1 AND last_login_at = $2 AND status NOT IN ($6, $7)`

	return r.execConditional(ctx, query, id, expected.UTC(), next.UTC(), int(models.StatusConfirmed), r.now().UTC(),
		int(models.StatusBlocked), int(models.StatusDeleted))
}

func (r *UserRepository) MarkLoggedOut(ctx context.Context, id string, expected time.Time) (bool, error) {
	query := `UPDATE users SET status = $3, updated_at = $4
		WHERE id = $1 AND last_login_at = $2 AND status NOT IN ($5, $6)`

	return r.execConditional(ctx, query, id, expected.UTC(), int(models.StatusLoggedOut), r.now().UTC(),
		int(models.StatusBlocked), int(models.StatusDeleted))
}

func (r *UserRepository) SetStatus(ctx context.Context, id string, status models.UserStatus) error {
	ok, err := r.execConditional(ctx, `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`,
		id, int(status), r.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) error {
	if upd.IsEmpty() {
		return nil
	}

	query := `UPDATE users SET
		user_name = COALESCE($2, user_name),
		gender = COALESCE($3, gender),
		handle = COALESCE($4, handle),
		avatar = COALESCE($5, avatar),
		password_hash = COALESCE($6, password_hash),
		updated_at = $7
		WHERE id = $1`

	var gender sql.NullInt64
	if upd.Gender != nil {
		gender = sql.NullInt64{Int64: int64(*upd.Gender), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query, id,
		nullablePtr(upd.UserName), gender, nullablePtr(upd.Handle), nullablePtr(upd.Avatar),
		nullablePtr(upd.PasswordHash), r.now().UTC(),
	)
	if err != nil {
		return mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var (
		u      models.User
		handle sql.NullString
		status int
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Mobile, &u.PasswordHash, &u.UserName, &u.Gender, &handle, &u.Avatar,
		&status, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	u.Handle = handle.String
	u.Status = models.UserStatus(status)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	u.LastLoginAt = u.LastLoginAt.UTC()
	return &u, nil
}

func (r *UserRepository) execConditional(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case mobileConstraint:
			return repository.ErrMobileTaken
		case handleConstraint:
			return repository.ErrHandleTaken
		}
	}
	return fmt.Errorf("db error: %w", err)
}

// nullable stores empty strings as NULL so unset handles never collide on
// the unique index.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullablePtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
