package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"colleague-auth/internal/models"
	"colleague-auth/internal/repository"
	"colleague-auth/internal/util"
)

const userColumns = "user_id, mobile, password_hash, user_name, gender, handle, avatar, status, created_at, updated_at, last_login_at"

// Bucketer maps a user id to its partition bucket.
type Bucketer interface {
	UserBucket(userID string) int
}

// UserRepository stores users in Scylla. Every write to the users table is a
// lightweight transaction so epoch compare-and-set never races a plain write.
type UserRepository struct {
	client  *ScyllaClient
	buckets Bucketer
	logger  *zap.Logger
	now     func() time.Time
	// scanCAS runs a lightweight transaction and fills dest with the current
	// row when it is not applied.
	scanCAS func(ctx context.Context, stmt string, dest map[string]interface{}, args ...interface{}) (bool, error)
}

func NewUserRepository(client *ScyllaClient, buckets Bucketer, logger *zap.Logger) *UserRepository {
	r := &UserRepository{client: client, buckets: buckets, logger: logger, now: time.Now}
	r.scanCAS = func(ctx context.Context, stmt string, dest map[string]interface{}, args ...interface{}) (bool, error) {
		return client.Query(ctx, stmt, args...).MapScanCAS(dest)
	}
	return r
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	owner, err := r.claim(ctx, "users_by_mobile", "mobile", u.Mobile, u.ID)
	if err != nil {
		return err
	}
	if owner != u.ID {
		return repository.ErrMobileTaken
	}

	if u.Handle != "" {
		owner, err := r.claim(ctx, "users_by_handle", "handle", u.Handle, u.ID)
		if err != nil {
			r.release(ctx, "users_by_mobile", "mobile", u.Mobile, u.ID)
			return err
		}
		if owner != u.ID {
			r.release(ctx, "users_by_mobile", "mobile", u.Mobile, u.ID)
			return repository.ErrHandleTaken
		}
	}

	stmt := `INSERT INTO users (user_bucket, ` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`
	applied, err := r.scanCAS(ctx, stmt, map[string]interface{}{},
		r.buckets.UserBucket(u.ID), u.ID, u.Mobile, u.PasswordHash, u.UserName, u.Gender, u.Handle,
		u.Avatar, int(u.Status), u.CreatedAt, u.UpdatedAt, u.LastLoginAt,
	)
	if err != nil {
		r.logger.Error("Failed to create user", util.UserID(u.ID), util.Mobile(u.Mobile), zap.Error(err))
		r.releaseClaims(ctx, u)
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !applied {
		r.releaseClaims(ctx, u)
		return fmt.Errorf("user %s already exists", u.ID)
	}

	r.logger.Info("User created", util.UserID(u.ID), util.Mobile(u.Mobile))
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var (
		u      models.User
		status int
	)
	query := r.client.Query(ctx, `SELECT `+userColumns+` FROM users WHERE user_bucket = ? AND user_id = ?`,
		r.buckets.UserBucket(id), id)

	err := r.client.ScanWithRetry(query,
		&u.ID, &u.Mobile, &u.PasswordHash, &u.UserName, &u.Gender, &u.Handle, &u.Avatar,
		&status, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	u.Status = models.UserStatus(status)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	u.LastLoginAt = u.LastLoginAt.UTC()
	return &u, nil
}

func (r *UserRepository) FindByMobile(ctx context.Context, mobile string) (*models.User, error) {
	return r.findVia(ctx, "users_by_mobile", "mobile", mobile)
}

func (r *UserRepository) FindByHandle(ctx context.Context, handle string) (*models.User, error) {
	return r.findVia(ctx, "users_by_handle", "handle", handle)
}

// Epoch writes only apply while the account is available, so a concurrent
// block or delete is never overwritten.
const (
	advanceEpochStmt = `UPDATE users SET last_login_at = ?, status = ?, updated_at = ? ` +
		`WHERE user_bucket = ? AND user_id = ? IF last_login_at = ? AND status IN ?`
	markLoggedOutStmt = `UPDATE users SET status = ?, updated_at = ? ` +
		`WHERE user_bucket = ? AND user_id = ? IF last_login_at = ? AND status IN ?`
)

// availableStatuses are the statuses an epoch write may replace.
var availableStatuses = []int{
	int(models.StatusNew),
	int(models.StatusConfirmed),
	int(models.StatusLoggedOut),
}

func (r *UserRepository) AdvanceEpoch(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	return r.cas(ctx, advanceEpochStmt, next.UTC(), int(models.StatusConfirmed), r.now().UTC(),
		r.buckets.UserBucket(id), id, expected.UTC(), availableStatuses)
}

func (r *UserRepository) MarkLoggedOut(ctx context.Context, id string, expected time.Time) (bool, error) {
	return r.cas(ctx, markLoggedOutStmt, int(models.StatusLoggedOut), r.now().UTC(),
		r.buckets.UserBucket(id), id, expected.UTC(), availableStatuses)
}

func (r *UserRepository) SetStatus(ctx context.Context, id string, status models.UserStatus) error {
	stmt := `UPDATE users SET status = ?, updated_at = ?
		WHERE user_bucket = ? AND user_id = ? IF EXISTS`
	applied, err := r.cas(ctx, stmt, int(status), r.now().UTC(), r.buckets.UserBucket(id), id)
	if err != nil {
		return err
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) error {
	if upd.IsEmpty() {
		return nil
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	handleChanged := upd.Handle != nil && *upd.Handle != current.Handle
	if handleChanged {
		owner, err := r.claim(ctx, "users_by_handle", "handle", *upd.Handle, id)
		if err != nil {
			return err
		}
		if owner != id {
			return repository.ErrHandleTaken
		}
	}

	stmt, args := profileUpdateStatement(upd, r.now().UTC())
	args = append(args, r.buckets.UserBucket(id), id)
	applied, err := r.cas(ctx, stmt, args...)
	if err == nil && !applied {
		err = repository.ErrNotFound
	}
	if err != nil {
		if handleChanged {
			r.release(ctx, "users_by_handle", "handle", *upd.Handle, id)
		}
		return err
	}

	if handleChanged && current.Handle != "" {
		r.release(ctx, "users_by_handle", "handle", current.Handle, id)
	}
	return nil
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// profileUpdateStatement builds the conditional UPDATE for the non-nil
// fields of upd. The caller appends the bucket and id arguments.
func profileUpdateStatement(upd models.ProfileUpdate, now time.Time) (string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.UserName != nil {
		add("user_name", *upd.UserName)
	}
	if upd.Gender != nil {
		add("gender", *upd.Gender)
	}
	if upd.Handle != nil {
		add("handle", *upd.Handle)
	}
	if upd.Avatar != nil {
		add("avatar", *upd.Avatar)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	add("updated_at", now)

	return `UPDATE users SET ` + strings.Join(sets, ", ") +
		` WHERE user_bucket = ? AND user_id = ? IF EXISTS`, args
}

func (r *UserRepository) findVia(ctx context.Context, table, column, value string) (*models.User, error) {
	var id string
	query := r.client.Query(ctx, `SELECT user_id FROM `+table+` WHERE `+column+` = ?`, value)
	if err := r.client.ScanWithRetry(query, &id); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up %s: %w", column, err)
	}
	return r.FindByID(ctx, id)
}

// claim inserts value -> userID unless value is already owned, and returns
// the owner.
func (r *UserRepository) claim(ctx context.Context, table, column, value, userID string) (string, error) {
	existing := map[string]interface{}{}
	stmt := `INSERT INTO ` + table + ` (` + column + `, user_id) VALUES (?, ?) IF NOT EXISTS`
	applied, err := r.scanCAS(ctx, stmt, existing, value, userID)
	if err != nil {
		return "", fmt.Errorf("failed to claim %s: %w", column, err)
	}
	if applied {
		return userID, nil
	}
	owner, _ := existing["user_id"].(string)
	return owner, nil
}

// releaseClaims drops the mobile and handle mappings taken by a Create that
// did not get its users row.
func (r *UserRepository) releaseClaims(ctx context.Context, u *models.User) {
	for _, c := range claimsOf(u) {
		r.release(ctx, c.table, c.column, c.value, u.ID)
	}
}

type uniqueClaim struct {
	table, column, value string
}

func claimsOf(u *models.User) []uniqueClaim {
	claims := []uniqueClaim{{table: "users_by_mobile", column: "mobile", value: u.Mobile}}
	if u.Handle != "" {
		claims = append(claims, uniqueClaim{table: "users_by_handle", column: "handle", value: u.Handle})
	}
	return claims
}

func (r *UserRepository) release(ctx context.Context, table, column, value, userID string) {
	stmt := `DELETE FROM ` + table + ` WHERE ` + column + ` = ? IF user_id = ?`
	if _, err := r.scanCAS(ctx, stmt, map[string]interface{}{}, value, userID); err != nil {
		r.logger.Warn("Failed to release unique claim",
			zap.String("table", table), util.UserID(userID), zap.Error(err))
	}
}

func (r *UserRepository) cas(ctx context.Context, stmt string, args ...interface{}) (bool, error) {
	applied, err := r.scanCAS(ctx, stmt, map[string]interface{}{}, args...)
	if err != nil {
		return false, fmt.Errorf("conditional update failed: %w", err)
	}
	return applied, nil
}
