// Package repository declares the credential store contract. Backends live in
// the postgres, scylla and memory subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"colleague-auth/internal/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrMobileTaken = errors.New("mobile already registered")
	ErrHandleTaken = errors.New("handle already taken")
)

// UserRepository persists user rows. Epoch changes are conditional writes:
// they apply only while the stored last_login_at still equals expected and
// report whether they applied.
type UserRepository interface {
	// Create inserts u. It returns ErrMobileTaken when the mobile exists.
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByMobile(ctx context.Context, mobile string) (*models.User, error)
	FindByHandle(ctx context.Context, handle string) (*models.User, error)

	// AdvanceEpoch sets last_login_at to next and status to Confirmed. It
	// reports false without writing when last_login_at differs from expected
	// or the account is blocked or deleted.
	AdvanceEpoch(ctx context.Context, id string, expected, next time.Time) (bool, error)
	// MarkLoggedOut sets status to LoggedOut, leaving last_login_at alone.
	// The same conditions as AdvanceEpoch apply.
	MarkLoggedOut(ctx context.Context, id string, expected time.Time) (bool, error)
	// SetStatus changes status unconditionally. No route of this service
	// calls it; blocking and deleting accounts are operator actions run
	// against the store directly.
	SetStatus(ctx context.Context, id string, status models.UserStatus) error
	// UpdateProfile applies the non-nil fields of upd. It returns
	// ErrHandleTaken when the new handle belongs to another user.
	UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) error

	HealthCheck(ctx context.Context) error
}
