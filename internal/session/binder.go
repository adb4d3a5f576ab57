// Package session binds presented tokens to the current state of the user
// row. A token is accepted only while its embedded fingerprint equals the one
// recomputed from the stored user, so advancing last_login_at retires every
// token minted before it.
package session

import (
	"context"
	"errors"
	"fmt"

	"colleague-auth/internal/apperrors"
	"colleague-auth/internal/models"
	"colleague-auth/internal/repository"
	"colleague-auth/internal/token"
	"colleague-auth/internal/util"

	"go.uber.org/zap"
)

// UserFinder is the part of the credential store the binder reads.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Session is the authenticated caller resolved from a token.
type Session struct {
	User     *models.User
	DeviceID string
	Claims   *token.Claims
}

type Binder struct {
	codec  *token.Codec
	users  UserFinder
	logger *zap.Logger
}

func NewBinder(codec *token.Codec, users UserFinder, logger *zap.Logger) *Binder {
	return &Binder{codec: codec, users: users, logger: logger}
}

// Derive computes the fingerprint of u's current session on deviceID.
func Derive(u *models.User, deviceID string) models.Fingerprint {
	return models.Fingerprint{
		UserID:    u.ID,
		DeviceID:  deviceID,
		Timestamp: models.EpochMillis(u.LastLoginAt),
	}
}

// Authenticate decodes raw as a token of the wanted kind and binds it.
func (b *Binder) Authenticate(ctx context.Context, raw string, kind token.Kind, deviceID string) (*Session, error) {
	claims, err := b.codec.DecodeKind(raw, kind)
	if err != nil {
		return nil, err
	}
	return b.Bind(ctx, claims, deviceID)
}

// Bind checks claims against the stored user. The status gate and the
// fingerprint gate are independent and both must pass.
func (b *Binder) Bind(ctx context.Context, claims *token.Claims, deviceID string) (*Session, error) {
	user, err := b.users.FindByID(ctx, claims.Identity.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			b.reject("unknown user", claims, deviceID)
			return nil, apperrors.ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to load user for session: %w", err)
	}

	if user.IsLoggedOut() || !user.IsAvailable() {
		b.reject("user status "+user.Status.String(), claims, deviceID)
		return nil, apperrors.ErrTokenInvalid
	}

	expected := Derive(user, deviceID)
	presented := claims.Identity

	if presented.UserID != expected.UserID || presented.Timestamp != expected.Timestamp {
		b.reject("stale session epoch", claims, deviceID)
		return nil, apperrors.ErrTokenInvalid
	}
	if deviceID == "" || presented.DeviceID != expected.DeviceID {
		b.reject("device mismatch", claims, deviceID)
		return nil, apperrors.ErrDeviceMismatch
	}

	return &Session{User: user, DeviceID: deviceID, Claims: claims}, nil
}

func (b *Binder) reject(reason string, claims *token.Claims, deviceID string) {
	b.logger.Debug("Session rejected",
		zap.String("reason", reason),
		util.UserID(claims.Identity.UserID),
		zap.String("token_device_id", claims.Identity.DeviceID),
		util.DeviceID(deviceID),
		zap.String("kind", string(claims.Kind)),
	)
}

type contextKey struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by NewContext.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
