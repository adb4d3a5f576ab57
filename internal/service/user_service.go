package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"colleague-auth/internal/apperrors"
	"colleague-auth/internal/models"
	"colleague-auth/internal/repository"
	"colleague-auth/internal/session"
	"colleague-auth/internal/util"
)

const searchLimit = 20

// UserService serves the profile endpoints of an authenticated session.
type UserService struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	directory UserDirectory
	events    EventRecorder
	logger    *zap.Logger
}

func NewUserService(users repository.UserRepository, hasher PasswordHasher, directory UserDirectory, events EventRecorder, logger *zap.Logger) *UserService {
	return &UserService{
		users:     users,
		hasher:    hasher,
		directory: directory,
		events:    events,
		logger:    logger,
	}
}

// Profile returns the caller's own profile, mobile included.
func (s *UserService) Profile(ctx context.Context, sess *session.Session) models.Profile {
	return sess.User.PrivateProfile()
}

// UpdateProfile applies patch to the caller's account and returns the
// updated profile.
func (s *UserService) UpdateProfile(ctx context.Context, sess *session.Session, patch models.ProfilePatch) (*models.Profile, error) {
	if err := patch.Validate(); err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	if patch.UserName != nil && util.ContainsSuspicious(*patch.UserName) {
		return nil, apperrors.BadRequest(models.ErrInvalidUserName.Error())
	}

	user := sess.User
	update := models.ProfileUpdate{
		UserName: patch.UserName,
		Gender:   patch.Gender,
		Handle:   patch.Handle,
		Avatar:   patch.Avatar,
	}

	if patch.Handle != nil && !strings.EqualFold(*patch.Handle, user.Handle) {
		owner, err := s.users.FindByHandle(ctx, *patch.Handle)
		switch {
		case err == nil && owner.ID != user.ID:
			return nil, apperrors.ErrHandleTaken
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("failed to look up handle: %w", err)
		}
	}

	if patch.Password != nil {
		digest, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			return nil, err
		}
		update.PasswordHash = &digest
	}

	if err := s.users.UpdateProfile(ctx, user.ID, update); err != nil {
		if errors.Is(err, repository.ErrHandleTaken) {
			return nil, apperrors.ErrHandleTaken
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	update.Apply(user)

	if s.directory != nil {
		if err := s.directory.Put(ctx, user.PublicProfile()); err != nil {
			s.logger.Warn("Failed to reindex user", util.UserID(user.ID), zap.Error(err))
		}
	}
	if s.events != nil {
		s.events.Record(ctx, models.SecurityEvent{
			EventType: models.EventProfileUpdated,
			UserID:    user.ID,
			DeviceID:  sess.DeviceID,
			Success:   true,
		})
	}

	p := user.PrivateProfile()
	return &p, nil
}

// Search finds users by mobile number when q is all digits, otherwise by
// handle and, when a directory is configured, by name.
func (s *UserService) Search(ctx context.Context, q string) ([]models.Profile, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperrors.BadRequest("q is required")
	}

	results := make([]models.Profile, 0)
	seen := make(map[string]bool)
	add := func(p models.Profile) {
		if !seen[p.ID] {
			seen[p.ID] = true
			results = append(results, p)
		}
	}

	if mobile := util.NormalizeMobile(q); util.IsDigits(strings.TrimPrefix(mobile, "+")) {
		u, err := s.users.FindByMobile(ctx, mobile)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if err == nil && u.IsAvailable() {
			add(u.PublicProfile())
		}
		return results, nil
	}

	u, err := s.users.FindByHandle(ctx, q)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err == nil && u.IsAvailable() {
		add(u.PublicProfile())
	}

	if s.directory != nil {
		hits, err := s.directory.Search(ctx, q, searchLimit)
		if err != nil {
			s.logger.Warn("Directory search failed", zap.String("q", q), zap.Error(err))
		}
		for _, p := range hits {
			add(p)
		}
	}
	return results, nil
}
