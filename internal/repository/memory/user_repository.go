// Package memory is a process-local credential store for development and
// tests.
package memory

import (
	"context"
	"sync"
	"time"

	"colleague-auth/internal/models"
	"colleague-auth/internal/repository"
)

type UserRepository struct {
	mu       sync.Mutex
	byID     map[string]*models.User
	byMobile map[string]string
	byHandle map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:     make(map[string]*models.User),
		byMobile: make(map[string]string),
		byHandle: make(map[string]string),
	}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byMobile[u.Mobile]; ok {
		return repository.ErrMobileTaken
	}
	if u.Handle != "" {
		if _, ok := r.byHandle[u.Handle]; ok {
			return repository.ErrHandleTaken
		}
		r.byHandle[u.Handle] = u.ID
	}

	cp := *u
	r.byID[u.ID] = &cp
	r.byMobile[u.Mobile] = u.ID
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.get(id)
}

func (r *UserRepository) FindByMobile(ctx context.Context, mobile string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byMobile[mobile]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.get(id)
}

func (r *UserRepository) FindByHandle(ctx context.Context, handle string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHandle[handle]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.get(id)
}

func (r *UserRepository) AdvanceEpoch(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !u.LastLoginAt.Equal(expected) || !u.IsAvailable() {
		return false, nil
	}
	u.LastLoginAt = next
	u.Status = models.StatusConfirmed
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *UserRepository) MarkLoggedOut(ctx context.Context, id string, expected time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !u.LastLoginAt.Equal(expected) || !u.IsAvailable() {
		return false, nil
	}
	u.Status = models.StatusLoggedOut
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *UserRepository) SetStatus(ctx context.Context, id string, status models.UserStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if upd.Handle != nil && *upd.Handle != u.Handle {
		if owner, taken := r.byHandle[*upd.Handle]; taken && owner != id {
			return repository.ErrHandleTaken
		}
		delete(r.byHandle, u.Handle)
		r.byHandle[*upd.Handle] = id
	}
	upd.Apply(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return nil
}

// get returns a copy so callers never share the stored row.
func (r *UserRepository) get(id string) (*models.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
