package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"colleague-auth/internal/apperrors"
	"colleague-auth/internal/hashing"
	"colleague-auth/internal/models"
	"colleague-auth/internal/repository/memory"
	"colleague-auth/internal/session"
)

type fakeDirectory struct {
	docs   map[string]models.Profile
	hits   []models.Profile
	failOn string
}

func (d *fakeDirectory) Put(ctx context.Context, p models.Profile) error {
	d.docs[p.ID] = p
	return nil
}

func (d *fakeDirectory) Search(ctx context.Context, q string, limit int) ([]models.Profile, error) {
	if q == d.failOn {
		return nil, errors.New("index unavailable")
	}
	return d.hits, nil
}

func strPtr(s string) *string { return &s }

func newUserService(t *testing.T) (*UserService, *memory.UserRepository, *fakeDirectory) {
	t.Helper()
	repo := memory.NewUserRepository()
	ctx := context.Background()
	epoch := time.UnixMilli(1700000000000).UTC()

	for _, u := range []*models.User{
		{ID: "u1", Mobile: "12345678910", UserName: "Alice", Handle: "alice", Status: models.StatusConfirmed, LastLoginAt: epoch},
		{ID: "u2", Mobile: "12345678911", UserName: "Bob", Handle: "bobby", Status: models.StatusConfirmed, LastLoginAt: epoch},
		{ID: "u3", Mobile: "12345678912", UserName: "Mallory", Handle: "mallory", Status: models.StatusBlocked, LastLoginAt: epoch},
	} {
		require.NoError(t, repo.Create(ctx, u))
	}

	dir := &fakeDirectory{docs: map[string]models.Profile{}}
	svc := NewUserService(repo, hashing.NewHasherWithParams(fastParams), dir, nil, zap.NewNop())
	return svc, repo, dir
}

func sessionFor(t *testing.T, repo *memory.UserRepository, id string) *session.Session {
	t.Helper()
	u, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return &session.Session{User: u, DeviceID: testDevice}
}

func TestProfileIncludesMobile(t *testing.T) {
	svc, repo, _ := newUserService(t)
	p := svc.Profile(context.Background(), sessionFor(t, repo, "u1"))
	assert.Equal(t, "12345678910", p.Mobile)
	assert.Equal(t, "alice", p.Handle)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, repo, dir := newUserService(t)

	gender := models.GenderFemale
	p, err := svc.UpdateProfile(ctx, sessionFor(t, repo, "u1"), models.ProfilePatch{
		UserName: strPtr("Alice Liddell"),
		Gender:   &gender,
		Handle:   strPtr("alice_l"),
		Password: strPtr("new-password"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", p.UserName)
	assert.Equal(t, "alice_l", p.Handle)

	stored, err := repo.FindByHandle(ctx, "alice_l")
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.ID)
	assert.True(t, svc.hasher.Verify("new-password", stored.PasswordHash))

	indexed := dir.docs["u1"]
	assert.Equal(t, "alice_l", indexed.Handle)
	assert.Empty(t, indexed.Mobile)
}

func TestUpdateProfileErrors(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUserService(t)
	sess := sessionFor(t, repo, "u1")

	_, err := svc.UpdateProfile(ctx, sess, models.ProfilePatch{Handle: strPtr("bobby")})
	assert.ErrorIs(t, err, apperrors.ErrHandleTaken)

	_, err = svc.UpdateProfile(ctx, sess, models.ProfilePatch{})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.UpdateProfile(ctx, sess, models.ProfilePatch{Handle: strPtr("1bad")})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.UpdateProfile(ctx, sess, models.ProfilePatch{UserName: strPtr("<script>alert(1)</script>")})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	// Keeping the current handle is not a conflict.
	_, err = svc.UpdateProfile(ctx, sess, models.ProfilePatch{Handle: strPtr("alice")})
	assert.NoError(t, err)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc, _, dir := newUserService(t)

	t.Run("by mobile", func(t *testing.T) {
		res, err := svc.Search(ctx, "12345678911")
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "u2", res[0].ID)
		assert.Empty(t, res[0].Mobile)
	})

	t.Run("unavailable users are hidden", func(t *testing.T) {
		res, err := svc.Search(ctx, "12345678912")
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("by handle merged with directory", func(t *testing.T) {
		dir.hits = []models.Profile{{ID: "u2", Handle: "bobby"}, {ID: "u9", Handle: "bobcat"}}
		res, err := svc.Search(ctx, "bobby")
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "u2", res[0].ID)
		assert.Equal(t, "u9", res[1].ID)
	})

	t.Run("directory failure falls back to exact match", func(t *testing.T) {
		dir.failOn = "alice"
		res, err := svc.Search(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "u1", res[0].ID)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := svc.Search(ctx, "  ")
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})
}
