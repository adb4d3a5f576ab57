package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"colleague-auth/internal/apperrors"
	"colleague-auth/internal/client"
	"colleague-auth/internal/config"
	"colleague-auth/internal/hashing"
	"colleague-auth/internal/models"
	"colleague-auth/internal/repository/memory"
	redisrepo "colleague-auth/internal/repository/redis"
	"colleague-auth/internal/session"
	"colleague-auth/internal/token"
)

const (
	testMobile   = "12345678910"
	testPassword = "123456"
	testDevice   = "test-device-id"
)

var fastParams = hashing.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type capturingSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *capturingSender) SendVerificationCode(ctx context.Context, mobile, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[mobile] = code
	return nil
}

func (s *capturingSender) last(mobile string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[mobile]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (r *recordingEvents) Record(ctx context.Context, e models.SecurityEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	clock  *testClock
	mr     *miniredis.Miniredis
	users  *memory.UserRepository
	codec  *token.Codec
	binder *session.Binder
	sms    *capturingSender
	events *recordingEvents
	auth   *AuthService
	hasher *hashing.Hasher
	deps   AuthDependencies
}

func newFixture(t *testing.T, opts AuthOptions) *fixture {
	t.Helper()

	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	mr := miniredis.RunT(t)
	rc, err := client.NewRedisClient(config.RedisConfig{URL: "redis://" + mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	codes := redisrepo.NewVerificationCache(rc, config.VerificationConfig{
		CodeTTL:     10 * time.Minute,
		CountWindow: 24 * time.Hour,
	}, zap.NewNop())

	codec, err := token.NewCodec([]byte("test-secret"), config.JWTConfig{
		Issuer:     "colleague",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, token.WithClock(clock.Now))
	require.NoError(t, err)

	users := memory.NewUserRepository()
	binder := session.NewBinder(codec, users, zap.NewNop())
	sender := &capturingSender{codes: map[string]string{}}
	events := &recordingEvents{}
	hasher := hashing.NewHasherWithParams(fastParams)

	deps := AuthDependencies{
		Users:   users,
		Codes:   codes,
		Hasher:  hasher,
		Codec:   codec,
		Binder:  binder,
		SMS:     sender,
		Events:  events,
		Options: opts,
		Logger:  zap.NewNop(),
		Now:     clock.Now,
	}
	auth := NewAuthService(deps)

	return &fixture{
		deps:   deps,
		clock:  clock,
		mr:     mr,
		users:  users,
		codec:  codec,
		binder: binder,
		sms:    sender,
		events: events,
		auth:   auth,
		hasher: hasher,
	}
}

func (f *fixture) register(t *testing.T) *LoginResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.auth.SendVerification(ctx, testMobile, "")
	require.NoError(t, err)

	res, err := f.auth.Register(ctx, RegisterRequest{
		Mobile:           testMobile,
		Password:         testPassword,
		VerificationCode: f.sms.last(testMobile),
		DeviceID:         testDevice,
	})
	require.NoError(t, err)
	return res
}

// login registers the test user on first use.
func (f *fixture) login(t *testing.T, deviceID string) *LoginResult {
	t.Helper()
	if _, err := f.users.FindByMobile(context.Background(), testMobile); err != nil {
		f.register(t)
	}
	f.clock.Advance(time.Second)
	res, err := f.auth.Login(context.Background(), LoginRequest{
		Mobile:   testMobile,
		Password: testPassword,
		DeviceID: deviceID,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) authenticate(raw, deviceID string) error {
	_, err := f.binder.Authenticate(context.Background(), raw, token.KindAccess, deviceID)
	return err
}

func TestRegisterIssuesBoundTokens(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	res := f.register(t)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, testMobile, res.Mobile)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	sess, err := f.binder.Authenticate(context.Background(), res.AccessToken, token.KindAccess, testDevice)
	require.NoError(t, err)
	assert.Equal(t, res.ID, sess.User.ID)
	assert.Equal(t, models.StatusConfirmed, sess.User.Status)

	// The code is consumed by a successful registration.
	assert.False(t, f.mr.Exists("verification_code:"+testMobile))
	assert.Equal(t, []string{models.EventVerificationSent, models.EventRegister}, f.events.types())
}

func TestRegisterVerificationErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthOptions{})
	req := RegisterRequest{Mobile: testMobile, Password: testPassword, VerificationCode: "000000", DeviceID: testDevice}

	_, err := f.auth.Register(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrVerificationExpired)

	_, err = f.auth.SendVerification(ctx, testMobile, "")
	require.NoError(t, err)
	req.VerificationCode = "not-it"
	_, err = f.auth.Register(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrVerificationMismatch)

	req.VerificationCode = f.sms.last(testMobile)
	_, err = f.auth.Register(ctx, req)
	require.NoError(t, err)

	_, err = f.auth.Register(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrMobileAlreadyRegistered)
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"no device", RegisterRequest{Mobile: testMobile, Password: testPassword, VerificationCode: "1"}},
		{"bad mobile", RegisterRequest{Mobile: "12ab", Password: testPassword, VerificationCode: "1", DeviceID: testDevice}},
		{"no code", RegisterRequest{Mobile: testMobile, Password: testPassword, DeviceID: testDevice}},
		{"short password", RegisterRequest{Mobile: testMobile, Password: "123", VerificationCode: "1", DeviceID: testDevice}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.Register(context.Background(), tt.req)
			assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		})
	}
}

func TestSendVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("reuses unexpired code and exposes it when asked", func(t *testing.T) {
		f := newFixture(t, AuthOptions{ExposeVerificationCode: true})
		first, err := f.auth.SendVerification(ctx, testMobile, "")
		require.NoError(t, err)
		require.Len(t, first.VerificationCode, 6)

		second, err := f.auth.SendVerification(ctx, testMobile, "")
		require.NoError(t, err)
		assert.Equal(t, first.VerificationCode, second.VerificationCode)
	})

	t.Run("hides code by default", func(t *testing.T) {
		f := newFixture(t, AuthOptions{})
		res, err := f.auth.SendVerification(ctx, testMobile, "")
		require.NoError(t, err)
		assert.Empty(t, res.VerificationCode)
		assert.Len(t, f.sms.last(testMobile), 6)
	})

	t.Run("rate limited after max requests", func(t *testing.T) {
		f := newFixture(t, AuthOptions{MaxVerificationRequests: 3})
		for i := 0; i < 3; i++ {
			_, err := f.auth.SendVerification(ctx, testMobile, "")
			require.NoError(t, err)
		}
		_, err := f.auth.SendVerification(ctx, testMobile, "")
		assert.ErrorIs(t, err, apperrors.ErrVerificationRateLimited)

		f.mr.FastForward(25 * time.Hour)
		_, err = f.auth.SendVerification(ctx, testMobile, "")
		assert.NoError(t, err)
	})

	t.Run("invalid mobile", func(t *testing.T) {
		f := newFixture(t, AuthOptions{})
		_, err := f.auth.SendVerification(ctx, "abc", "")
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})
}

func TestLoginRetiresPreviousTokens(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	registered := f.register(t)

	first := f.login(t, testDevice)
	require.NoError(t, f.authenticate(first.AccessToken, testDevice))
	assert.ErrorIs(t, f.authenticate(registered.AccessToken, testDevice), apperrors.ErrTokenInvalid)

	second := f.login(t, "other-device")
	assert.ErrorIs(t, f.authenticate(first.AccessToken, testDevice), apperrors.ErrTokenInvalid)
	require.NoError(t, f.authenticate(second.AccessToken, "other-device"))
}

func TestLoginSameInstantStillAdvancesEpoch(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	f.register(t)
	req := LoginRequest{Mobile: testMobile, Password: testPassword, DeviceID: testDevice}

	a, err := f.auth.Login(context.Background(), req)
	require.NoError(t, err)
	b, err := f.auth.Login(context.Background(), req)
	require.NoError(t, err)

	assert.ErrorIs(t, f.authenticate(a.AccessToken, testDevice), apperrors.ErrTokenInvalid)
	assert.NoError(t, f.authenticate(b.AccessToken, testDevice))
}

func TestTokensAreDeviceBound(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	res := f.login(t, testDevice)

	assert.ErrorIs(t, f.authenticate(res.AccessToken, "another-device"), apperrors.ErrDeviceMismatch)
	assert.ErrorIs(t, f.authenticate(res.AccessToken, ""), apperrors.ErrDeviceMismatch)
}

func TestLoginErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthOptions{})

	_, err := f.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword, DeviceID: testDevice})
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

	f.register(t)
	_, err = f.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: "wrong-password", DeviceID: testDevice})
	assert.ErrorIs(t, err, apperrors.ErrPasswordIncorrect)
	assert.Contains(t, f.events.types(), models.EventLoginFailed)

	_, err = f.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestUnavailableUserCannotLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthOptions{})
	res := f.register(t)

	for _, status := range []models.UserStatus{models.StatusBlocked, models.StatusDeleted} {
		require.NoError(t, f.users.SetStatus(ctx, res.ID, status))

		_, err := f.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword, DeviceID: testDevice})
		assert.ErrorIs(t, err, apperrors.ErrUserUnavailable, status.String())
		assert.ErrorIs(t, f.authenticate(res.AccessToken, testDevice), apperrors.ErrTokenInvalid)
	}
}

// blockAfterRead blocks the account right after it has been looked up by
// mobile, before the login writes its new epoch.
type blockAfterRead struct {
	*memory.UserRepository
}

func (r blockAfterRead) FindByMobile(ctx context.Context, mobile string) (*models.User, error) {
	u, err := r.UserRepository.FindByMobile(ctx, mobile)
	if err == nil {
		_ = r.SetStatus(ctx, u.ID, models.StatusBlocked)
	}
	return u, err
}

func TestLoginDoesNotUndoConcurrentBlock(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	f.register(t)

	deps := f.deps
	deps.Users = blockAfterRead{f.users}
	auth := NewAuthService(deps)

	f.clock.Advance(time.Second)
	_, err := auth.Login(context.Background(), LoginRequest{
		Mobile:   testMobile,
		Password: testPassword,
		DeviceID: testDevice,
	})
	assert.ErrorIs(t, err, apperrors.ErrUserUnavailable)

	stored, err := f.users.FindByMobile(context.Background(), testMobile)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, stored.Status)
}

func TestRefreshIsOneShot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthOptions{})
	res := f.login(t, testDevice)

	f.clock.Advance(time.Second)
	pair, err := f.auth.Refresh(ctx, res.RefreshToken, testDevice, "")
	require.NoError(t, err)
	require.NoError(t, f.authenticate(pair.AccessToken, testDevice))

	_, err = f.auth.Refresh(ctx, res.RefreshToken, testDevice, "")
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	assert.ErrorIs(t, f.authenticate(res.AccessToken, testDevice), apperrors.ErrTokenInvalid)

	_, err = f.auth.Refresh(ctx, pair.RefreshToken, testDevice, "")
	assert.NoError(t, err)
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthOptions{})
	res := f.login(t, testDevice)

	_, err := f.auth.Refresh(ctx, res.AccessToken, testDevice, "")
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)

	err = f.auth.Logout(ctx, res.RefreshToken, testDevice, "")
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)

	assert.NoError(t, f.authenticate(res.AccessToken, testDevice))
}

func TestRefreshRejectsOtherDevice(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	res := f.login(t, testDevice)

	_, err := f.auth.Refresh(context.Background(), res.RefreshToken, "another-device", "")
	assert.ErrorIs(t, err, apperrors.ErrDeviceMismatch)
}

func TestExpiredTokens(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	res := f.login(t, testDevice)

	f.clock.Advance(2 * time.Hour)
	assert.ErrorIs(t, f.authenticate(res.AccessToken, testDevice), apperrors.ErrTokenExpired)

	_, err := f.auth.Refresh(context.Background(), res.RefreshToken, testDevice, "")
	assert.NoError(t, err)
}

func TestLogoutIsFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthOptions{})
	res := f.login(t, testDevice)

	require.NoError(t, f.auth.Logout(ctx, res.AccessToken, testDevice, ""))

	assert.ErrorIs(t, f.authenticate(res.AccessToken, testDevice), apperrors.ErrTokenInvalid)
	_, err := f.auth.Refresh(ctx, res.RefreshToken, testDevice, "")
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	assert.ErrorIs(t, f.auth.Logout(ctx, res.AccessToken, testDevice, ""), apperrors.ErrTokenInvalid)

	u, err := f.users.FindByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLoggedOut, u.Status)

	again := f.login(t, testDevice)
	assert.NoError(t, f.authenticate(again.AccessToken, testDevice))
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthOptions{})
	res := f.register(t)

	weak := hashing.NewHasherWithParams(hashing.Argon2Params{Memory: 32, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
	digest, err := weak.Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, f.users.UpdateProfile(ctx, res.ID, models.ProfileUpdate{PasswordHash: &digest}))
	require.True(t, f.hasher.NeedsRehash(digest))

	f.login(t, testDevice)

	u, err := f.users.FindByID(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, f.hasher.NeedsRehash(u.PasswordHash))
	assert.True(t, f.hasher.Verify(testPassword, u.PasswordHash))
}

func TestConcurrentLoginsLeaveOneLiveSession(t *testing.T) {
	f := newFixture(t, AuthOptions{})
	f.register(t)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*LoginResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.auth.Login(context.Background(), LoginRequest{
				Mobile:   testMobile,
				Password: testPassword,
				DeviceID: testDevice,
			})
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	live := 0
	for _, res := range results {
		if res != nil && f.authenticate(res.AccessToken, testDevice) == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
}
