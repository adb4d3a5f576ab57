package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"colleague-auth/internal/apperrors"
	"colleague-auth/internal/models"
	"colleague-auth/internal/repository"
	"colleague-auth/internal/session"
	"colleague-auth/internal/sms"
	"colleague-auth/internal/token"
	"colleague-auth/internal/util"
)

// maxEpochAttempts bounds the compare-and-set loop of a login racing other
// logins of the same user.
const maxEpochAttempts = 3

var errEpochContention = errors.New("login epoch contention")

// VerificationStore is the verification code cache.
type VerificationStore interface {
	RequestCount(ctx context.Context, mobile string) (int64, error)
	SetCode(ctx context.Context, mobile, code string) error
	GetCode(ctx context.Context, mobile string) (string, error)
	DeleteCode(ctx context.Context, mobile string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
	NeedsRehash(digest string) bool
}

type EventRecorder interface {
	Record(ctx context.Context, event models.SecurityEvent)
}

// UserDirectory is the searchable profile index.
type UserDirectory interface {
	Put(ctx context.Context, p models.Profile) error
	Search(ctx context.Context, q string, limit int) ([]models.Profile, error)
}

// AuthOptions are the tunables of the auth flow.
type AuthOptions struct {
	MaxVerificationRequests int64
	ExposeVerificationCode  bool
}

// AuthDependencies wires an AuthService. Directory and Events may be nil.
type AuthDependencies struct {
	Users     repository.UserRepository
	Codes     VerificationStore
	Hasher    PasswordHasher
	Codec     *token.Codec
	Binder    *session.Binder
	SMS       sms.Sender
	Events    EventRecorder
	Directory UserDirectory
	Options   AuthOptions
	Logger    *zap.Logger
	Now       func() time.Time
}

// AuthService runs the register, login, refresh and logout transitions.
// Every successful login, registration or refresh advances the user's epoch,
// which retires all tokens minted before it.
type AuthService struct {
	users     repository.UserRepository
	codes     VerificationStore
	hasher    PasswordHasher
	codec     *token.Codec
	binder    *session.Binder
	sms       sms.Sender
	events    EventRecorder
	directory UserDirectory
	opts      AuthOptions
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuthService(d AuthDependencies) *AuthService {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Options.MaxVerificationRequests <= 0 {
		d.Options.MaxVerificationRequests = 5
	}
	return &AuthService{
		users:     d.Users,
		codes:     d.Codes,
		hasher:    d.Hasher,
		codec:     d.Codec,
		binder:    d.Binder,
		sms:       d.SMS,
		events:    d.Events,
		directory: d.Directory,
		opts:      d.Options,
		logger:    d.Logger,
		now:       d.Now,
	}
}

// RegisterRequest creates an account from a verified mobile number.
type RegisterRequest struct {
	Mobile           string
	Password         string
	VerificationCode string
	DeviceID         string
	ClientIP         string
}

type LoginRequest struct {
	Mobile   string
	Password string
	DeviceID string
	ClientIP string
}

// LoginResult is the owner's profile together with a fresh token pair.
type LoginResult struct {
	models.Profile
	token.Pair
}

type VerificationResult struct {
	VerificationCode string `json:"verification_code,omitempty"`
}

// SendVerification issues a verification code for mobile, reusing an
// unexpired one, and hands it to the SMS sender.
func (s *AuthService) SendVerification(ctx context.Context, mobile, clientIP string) (*VerificationResult, error) {
	mobile = util.NormalizeMobile(mobile)
	if !util.IsValidMobile(mobile) {
		return nil, apperrors.BadRequest("mobile is invalid")
	}

	count, err := s.codes.RequestCount(ctx, mobile)
	if err != nil {
		return nil, err
	}
	if count >= s.opts.MaxVerificationRequests {
		s.logger.Info("Verification code rate limited", util.Mobile(mobile), zap.Int64("count", count))
		return nil, apperrors.ErrVerificationRateLimited
	}

	code, err := s.codes.GetCode(ctx, mobile)
	if errors.Is(err, repository.ErrNotFound) {
		code, err = generateCode()
	}
	if err != nil {
		return nil, err
	}

	if err := s.codes.SetCode(ctx, mobile, code); err != nil {
		return nil, err
	}
	if err := s.sms.SendVerificationCode(ctx, mobile, code); err != nil {
		return nil, fmt.Errorf("failed to send verification code: %w", err)
	}

	s.record(ctx, models.SecurityEvent{
		EventType: models.EventVerificationSent,
		Mobile:    util.MaskMobile(mobile),
		IPAddress: clientIP,
		Success:   true,
	})

	res := &VerificationResult{}
	if s.opts.ExposeVerificationCode {
		res.VerificationCode = code
	}
	return res, nil
}

// Register creates a confirmed user and logs it in on req.DeviceID. An
// already registered mobile is rejected, whatever its status.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	mobile := util.NormalizeMobile(req.Mobile)
	switch {
	case req.DeviceID == "":
		return nil, apperrors.BadRequest("device-id header is required")
	case !util.IsValidMobile(mobile):
		return nil, apperrors.BadRequest("mobile is invalid")
	case req.VerificationCode == "":
		return nil, apperrors.BadRequest("verification_code is required")
	}
	if err := models.ValidatePassword(req.Password); err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}

	if _, err := s.users.FindByMobile(ctx, mobile); err == nil {
		return nil, apperrors.ErrMobileAlreadyRegistered
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up mobile: %w", err)
	}

	code, err := s.codes.GetCode(ctx, mobile)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.ErrVerificationExpired
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(req.VerificationCode)) != 1 {
		return nil, apperrors.ErrVerificationMismatch
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Mobile:       mobile,
		PasswordHash: digest,
		Gender:       models.GenderUnknown,
		Status:       models.StatusConfirmed,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastLoginAt:  models.NextEpoch(time.Time{}, now),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrMobileTaken) {
			return nil, apperrors.ErrMobileAlreadyRegistered
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.codes.DeleteCode(ctx, mobile); err != nil {
		s.logger.Warn("Failed to consume verification code", util.Mobile(mobile), zap.Error(err))
	}
	s.index(ctx, user)

	pair, err := s.codec.IssuePair(session.Derive(user, req.DeviceID))
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered", util.UserID(user.ID), util.Mobile(mobile), util.DeviceID(req.DeviceID))
	s.record(ctx, models.SecurityEvent{
		EventType: models.EventRegister,
		UserID:    user.ID,
		Mobile:    util.MaskMobile(mobile),
		DeviceID:  req.DeviceID,
		IPAddress: req.ClientIP,
		Success:   true,
	})

	return &LoginResult{Profile: user.PrivateProfile(), Pair: pair}, nil
}

// Login checks credentials and starts a new session epoch on req.DeviceID.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	mobile := util.NormalizeMobile(req.Mobile)
	switch {
	case req.DeviceID == "":
		return nil, apperrors.BadRequest("device-id header is required")
	case mobile == "":
		return nil, apperrors.BadRequest("mobile is required")
	case req.Password == "":
		return nil, apperrors.BadRequest("password is required")
	}

	user, err := s.users.FindByMobile(ctx, mobile)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up mobile: %w", err)
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		s.loginFailed(ctx, user, req, "password")
		return nil, apperrors.ErrPasswordIncorrect
	}
	if !user.IsAvailable() {
		s.loginFailed(ctx, user, req, "status "+user.Status.String())
		return nil, apperrors.ErrUserUnavailable
	}

	user, err = s.advanceEpoch(ctx, user)
	if err != nil {
		return nil, err
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, req.Password)
	}

	pair, err := s.codec.IssuePair(session.Derive(user, req.DeviceID))
	if err != nil {
		return nil, err
	}

	s.logger.Info("User logged in", util.UserID(user.ID), util.DeviceID(req.DeviceID))
	s.record(ctx, models.SecurityEvent{
		EventType: models.EventLogin,
		UserID:    user.ID,
		Mobile:    util.MaskMobile(user.Mobile),
		DeviceID:  req.DeviceID,
		IPAddress: req.ClientIP,
		Success:   true,
	})

	return &LoginResult{Profile: user.PrivateProfile(), Pair: pair}, nil
}

// Refresh exchanges a refresh token for a new pair. The exchange advances
// the epoch, so the presented refresh token and its sibling access token
// stop working.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh, deviceID, clientIP string) (*token.Pair, error) {
	sess, err := s.binder.Authenticate(ctx, rawRefresh, token.KindRefresh, deviceID)
	if err != nil {
		return nil, err
	}
	user := sess.User

	next := models.NextEpoch(user.LastLoginAt, s.now())
	ok, err := s.users.AdvanceEpoch(ctx, user.ID, user.LastLoginAt, next)
	if err != nil {
		return nil, fmt.Errorf("failed to advance login epoch: %w", err)
	}
	if !ok {
		// Another login or refresh won the race and retired this token.
		return nil, apperrors.ErrTokenInvalid
	}
	user.LastLoginAt = next
	user.Status = models.StatusConfirmed

	pair, err := s.codec.IssuePair(session.Derive(user, deviceID))
	if err != nil {
		return nil, err
	}

	s.record(ctx, models.SecurityEvent{
		EventType: models.EventRefresh,
		UserID:    user.ID,
		DeviceID:  deviceID,
		IPAddress: clientIP,
		Success:   true,
	})
	return &pair, nil
}

// Logout marks the user logged out. The epoch is left as is; the status gate
// of the binder rejects every outstanding token.
func (s *AuthService) Logout(ctx context.Context, rawAccess, deviceID, clientIP string) error {
	sess, err := s.binder.Authenticate(ctx, rawAccess, token.KindAccess, deviceID)
	if err != nil {
		return err
	}

	ok, err := s.users.MarkLoggedOut(ctx, sess.User.ID, sess.User.LastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	if !ok {
		return apperrors.ErrTokenInvalid
	}

	s.logger.Info("User logged out", util.UserID(sess.User.ID), util.DeviceID(deviceID))
	s.record(ctx, models.SecurityEvent{
		EventType: models.EventLogout,
		UserID:    sess.User.ID,
		DeviceID:  deviceID,
		IPAddress: clientIP,
		Success:   true,
	})
	return nil
}

// advanceEpoch moves user to a new epoch with a conditional write, reloading
// and retrying when a concurrent login got there first.
func (s *AuthService) advanceEpoch(ctx context.Context, user *models.User) (*models.User, error) {
	for attempt := 0; attempt < maxEpochAttempts; attempt++ {
		next := models.NextEpoch(user.LastLoginAt, s.now())

		ok, err := s.users.AdvanceEpoch(ctx, user.ID, user.LastLoginAt, next)
		if err != nil {
			return nil, fmt.Errorf("failed to advance login epoch: %w", err)
		}
		if ok {
			user.LastLoginAt = next
			user.Status = models.StatusConfirmed
			return user, nil
		}

		s.logger.Debug("Login epoch changed concurrently, retrying", util.UserID(user.ID), zap.Int("attempt", attempt+1))
		fresh, err := s.users.FindByID(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload user: %w", err)
		}
		if !fresh.IsAvailable() {
			return nil, apperrors.ErrUserUnavailable
		}
		user = fresh
	}
	return nil, errEpochContention
}

func (s *AuthService) rehash(ctx context.Context, user *models.User, password string) {
	digest, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdateProfile(ctx, user.ID, models.ProfileUpdate{PasswordHash: &digest})
	}
	if err != nil {
		s.logger.Warn("Failed to upgrade password hash", util.UserID(user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = digest
}

func (s *AuthService) loginFailed(ctx context.Context, user *models.User, req LoginRequest, reason string) {
	s.logger.Info("Login rejected", util.UserID(user.ID), util.DeviceID(req.DeviceID), zap.String("reason", reason))
	s.record(ctx, models.SecurityEvent{
		EventType: models.EventLoginFailed,
		UserID:    user.ID,
		Mobile:    util.MaskMobile(user.Mobile),
		DeviceID:  req.DeviceID,
		IPAddress: req.ClientIP,
		Reason:    reason,
	})
}

func (s *AuthService) index(ctx context.Context, user *models.User) {
	if s.directory == nil {
		return
	}
	if err := s.directory.Put(ctx, user.PublicProfile()); err != nil {
		s.logger.Warn("Failed to index user", util.UserID(user.ID), zap.Error(err))
	}
}

func (s *AuthService) record(ctx context.Context, e models.SecurityEvent) {
	if s.events != nil {
		s.events.Record(ctx, e)
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
