package service

import (
	"go.uber.org/zap"

	"colleague-auth/internal/config"
	"colleague-auth/internal/repository"
	"colleague-auth/internal/session"
	"colleague-auth/internal/sms"
	"colleague-auth/internal/token"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps        AuthDependencies
	authService *AuthService
	userService *UserService
}

// NewServiceFactory creates a new service factory. Directory and events may
// be nil.
func NewServiceFactory(
	cfg *config.Config,
	users repository.UserRepository,
	codes VerificationStore,
	hasher PasswordHasher,
	codec *token.Codec,
	binder *session.Binder,
	sender sms.Sender,
	events EventRecorder,
	directory UserDirectory,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		deps: AuthDependencies{
			Users:     users,
			Codes:     codes,
			Hasher:    hasher,
			Codec:     codec,
			Binder:    binder,
			SMS:       sender,
			Events:    events,
			Directory: directory,
			Options: AuthOptions{
				MaxVerificationRequests: cfg.Verification.MaxRequests,
				ExposeVerificationCode:  cfg.Verification.ExposeCode,
			},
			Logger: logger,
		},
	}
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(f.deps)
	}
	return f.authService
}

// UserService returns the user service instance (singleton)
func (f *ServiceFactory) UserService() *UserService {
	if f.userService == nil {
		d := f.deps
		f.userService = NewUserService(d.Users, d.Hasher, d.Directory, d.Events, d.Logger)
	}
	return f.userService
}
