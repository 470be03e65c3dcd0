package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatrelay/internal/auth"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// SearchLimit caps SEARCH_USERS results.
const SearchLimit = 50

// UserService owns accounts, credentials and advertised status.
type UserService struct {
	store       interfaces.UserStore
	credentials interfaces.CredentialService
	limiter     *auth.LoginLimiter
	logger      *zap.Logger
}

// NewUserService wires the account service. limiter may be nil to disable
// failed-login throttling.
func NewUserService(store interfaces.UserStore, credentials interfaces.CredentialService, limiter *auth.LoginLimiter, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		store:       store,
		credentials: credentials,
		limiter:     limiter,
		logger:      logger.Named("users"),
	}
}

// Register creates an account after checking that username and email are free.
func (s *UserService) Register(ctx context.Context, reg *types.Registration) (*types.User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if err := reg.Validate(); err != nil {
		return nil, invalid(err)
	}

	taken, err := s.store.UsernameExists(ctx, reg.Username)
	if err != nil {
		return nil, errors.Wrap(err, "check username")
	}
	if taken {
		return nil, ErrUsernameExists
	}
	taken, err = s.store.EmailExists(ctx, reg.Email)
	if err != nil {
		return nil, errors.Wrap(err, "check email")
	}
	if taken {
		return nil, ErrEmailExists
	}

	hash, err := s.credentials.Hash(reg.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.store.CreateUser(ctx, reg, hash)
	if errors.Is(err, interfaces.ErrConflict) {
		// Lost a race with a concurrent registration.
		return nil, ErrUsernameExists
	}
	if err != nil {
		return nil, errors.Wrap(err, "create user")
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.UserID), zap.String("username", user.Username))
	return user, nil
}

// Login verifies credentials, marks the user ONLINE and returns the fresh record.
func (s *UserService) Login(ctx context.Context, username, password string) (*types.User, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.MarkOnline(ctx, user.UserID)
}

// Authenticate verifies credentials and records the login time without
// touching the advertised status.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*types.User, error) {
	// Register stores the trimmed name, so the lookup must trim too.
	username = strings.TrimSpace(username)
	if s.limiter != nil && !s.limiter.Allow(username) {
		s.logger.Warn("login throttled", zap.String("username", username))
		return nil, ErrTooManyAttempts
	}

	user, hash, err := s.store.GetCredentials(ctx, username)
	if errors.Is(err, interfaces.ErrNotFound) {
		s.failed(username)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, errors.Wrap(err, "load credentials")
	}
	if !s.credentials.Verify(password, hash) {
		s.failed(username)
		return nil, ErrInvalidCredentials
	}
	if s.limiter != nil {
		s.limiter.Reset(username)
	}

	if err := s.store.TouchLastLogin(ctx, user.UserID); err != nil {
		return nil, errors.Wrap(err, "touch last login")
	}
	return user, nil
}

// MarkOnline sets the user ONLINE and returns the fresh record.
func (s *UserService) MarkOnline(ctx context.Context, userID int64) (*types.User, error) {
	if err := s.store.UpdateStatus(ctx, userID, types.StatusOnline); err != nil {
		return nil, errors.Wrap(err, "mark online")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	return user, errors.Wrap(err, "reload user")
}

func (s *UserService) failed(username string) {
	if s.limiter != nil {
		s.limiter.Fail(username)
	}
	s.logger.Info("login rejected", zap.String("username", username))
}

// Logout marks the user OFFLINE.
func (s *UserService) Logout(ctx context.Context, userID int64) error {
	return errors.Wrap(s.store.UpdateStatus(ctx, userID, types.StatusOffline), "mark offline")
}

// UpdateProfile changes the display name and status message.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, fullName, statusMessage string) error {
	if len(fullName) > types.MaxFullNameLength {
		return invalid(types.ErrInvalidFullName)
	}
	return errors.Wrap(s.store.UpdateProfile(ctx, userID, fullName, statusMessage), "update profile")
}

// UpdateStatus parses and stores an advertised status.
func (s *UserService) UpdateStatus(ctx context.Context, userID int64, raw string) (types.UserStatus, error) {
	status, err := types.ParseUserStatus(raw)
	if err != nil {
		return "", invalid(err)
	}
	if err := s.store.UpdateStatus(ctx, userID, status); err != nil {
		return "", errors.Wrap(err, "update status")
	}
	return status, nil
}

// Search matches usernames and full names.
func (s *UserService) Search(ctx context.Context, keyword string) ([]*types.User, error) {
	users, err := s.store.SearchUsers(ctx, strings.TrimSpace(keyword), SearchLimit)
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	return users, nil
}

// Profile returns one user's public record.
func (s *UserService) Profile(ctx context.Context, userID int64) (*types.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}
	return user, nil
}

// Exists reports whether userID names an account.
func (s *UserService) Exists(ctx context.Context, userID int64) error {
	_, err := s.Profile(ctx, userID)
	return err
}
