package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"careerpath/internal/auth"
	apperrors "careerpath/internal/errors"
	"careerpath/internal/metrics"
	"careerpath/internal/model"
	"careerpath/internal/repository"
)

// Password length limits. bcrypt ignores input past 72 bytes, so longer
// passwords are rejected rather than silently truncated.
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
)

// TokenIssuer issues and verifies the token pair handed to clients.
type TokenIssuer interface {
	IssuePair(id auth.Identity) (auth.TokenPair, error)
	VerifyRefresh(token string) (*auth.RefreshClaims, error)
}

// Ensure JWTService satisfies TokenIssuer
var _ TokenIssuer = (*auth.JWTService)(nil)

// SignupInput carries the fields accepted at signup.
type SignupInput struct {
	Username string
	Email    string
	Password string
	Role     model.Role
}

// AuthResult is a user together with a freshly issued token pair.
type AuthResult struct {
	User         *model.User
	AccessToken  string
	RefreshToken string
}

// AuthService handles authentication operations.
type AuthService interface {
	Signup(ctx context.Context, input SignupInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Logout(ctx context.Context, userID uuid.UUID) error
	RefreshTokens(ctx context.Context, refreshToken string) (*AuthResult, error)
}

type authService struct {
	users   repository.UserRepository
	tokens  TokenIssuer
	hasher  auth.PasswordHasher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAuthService creates a new authentication service.
func NewAuthService(users repository.UserRepository, tokens TokenIssuer, hasher auth.PasswordHasher, logger *slog.Logger, m *metrics.Metrics) AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &authService{
		users:   users,
		tokens:  tokens,
		hasher:  hasher,
		logger:  logger,
		metrics: m,
	}
}

// Signup registers a new user and logs them in.
func (s *authService) Signup(ctx context.Context, input SignupInput) (res *AuthResult, err error) {
	defer func() { s.metrics.Observe("signup", err) }()

	username := strings.TrimSpace(input.Username)
	email := model.NormalizeEmail(input.Email)
	if username == "" || email == "" || input.Password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", apperrors.ErrInvalidInput)
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}
	role := input.Role
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: role must be user or admin", apperrors.ErrInvalidInput)
	}

	// Fast path only; the unique indexes are what reject a racing duplicate.
	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("%w: email already registered", apperrors.ErrConflict)
	}
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("check user existence: %w", err)
	}
	existing, err = s.users.FindByUsername(ctx, username)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("%w: username already taken", apperrors.ErrConflict)
	}
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("check user existence: %w", err)
	}

	hash, err := s.hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Plan:         model.PlanFree,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	pair, err := s.generateAccessAndRefreshTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.RefreshToken = &pair.RefreshToken

	s.logger.InfoContext(ctx, "user signed up",
		slog.String("user_id", user.ID.String()),
		slog.String("role", string(user.Role)),
	)
	return newAuthResult(user, pair), nil
}

// Login verifies credentials and issues a fresh token pair. The new refresh
// token replaces whatever the user held before, ending any earlier session.
func (s *authService) Login(ctx context.Context, email, password string) (res *AuthResult, err error) {
	defer func() { s.metrics.Observe("login", err) }()

	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", apperrors.ErrInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "login for unknown email")
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !s.verify(password, user.PasswordHash) {
		s.logger.WarnContext(ctx, "login with invalid password", slog.String("user_id", user.ID.String()))
		return nil, fmt.Errorf("%w: invalid credentials", apperrors.ErrUnauthorized)
	}

	pair, err := s.generateAccessAndRefreshTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.RefreshToken = &pair.RefreshToken

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID.String()))
	return newAuthResult(user, pair), nil
}

// Logout clears the stored refresh token. Access tokens stay valid until they
// expire. Logging out twice, or after the user was removed, is not an error.
func (s *authService) Logout(ctx context.Context, userID uuid.UUID) (err error) {
	defer func() { s.metrics.Observe("logout", err) }()

	_, err = s.users.Update(ctx, userID, model.UserPatch{ClearRefreshToken: true})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "logout for missing user", slog.String("user_id", userID.String()))
			return nil
		}
		return fmt.Errorf("clear refresh token: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", userID.String()))
	return nil
}

// RefreshTokens exchanges the user's current refresh token for a new pair.
// A token that verifies but is no longer the stored one, because of a later
// login, a refresh or a logout, is rejected.
func (s *authService) RefreshTokens(ctx context.Context, refreshToken string) (res *AuthResult, err error) {
	defer func() { s.metrics.Observe("refresh", err) }()

	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", apperrors.ErrInvalidInput)
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid refresh token", apperrors.ErrUnauthorized)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid refresh token", apperrors.ErrUnauthorized)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid refresh token", apperrors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !user.HasRefreshToken() || subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(refreshToken)) != 1 {
		s.logger.WarnContext(ctx, "refresh with superseded token", slog.String("user_id", userID.String()))
		return nil, fmt.Errorf("%w: refresh token is expired or used", apperrors.ErrUnauthorized)
	}

	pair, err := s.generateAccessAndRefreshTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.RefreshToken = &pair.RefreshToken

	return newAuthResult(user, pair), nil
}

// generateAccessAndRefreshTokens issues a pair for the user and stores the
// refresh token. Every failure is reported as ErrTokenGenerationFailed; the
// cause is only logged.
func (s *authService) generateAccessAndRefreshTokens(ctx context.Context, userID uuid.UUID) (auth.TokenPair, error) {
	fail := func(step string, err error) (auth.TokenPair, error) {
		s.logger.ErrorContext(ctx, "token generation failed",
			slog.String("user_id", userID.String()),
			slog.String("step", step),
			slog.Any("error", err),
		)
		return auth.TokenPair{}, apperrors.ErrTokenGenerationFailed
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fail("find user", err)
	}

	pair, err := s.tokens.IssuePair(identityOf(user))
	if err != nil {
		return fail("issue tokens", err)
	}

	if _, err := s.users.Update(ctx, userID, model.UserPatch{RefreshToken: &pair.RefreshToken}); err != nil {
		return fail("store refresh token", err)
	}
	return pair, nil
}

func (s *authService) hash(password string) (string, error) {
	defer s.metrics.ObserveHash(time.Now())
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (s *authService) verify(password, hash string) bool {
	defer s.metrics.ObserveHash(time.Now())
	return s.hasher.Verify(password, hash)
}

func validatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", apperrors.ErrInvalidInput, MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", apperrors.ErrInvalidInput, MaxPasswordBytes)
	}
	return nil
}

func identityOf(u *model.User) auth.Identity {
	return auth.Identity{ID: u.ID, Email: u.Email, Username: u.Username}
}

func newAuthResult(u *model.User, pair auth.TokenPair) *AuthResult {
	return &AuthResult{
		User:         u,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
}
