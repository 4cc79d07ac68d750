package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"careerpath/internal/auth"
	"careerpath/internal/cache"
	apperrors "careerpath/internal/errors"
	"careerpath/internal/model"
	"careerpath/internal/repository"
)

const userCacheTTL = 5 * time.Minute

// ProfileInput carries editable profile fields. Nil fields are left untouched.
type ProfileInput struct {
	Bio        *string
	Phone      *string
	Location   *string
	Gender     *string
	ProfilePic *string
	CoverImage *string
}

// UserService exposes profile operations on the authenticated user.
type UserService interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*model.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, input ProfileInput) (*model.User, error)
	ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, actorID, id uuid.UUID) error
}

type userService struct {
	repo   repository.UserRepository
	hasher auth.PasswordHasher
	cache  *cache.Client
	logger *slog.Logger
}

// NewUserService builds a UserService with repository and cache.
func NewUserService(repo repository.UserRepository, hasher auth.PasswordHasher, cache *cache.Client, logger *slog.Logger) UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &userService{repo: repo, hasher: hasher, cache: cache, logger: logger}
}

func (s *userService) cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("user:%s", id)
}

func (s *userService) GetProfile(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var cached model.User
	if s.cache.GetJSON(ctx, s.cacheKey(id), &cached) {
		return &cached, nil
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.SetJSON(ctx, s.cacheKey(id), user, userCacheTTL)
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, id uuid.UUID, input ProfileInput) (*model.User, error) {
	patch := model.UserPatch{
		Bio:        input.Bio,
		Phone:      input.Phone,
		Location:   input.Location,
		Gender:     input.Gender,
		ProfilePic: input.ProfilePic,
		CoverImage: input.CoverImage,
	}
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, err.Error())
	}

	user, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.cache.Delete(ctx, s.cacheKey(id))
	return user, nil
}

// ChangePassword re-hashes the password and clears the stored refresh token,
// so other sessions must log in again once their access tokens expire.
func (s *userService) ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return fmt.Errorf("%w: current and new password are required", apperrors.ErrInvalidInput)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return fmt.Errorf("%w: current password is incorrect", apperrors.ErrUnauthorized)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.repo.Update(ctx, id, model.UserPatch{PasswordHash: &hash, ClearRefreshToken: true}); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update password: %w", err)
	}

	s.cache.Delete(ctx, s.cacheKey(id))
	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", id.String()))
	return nil
}

func (s *userService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.List(ctx)
}

// DeleteUser removes the account with the given id on behalf of an admin.
// Admins cannot delete themselves.
func (s *userService) DeleteUser(ctx context.Context, actorID, id uuid.UUID) error {
	if actorID == id {
		return fmt.Errorf("%w: cannot delete your own account", apperrors.ErrInvalidInput)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete user: %w", err)
	}

	s.cache.Delete(ctx, s.cacheKey(id))
	s.logger.InfoContext(ctx, "user deleted",
		slog.String("user_id", id.String()),
		slog.String("actor_id", actorID.String()),
	)
	return nil
}
