// Package testutil holds fakes shared by service and handler tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "careerpath/internal/errors"
	"careerpath/internal/model"
	"careerpath/internal/repository"
)

// MemoryUserRepository is an in-memory repository.UserRepository. Create
// checks both unique keys and inserts under one lock, like a unique index.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.User

	// FailUpdate, when set, is returned by Update.
	FailUpdate error
}

var _ repository.UserRepository = (*MemoryUserRepository)(nil)

// NewMemoryUserRepository returns an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: map[uuid.UUID]model.User{}}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *model.User) error {
	if err := user.BeforeCreate(nil); err != nil {
		return err
	}
	user.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email || u.Username == user.Username {
			return fmt.Errorf("%w: username or email already registered", apperrors.ErrConflict)
		}
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	r.users[user.ID] = clone(*user)
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, id uuid.UUID, patch model.UserPatch) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailUpdate != nil {
		return nil, r.FailUpdate
	}
	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.ClearRefreshToken {
		u.RefreshToken = nil
	} else if patch.RefreshToken != nil {
		token := *patch.RefreshToken
		u.RefreshToken = &token
	}
	if patch.Plan != nil {
		u.Plan = *patch.Plan
	}
	if patch.PlanExpiresAt != nil {
		at := *patch.PlanExpiresAt
		u.PlanExpiresAt = &at
	}
	setTrimmed(&u.Bio, patch.Bio)
	setTrimmed(&u.Phone, patch.Phone)
	setTrimmed(&u.Location, patch.Location)
	setTrimmed(&u.Gender, patch.Gender)
	setTrimmed(&u.ProfilePic, patch.ProfilePic)
	setTrimmed(&u.CoverImage, patch.CoverImage)
	u.UpdatedAt = time.Now()

	r.users[id] = u
	out := clone(u)
	return &out, nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := clone(u)
	return &out, nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.findBy(func(u model.User) bool { return u.Email == model.NormalizeEmail(email) })
}

func (r *MemoryUserRepository) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return r.findBy(func(u model.User) bool { return u.Username == username })
}

func (r *MemoryUserRepository) List(_ context.Context) ([]model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, clone(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryUserRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *MemoryUserRepository) findBy(match func(model.User) bool) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if match(u) {
			out := clone(u)
			return &out, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func clone(u model.User) model.User {
	if u.RefreshToken != nil {
		token := *u.RefreshToken
		u.RefreshToken = &token
	}
	if u.PlanExpiresAt != nil {
		at := *u.PlanExpiresAt
		u.PlanExpiresAt = &at
	}
	return u
}

func setTrimmed(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}
