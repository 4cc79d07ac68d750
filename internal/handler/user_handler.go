package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apperrors "careerpath/internal/errors"
	"careerpath/internal/model"
	"careerpath/internal/service"
)

// UserHandler serves the authenticated user's profile.
type UserHandler struct {
	svc service.UserService
}

// NewUserHandler creates a handler layer.
func NewUserHandler(svc service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// UpdateProfileRequest carries the editable profile fields. Omitted fields are
// left untouched.
type UpdateProfileRequest struct {
	Bio        *string `json:"bio" validate:"omitempty,max=200"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	Location   *string `json:"location" validate:"omitempty,max=255"`
	Gender     *string `json:"gender" validate:"omitempty,oneof=male female other"`
	ProfilePic *string `json:"profilePic" validate:"omitempty,max=512"`
	CoverImage *string `json:"coverImage" validate:"omitempty,max=512"`
}

// ChangePasswordRequest represents a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
}

// Me godoc
// @Summary Current user profile
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} APIResponse{data=model.User}
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /auth/me [get]
func (h *UserHandler) Me(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return Fail(err)
	}
	user, err := h.svc.GetProfile(c.Request().Context(), userID)
	if err != nil {
		return Fail(err)
	}
	return respond(c, http.StatusOK, user, "User fetched successfully")
}

// UpdateProfile godoc
// @Summary Update profile fields
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpdateProfileRequest true "Profile fields"
// @Success 200 {object} APIResponse{data=model.User}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /auth/update [put]
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return Fail(err)
	}

	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return invalidInput("%s", err.Error())
	}

	user, err := h.svc.UpdateProfile(c.Request().Context(), userID, service.ProfileInput{
		Bio:        req.Bio,
		Phone:      req.Phone,
		Location:   req.Location,
		Gender:     req.Gender,
		ProfilePic: req.ProfilePic,
		CoverImage: req.CoverImage,
	})
	if err != nil {
		return Fail(err)
	}
	return respond(c, http.StatusOK, user, "Profile updated successfully")
}

// ChangePassword godoc
// @Summary Change password
// @Description Replaces the password and revokes the stored refresh token.
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Current and new password"
// @Success 200 {object} APIResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Router /auth/password [put]
func (h *UserHandler) ChangePassword(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return Fail(err)
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return invalidInput("%s", err.Error())
	}

	if err := h.svc.ChangePassword(c.Request().Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		return Fail(err)
	}
	return respond(c, http.StatusOK, nil, "Password changed successfully")
}

// ListUsers godoc
// @Summary List users
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} APIResponse{data=[]model.User}
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /admin/users [get]
func (h *UserHandler) ListUsers(c echo.Context) error {
	users, err := h.svc.ListUsers(c.Request().Context())
	if err != nil {
		return Fail(err)
	}
	return respond(c, http.StatusOK, users, "Users fetched successfully")
}

// DeleteUser godoc
// @Summary Delete a user
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} APIResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /admin/users/{id} [delete]
func (h *UserHandler) DeleteUser(c echo.Context) error {
	actorID, err := currentUserID(c)
	if err != nil {
		return Fail(err)
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return invalidInput("invalid id")
	}

	if err := h.svc.DeleteUser(c.Request().Context(), actorID, id); err != nil {
		return Fail(err)
	}
	return respond(c, http.StatusOK, nil, "User deleted successfully")
}

// RequireAdmin rejects callers whose stored role is not admin. The access
// token carries no role, so the role is read from the user record.
func (h *UserHandler) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := currentUserID(c)
		if err != nil {
			return Fail(err)
		}
		user, err := h.svc.GetProfile(c.Request().Context(), userID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return Fail(fmt.Errorf("%w: unknown caller", apperrors.ErrUnauthorized))
		}
		if err != nil {
			return Fail(err)
		}
		if user.Role != model.RoleAdmin {
			return Fail(apperrors.ErrForbidden)
		}
		return next(c)
	}
}
