package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "careerpath/internal/errors"
	"careerpath/internal/model"
	"careerpath/internal/service"
)

// Cookie names of the token transport.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// CookieConfig controls the token cookies set on signup, login and refresh.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService service.AuthService
	userService service.UserService
	cookies     CookieConfig
}

// NewAuthHandler creates a new auth handler. The user service resolves the
// caller's stored role when a signup asks for an elevated role.
func NewAuthHandler(authService service.AuthService, userService service.UserService, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{authService: authService, userService: userService, cookies: cookies}
}

// SignupRequest represents a user registration request.
type SignupRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest represents a token refresh request. The refresh token may
// come from the body or the refreshToken cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SignupUser is the user summary returned by signup.
type SignupUser struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

// LoginUser is the user summary returned by login and refresh.
type LoginUser struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
}

// AuthResponse represents an authentication response.
type AuthResponse struct {
	User         interface{} `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// Signup godoc
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body SignupRequest true "Registration data"
// @Success 201 {object} APIResponse{data=AuthResponse}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return invalidInput("%s", err.Error())
	}
	role := model.Role(req.Role)
	createdByAdmin := role != "" && role != model.RoleUser
	if createdByAdmin {
		if err := h.requireAdminCaller(c); err != nil {
			return Fail(err)
		}
	}

	res, err := h.authService.Signup(c.Request().Context(), service.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		return Fail(err)
	}

	// An admin creating an account keeps its own session cookies.
	if !createdByAdmin {
		h.setTokenCookies(c, res)
	}
	return respond(c, http.StatusCreated, AuthResponse{
		User: SignupUser{
			ID:    res.User.ID.String(),
			Name:  res.User.Username,
			Email: res.User.Email,
			Role:  res.User.Role,
		},
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}, "Signup successful")
}

// Login godoc
// @Summary Login user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} APIResponse{data=AuthResponse}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return invalidInput("email and password are required")
	}

	res, err := h.authService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return Fail(err)
	}

	h.setTokenCookies(c, res)
	return respond(c, http.StatusOK, loginResponse(res), "Login successful")
}

// Refresh godoc
// @Summary Rotate the token pair
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest false "Refresh token, falls back to the refreshToken cookie"
// @Success 200 {object} APIResponse{data=AuthResponse}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput("invalid request body")
	}
	token := req.RefreshToken
	if token == "" {
		if cookie, err := c.Cookie(RefreshTokenCookie); err == nil {
			token = cookie.Value
		}
	}

	res, err := h.authService.RefreshTokens(c.Request().Context(), token)
	if err != nil {
		return Fail(err)
	}

	h.setTokenCookies(c, res)
	return respond(c, http.StatusOK, loginResponse(res), "Access token refreshed")
}

// Logout godoc
// @Summary Logout user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} APIResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return Fail(err)
	}

	if err := h.authService.Logout(c.Request().Context(), userID); err != nil {
		return Fail(err)
	}

	h.clearTokenCookies(c)
	return respond(c, http.StatusOK, nil, "User logged out successfully")
}

// requireAdminCaller checks that the request carries an access token of a
// stored admin. Only admins may create accounts with an elevated role.
func (h *AuthHandler) requireAdminCaller(c echo.Context) error {
	callerID, err := currentUserID(c)
	if err != nil {
		return fmt.Errorf("%w: only admins may assign a role", apperrors.ErrForbidden)
	}
	caller, err := h.userService.GetProfile(c.Request().Context(), callerID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("%w: only admins may assign a role", apperrors.ErrForbidden)
	}
	if err != nil {
		return err
	}
	if caller.Role != model.RoleAdmin {
		return fmt.Errorf("%w: only admins may assign a role", apperrors.ErrForbidden)
	}
	return nil
}

func loginResponse(res *service.AuthResult) AuthResponse {
	return AuthResponse{
		User: LoginUser{
			ID:       res.User.ID.String(),
			Username: res.User.Username,
			Email:    res.User.Email,
			Role:     res.User.Role,
		},
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}
}

func (h *AuthHandler) setTokenCookies(c echo.Context, res *service.AuthResult) {
	c.SetCookie(h.cookie(AccessTokenCookie, res.AccessToken, h.cookies.AccessTTL))
	c.SetCookie(h.cookie(RefreshTokenCookie, res.RefreshToken, h.cookies.RefreshTTL))
}

func (h *AuthHandler) clearTokenCookies(c echo.Context) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		cookie := h.cookie(name, "", 0)
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		c.SetCookie(cookie)
	}
}

func (h *AuthHandler) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	}
}
