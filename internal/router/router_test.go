package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"careerpath/internal/auth"
	"careerpath/internal/config"
	apperrors "careerpath/internal/errors"
	"careerpath/internal/handler"
	"careerpath/internal/metrics"
	"careerpath/internal/model"
	"careerpath/internal/service"
	"careerpath/internal/testutil"
)

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Code       string          `json:"code"`
	Success    bool            `json:"success"`
}

type authData struct {
	User struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type testServer struct {
	e    *echo.Echo
	repo *testutil.MemoryUserRepository
	jwt  *auth.JWTService
	auth service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Env: "development"}

	repo := testutil.NewMemoryUserRepository()
	jwtService := auth.NewJWTService("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	m := metrics.New()

	authService := service.NewAuthService(repo, jwtService, hasher, logger, m)
	userService := service.NewUserService(repo, hasher, nil, logger)

	e := echo.New()
	Register(e, cfg, logger, jwtService, m,
		handler.NewAuthHandler(authService, userService, handler.CookieConfig{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour}),
		handler.NewUserHandler(userService),
	)
	return &testServer{e: e, repo: repo, jwt: jwtService, auth: authService}
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer "+token) }
}

func withCookie(name, value string) requestOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func (s *testServer) do(method, path string, body interface{}, opts ...requestOption) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) authData {
	t.Helper()
	var data authData
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	return data
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *testServer) signup(t *testing.T, username, email, password string) authData {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAuth(t, rec)
}

func (s *testServer) seedAdmin(t *testing.T) *service.AuthResult {
	t.Helper()
	admin, err := s.auth.Signup(context.Background(), service.SignupInput{
		Username: "root", Email: "root@x.com", Password: "secret1", Role: model.RoleAdmin,
	})
	require.NoError(t, err)
	return admin
}

func TestSignup(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "ana", "email": "ana@x.com", "password": "secret1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, http.StatusCreated, env.StatusCode)
	assert.True(t, env.Success)
	assert.Equal(t, "Signup successful", env.Message)

	data := decodeAuth(t, rec)
	assert.Equal(t, "ana", data.User.Name)
	assert.Equal(t, "ana@x.com", data.User.Email)
	assert.Equal(t, "user", data.User.Role)
	assert.NotEmpty(t, data.User.ID)
	assert.NotEmpty(t, data.AccessToken)
	assert.NotEmpty(t, data.RefreshToken)
	assert.NotEqual(t, data.AccessToken, data.RefreshToken)
	assert.NotContains(t, rec.Body.String(), "password")

	access := cookieByName(rec, handler.AccessTokenCookie)
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, data.AccessToken, access.Value)
	refresh := cookieByName(rec, handler.RefreshTokenCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, data.RefreshToken, refresh.Value)
}

func TestSignupErrors(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "ana", "ana@x.com", "secret1")

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{
			name:   "duplicate email",
			body:   map[string]string{"username": "other", "email": "ana@x.com", "password": "secret1"},
			status: http.StatusConflict,
			code:   "CONFLICT",
		},
		{
			name:   "duplicate username",
			body:   map[string]string{"username": "ana", "email": "other@x.com", "password": "secret1"},
			status: http.StatusConflict,
			code:   "CONFLICT",
		},
		{
			name:   "missing password",
			body:   map[string]string{"username": "bo", "email": "bo@x.com"},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "short password",
			body:   map[string]string{"username": "bo", "email": "bo@x.com", "password": "123"},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "unknown role",
			body:   map[string]string{"username": "bo", "email": "bo@x.com", "password": "secret1", "role": "root"},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "malformed body",
			body:   "not-an-object",
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/auth/signup", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			env := decode(t, rec)
			assert.Equal(t, tt.status, env.StatusCode)
			assert.Equal(t, tt.code, env.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestSignupElevatedRole(t *testing.T) {
	s := newTestServer(t)
	user := s.signup(t, "ana", "ana@x.com", "secret1")
	admin := s.seedAdmin(t)
	body := map[string]string{"username": "eve", "email": "eve@x.com", "password": "secret1", "role": "admin"}

	t.Run("anonymous caller", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/signup", body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "FORBIDDEN", decode(t, rec).Code)
		assert.Nil(t, cookieByName(rec, handler.AccessTokenCookie))

		_, err := s.repo.FindByEmail(context.Background(), "eve@x.com")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/signup", body, withBearer("garbage"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("non-admin caller", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/signup", body, withBearer(user.AccessToken))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "FORBIDDEN", decode(t, rec).Code)

		_, err := s.repo.FindByEmail(context.Background(), "eve@x.com")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("admin caller", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/signup", body, withBearer(admin.AccessToken))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "admin", decodeAuth(t, rec).User.Role)
		assert.Nil(t, cookieByName(rec, handler.AccessTokenCookie))
		assert.Nil(t, cookieByName(rec, handler.RefreshTokenCookie))

		stored, err := s.repo.FindByEmail(context.Background(), "eve@x.com")
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, stored.Role)
	})

	t.Run("explicit user role needs no token", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/signup", map[string]string{
			"username": "bo", "email": "bo@x.com", "password": "secret1", "role": "user",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "user", decodeAuth(t, rec).User.Role)
		assert.NotNil(t, cookieByName(rec, handler.AccessTokenCookie))
	})
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "ana", "ana@x.com", "secret1")

	rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@x.com", "password": "secret1"})

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeAuth(t, rec)
	assert.Equal(t, "ana", data.User.Username)
	assert.Equal(t, "ana@x.com", data.User.Email)
	assert.Equal(t, "Login successful", decode(t, rec).Message)
}

func TestLoginErrors(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "ana", "ana@x.com", "secret1")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{name: "wrong password", body: map[string]string{"email": "ana@x.com", "password": "wrong"}, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "unknown email", body: map[string]string{"email": "nobody@x.com", "password": "secret1"}, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "missing password", body: map[string]string{"email": "ana@x.com"}, status: http.StatusBadRequest, code: "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/auth/login", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec).Code)
		})
	}
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "ana", "ana@x.com", "secret1")

	t.Run("bearer header", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/auth/me", nil, withBearer(signup.AccessToken))
		require.Equal(t, http.StatusOK, rec.Code)

		var user model.User
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &user))
		assert.Equal(t, "ana@x.com", user.Email)
		assert.NotContains(t, rec.Body.String(), "passwordHash")
		assert.NotContains(t, rec.Body.String(), signup.RefreshToken)
	})

	t.Run("cookie", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/auth/me", nil, withCookie(handler.AccessTokenCookie, signup.AccessToken))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/auth/me", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", decode(t, rec).Code)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/auth/me", nil, withBearer(signup.RefreshToken))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "ana", "ana@x.com", "secret1")

	rec := s.do(http.MethodPost, "/api/auth/logout", nil, withBearer(signup.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User logged out successfully", decode(t, rec).Message)
	for _, name := range []string{handler.AccessTokenCookie, handler.RefreshTokenCookie} {
		cookie := cookieByName(rec, name)
		require.NotNil(t, cookie, name)
		assert.Empty(t, cookie.Value)
		assert.Less(t, cookie.MaxAge, 0)
	}

	// Idempotent.
	rec = s.do(http.MethodPost, "/api/auth/logout", nil, withBearer(signup.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": signup.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The access token stays valid until it expires.
	rec = s.do(http.MethodGet, "/api/auth/me", nil, withBearer(signup.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.repo.FindByEmail(context.Background(), "ana@x.com")
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken)
}

func TestLogoutRequiresAccessToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "ana", "ana@x.com", "secret1")

	rec := s.do(http.MethodPost, "/api/auth/refresh", nil, withCookie(handler.RefreshTokenCookie, signup.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decodeAuth(t, rec)
	assert.NotEqual(t, signup.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, rotated.RefreshToken, cookieByName(rec, handler.RefreshTokenCookie).Value)

	rec = s.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": signup.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": rotated.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecondLoginSupersedesFirst(t *testing.T) {
	s := newTestServer(t)
	first := s.signup(t, "ana", "ana@x.com", "secret1")

	rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@x.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "ana", "ana@x.com", "secret1")

	rec := s.do(http.MethodPut, "/api/auth/update", map[string]string{"bio": "future analyst", "gender": "female"}, withBearer(signup.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var user model.User
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &user))
	assert.Equal(t, "future analyst", user.Bio)
	assert.Equal(t, "female", user.Gender)

	rec = s.do(http.MethodPut, "/api/auth/update", map[string]string{"gender": "robot"}, withBearer(signup.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	signup := s.signup(t, "ana", "ana@x.com", "secret1")

	rec := s.do(http.MethodPut, "/api/auth/password",
		map[string]string{"currentPassword": "wrong", "newPassword": "secret2"}, withBearer(signup.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPut, "/api/auth/password",
		map[string]string{"currentPassword": "secret1", "newPassword": "secret2"}, withBearer(signup.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@x.com", "password": "secret2"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": signup.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminUsers(t *testing.T) {
	s := newTestServer(t)
	user := s.signup(t, "ana", "ana@x.com", "secret1")
	admin := s.seedAdmin(t)

	rec := s.do(http.MethodGet, "/api/admin/users", nil, withBearer(user.AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec).Code)

	rec = s.do(http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/admin/users", nil, withBearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var users []model.User
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &users))
	assert.Len(t, users, 2)
}

func TestAdminDeleteUser(t *testing.T) {
	s := newTestServer(t)
	user := s.signup(t, "ana", "ana@x.com", "secret1")
	other := s.signup(t, "bo", "bo@x.com", "secret1")
	admin := s.seedAdmin(t)

	t.Run("non-admin caller", func(t *testing.T) {
		rec := s.do(http.MethodDelete, "/api/admin/users/"+other.User.ID, nil, withBearer(user.AccessToken))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := s.do(http.MethodDelete, "/api/admin/users/not-a-uuid", nil, withBearer(admin.AccessToken))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", decode(t, rec).Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := s.do(http.MethodDelete, "/api/admin/users/"+uuid.NewString(), nil, withBearer(admin.AccessToken))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decode(t, rec).Code)
	})

	t.Run("own account", func(t *testing.T) {
		rec := s.do(http.MethodDelete, "/api/admin/users/"+admin.User.ID.String(), nil, withBearer(admin.AccessToken))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("deletes the account", func(t *testing.T) {
		rec := s.do(http.MethodDelete, "/api/admin/users/"+user.User.ID, nil, withBearer(admin.AccessToken))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "User deleted successfully", decode(t, rec).Message)

		rec = s.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ana@x.com", "password": "secret1"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = s.do(http.MethodGet, "/api/auth/me", nil, withBearer(user.AccessToken))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "ana", "ana@x.com", "secret1")

	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `auth_operations_total{operation="signup",outcome="success"} 1`)

	rec = s.do(http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec).Code)
}
