package router

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"

	"careerpath/internal/auth"
	"careerpath/internal/config"
	apperrors "careerpath/internal/errors"
	"careerpath/internal/handler"
	"careerpath/internal/metrics"
)

// AccessTokenLookup reads the bearer header first, then the access-token cookie.
const AccessTokenLookup = "header:" + echo.HeaderAuthorization + ":Bearer ,cookie:" + handler.AccessTokenCookie

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	cfg *config.Config,
	logger *slog.Logger,
	tokens *auth.JWTService,
	m *metrics.Metrics,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
) {
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	if cfg.CORSOrigin != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     []string{cfg.CORSOrigin},
			AllowCredentials: true,
		}))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api")
	requireAccess := AccessTokenMiddleware(tokens)

	// Public routes
	authGroup := api.Group("/auth")
	authGroup.POST("/signup", authHandler.Signup, OptionalAccessTokenMiddleware(tokens))
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/refresh", authHandler.Refresh)

	// Secured routes (require a valid access token)
	authGroup.POST("/logout", authHandler.Logout, requireAccess)
	authGroup.GET("/me", userHandler.Me, requireAccess)
	authGroup.PUT("/update", userHandler.UpdateProfile, requireAccess)
	authGroup.PUT("/password", userHandler.ChangePassword, requireAccess)

	admin := api.Group("/admin", requireAccess, userHandler.RequireAdmin)
	admin.GET("/users", userHandler.ListUsers)
	admin.DELETE("/users/:id", userHandler.DeleteUser)
}

// AccessTokenMiddleware verifies the access token with the JWT service and
// stores its claims under handler.UserContextKey.
func AccessTokenMiddleware(tokens *auth.JWTService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  handler.UserContextKey,
		TokenLookup: AccessTokenLookup,
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return tokens.VerifyAccess(token)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return handler.Fail(fmt.Errorf("%w: invalid or missing access token", apperrors.ErrUnauthorized))
		},
	})
}

// OptionalAccessTokenMiddleware stores the claims of a valid access token when
// one is present and lets the request through either way.
func OptionalAccessTokenMiddleware(tokens *auth.JWTService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  handler.UserContextKey,
		TokenLookup: AccessTokenLookup,
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return tokens.VerifyAccess(token)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return nil
		},
		ContinueOnIgnoredError: true,
	})
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				if v.Status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
