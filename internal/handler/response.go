package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"careerpath/internal/auth"
	apperrors "careerpath/internal/errors"
)

// UserContextKey is where the access-token middleware stores the verified claims.
const UserContextKey = "user"

// APIResponse is the envelope of every successful response.
type APIResponse struct {
	StatusCode int         `json:"statusCode"`
	Data       interface{} `json:"data"`
	Message    string      `json:"message"`
	Success    bool        `json:"success"`
}

func respond(c echo.Context, status int, data interface{}, message string) error {
	if data == nil {
		data = struct{}{}
	}
	return c.JSON(status, APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

// Fail converts a domain error into an echo error carrying the error envelope.
// The cause is kept as the internal error for logging.
func Fail(err error) *echo.HTTPError {
	httpErr := apperrors.MapErrorToHTTP(err)
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse()).SetInternal(err)
}

func invalidInput(format string, args ...interface{}) *echo.HTTPError {
	return Fail(fmt.Errorf("%w: "+format, append([]interface{}{apperrors.ErrInvalidInput}, args...)...))
}

// ErrorHandler renders every error as the error envelope. Server-side
// failures are logged with their cause; the client only sees a fixed message.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		resp := toErrorResponse(err)
		if resp.StatusCode >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request().Context(), "request failed",
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
				slog.Any("error", err),
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(resp.StatusCode)
		} else {
			err = c.JSON(resp.StatusCode, resp)
		}
		if err != nil {
			logger.ErrorContext(c.Request().Context(), "write error response", slog.Any("error", err))
		}
	}
}

func toErrorResponse(err error) apperrors.ErrorResponse {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return apperrors.MapErrorToHTTP(err).ToErrorResponse()
	}

	switch msg := he.Message.(type) {
	case apperrors.ErrorResponse:
		msg.Success = false
		return msg
	case string:
		return apperrors.ErrorResponse{StatusCode: he.Code, Message: msg, Code: codeForStatus(he.Code)}
	default:
		return apperrors.ErrorResponse{StatusCode: he.Code, Message: http.StatusText(he.Code), Code: codeForStatus(he.Code)}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_INPUT"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	}
	if status >= http.StatusInternalServerError {
		return "INTERNAL_ERROR"
	}
	return "REQUEST_FAILED"
}

// currentUserID reads the caller's id from the verified access-token claims.
func currentUserID(c echo.Context) (uuid.UUID, error) {
	claims, ok := c.Get(UserContextKey).(*auth.AccessClaims)
	if !ok || claims == nil {
		return uuid.Nil, fmt.Errorf("%w: missing access token", apperrors.ErrUnauthorized)
	}
	id, err := claims.UserID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid access token", apperrors.ErrUnauthorized)
	}
	return id, nil
}
