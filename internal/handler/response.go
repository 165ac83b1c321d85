package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/videotube-accounts/internal/apperr"
	"github.com/iliyamo/videotube-accounts/internal/logging"
)

// apiResponse is the success envelope shared by every route.
type apiResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// apiError is the error envelope written by ErrorHandler.
type apiError struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func respond(c echo.Context, status int, data any, message string) error {
	if data == nil {
		data = struct{}{}
	}
	return c.JSON(status, apiResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

// ErrorHandler renders any error as the error envelope. Classified errors
// keep their message; anything else becomes a 500 with the cause logged.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		log := logging.FromContextOr(c.Request().Context(), logger)

		status := http.StatusInternalServerError
		message := "Something went wrong"

		var ae *apperr.Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ae):
			status, message = ae.Status(), ae.Message
		case errors.As(err, &he):
			status = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(he.Code)
			}
		}
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "status", status, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, apiError{StatusCode: status, Message: message, Success: false, Errors: []string{}})
		}
		if err != nil {
			log.Error("write error response", "error", err)
		}
	}
}
