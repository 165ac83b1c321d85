package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/videotube-accounts/internal/logging"
)

// RequestLogger attaches a request-scoped logger to the request context and
// logs one line per completed request. It must run after Echo's RequestID
// middleware to pick up the request id.
func RequestLogger(base *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = req.Header.Get(echo.HeaderXRequestID)
			}

			reqLogger := base.With(
				slog.String("request_id", requestID),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("remote_addr", c.RealIP()),
			)
			c.SetRequest(req.WithContext(logging.WithLogger(req.Context(), reqLogger)))

			// Resolve the error here so the logged status is the one sent.
			if err := next(c); err != nil {
				c.Error(err)
			}

			level := slog.LevelInfo
			status := c.Response().Status
			if status >= 500 {
				level = slog.LevelError
			}
			reqLogger.LogAttrs(c.Request().Context(), level, "request completed",
				slog.Int("status", status),
				slog.Int64("bytes", c.Response().Size),
				slog.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}
