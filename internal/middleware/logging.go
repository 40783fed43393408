// Package middleware provides Echo middleware for logging, metrics, CORS and
// security headers.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors are logged at error level, client errors at warn. A handler
// that panics after committing the response is logged with status "aborted"
// and the panic is passed on.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := time.Now()

			defer func() {
				if r := recover(); r != nil {
					logRequest(logger, c, start, slog.LevelError, statusAborted)
					panic(r)
				}

				status := statusCode(c, err)
				level := slog.LevelInfo
				switch {
				case status >= 500:
					level = slog.LevelError
				case status >= 400:
					level = slog.LevelWarn
				}
				logRequest(logger, c, start, level, status)
			}()

			return next(c)
		}
	}
}

func logRequest(logger *slog.Logger, c echo.Context, start time.Time, level slog.Level, status any) {
	req := c.Request()
	res := c.Response()

	attrs := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", res.Header().Get(echo.HeaderXRequestID),
		"remote_ip", c.RealIP(),
		"bytes_out", res.Size,
	}
	if rng := req.Header.Get("Range"); rng != "" {
		attrs = append(attrs, "range", rng)
	}
	logger.Log(context.Background(), level, "request", attrs...)
}
