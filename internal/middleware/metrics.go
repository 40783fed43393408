package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"moviebox-proxy-go/internal/metrics"
)

// statusAborted labels requests whose connection was torn down mid-response.
const statusAborted = "aborted"

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. A handler that panics after committing the
// response is counted with status "aborted" and the panic is passed on.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			m.RequestsInFlight.Inc()
			start := time.Now()

			defer func() {
				m.RequestsInFlight.Dec()

				if r := recover(); r != nil {
					observeRequest(m, c, statusAborted, start)
					panic(r)
				}
				observeRequest(m, c, strconv.Itoa(statusCode(c, err)), start)
			}()

			return next(c)
		}
	}
}

// statusCode resolves the status the client will see. When a handler returns
// an *echo.HTTPError the response has not been written yet; Echo's central
// error handler writes it later.
func statusCode(c echo.Context, err error) int {
	code := c.Response().Status
	if err != nil && !c.Response().Committed {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
	}
	return code
}

func observeRequest(m *metrics.Metrics, c echo.Context, status string, start time.Time) {
	method := metrics.NormalizeMethod(c.Request().Method)
	path := metrics.NormalizePath(c.Request().URL.Path)

	m.RequestsTotal.WithLabelValues(method, status, path).Inc()
	m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
}
