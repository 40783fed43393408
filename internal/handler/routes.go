package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moviebox-proxy-go/internal/config"
	"moviebox-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, media *MediaHandler, catalog *CatalogHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET(DownloadPrefix+"*", media.Download)
	e.GET(StreamPrefix+"*", media.Stream)
	e.OPTIONS(StreamPrefix+"*", media.StreamPreflight)

	api := e.Group("/api")
	api.GET("/homepage", catalog.Homepage)
	api.GET("/trending", catalog.Trending)
	api.GET("/search/:query", catalog.Search)
	api.GET("/info/:movieId", catalog.Info)
	api.GET("/sources/:movieId", catalog.Sources)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
}
