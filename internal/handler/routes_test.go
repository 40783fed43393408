package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"moviebox-proxy-go/internal/client"
	"moviebox-proxy-go/internal/config"
	"moviebox-proxy-go/internal/metrics"
	"moviebox-proxy-go/internal/service"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("media"))
	}))
	defer cdn.Close()

	catalogSrv := newCatalogUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
	})

	cfg := &config.Config{
		Media: config.MediaConfig{
			AllowedPrefixes:      []string{cdn.URL + "/"},
			HeaderTimeoutSeconds: 10,
			IdleConnections:      10,
			FallbackFilename:     "video.mp4",
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	catalogClient := newCatalogTestClient(t, catalogSrv.URL)
	media := NewMediaHandler(service.NewMediaService(client.NewMediaClient(cfg, logger, m), cfg, logger), m, logger)
	catalog := NewCatalogHandler(service.NewCatalogService(catalogClient, logger), logger)
	health := NewHealthHandler(cfg, "test", catalogClient)

	e := echo.New()
	RegisterRoutes(e, media, catalog, health)
	RegisterMetrics(e, cfg, m, logger)

	video := url.PathEscape(cdn.URL + "/a.mp4")

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK},
		{"GET /api/stream", http.MethodGet, "/api/stream/" + video, http.StatusOK},
		{"GET /api/download", http.MethodGet, "/api/download/" + video, http.StatusOK},
		{"GET /api/stream disallowed", http.MethodGet, "/api/stream/" + url.PathEscape("https://evil.example/a.mp4"), http.StatusBadRequest},
		{"OPTIONS /api/stream", http.MethodOptions, "/api/stream/whatever", http.StatusOK},
		{"GET /api/homepage", http.MethodGet, "/api/homepage", http.StatusOK},
		{"GET /api/trending", http.MethodGet, "/api/trending", http.StatusOK},
		{"GET /api/search/:query", http.MethodGet, "/api/search/dune", http.StatusOK},
		{"GET /api/info/:movieId", http.MethodGet, "/api/info/1", http.StatusOK},
		{"GET /api/sources/:movieId", http.MethodGet, "/api/sources/1", http.StatusOK},
		{"POST /api/homepage not allowed", http.MethodPost, "/api/homepage", http.StatusMethodNotAllowed},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRegisterMetrics_Disabled(t *testing.T) {
	e := echo.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	RegisterMetrics(e, &config.Config{}, metrics.New(), logger)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRegisterMetrics_Exposition(t *testing.T) {
	e := echo.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Metrics: config.MetricsConfig{Enabled: true, Path: "/internal/metrics"}}
	m := metrics.New()
	m.MediaBytes.WithLabelValues("stream").Add(42)
	RegisterMetrics(e, cfg, m, logger)

	req := httptest.NewRequest(http.MethodGet, "/internal/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `moviebox_proxy_media_bytes_total{mode="stream"} 42`) {
		t.Error("exposition is missing moviebox_proxy_media_bytes_total")
	}
}
