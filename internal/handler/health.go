package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"moviebox-proxy-go/internal/client"
	"moviebox-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	catalog *client.CatalogClient
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, catalog *client.CatalogClient) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, catalog: catalog}
}

type statusBody struct {
	Status             string   `json:"status"`
	Version            string   `json:"version"`
	UpstreamURL        string   `json:"upstream_url"`
	SessionEstablished bool     `json:"session_established"`
	SessionSince       string   `json:"session_since,omitempty"`
	AllowedPrefixes    []string `json:"allowed_prefixes"`
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. It never triggers a catalog
// bootstrap.
func (h *HealthHandler) Status(c echo.Context) error {
	body := statusBody{
		Status:          "ok",
		Version:         string(h.version),
		UpstreamURL:     h.catalog.BaseURL(),
		AllowedPrefixes: h.cfg.Media.AllowedPrefixes,
	}
	if sess := h.catalog.SessionState().Current(); sess != nil {
		body.SessionEstablished = true
		body.SessionSince = sess.EstablishedAt.UTC().Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, body)
}
