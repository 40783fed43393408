package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"moviebox-proxy-go/internal/client"
	"moviebox-proxy-go/internal/service"
)

const (
	defaultPage    = 1
	defaultPerPage = 24
	maxPerPage     = 100
)

// CatalogHandler serves the JSON catalog endpoints.
type CatalogHandler struct {
	service *service.CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(svc *service.CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		service: svc,
		logger:  logger.With("component", "catalog_handler"),
	}
}

// Homepage returns the landing page sections.
func (h *CatalogHandler) Homepage(c echo.Context) error {
	data, err := h.service.Homepage(c.Request().Context())
	if err != nil {
		return h.mapError(c, err)
	}
	return writeResults(c, data)
}

// Trending returns a page of trending titles.
func (h *CatalogHandler) Trending(c echo.Context) error {
	page, perPage, err := pagination(c)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err.Error(), nil)
	}
	data, err := h.service.Trending(c.Request().Context(), page, perPage)
	if err != nil {
		return h.mapError(c, err)
	}
	return writeResults(c, data)
}

// Search looks titles up by keyword.
func (h *CatalogHandler) Search(c echo.Context) error {
	query := pathParam(c, "query")
	if query == "" {
		return writeError(c, http.StatusBadRequest, "search query is required", nil)
	}
	page, perPage, err := pagination(c)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err.Error(), nil)
	}
	data, err := h.service.Search(c.Request().Context(), query, page, perPage, c.QueryParam("type"))
	if err != nil {
		return h.mapError(c, err)
	}
	return writeResults(c, data)
}

// Info returns the detail record of a title.
func (h *CatalogHandler) Info(c echo.Context) error {
	data, err := h.service.Info(c.Request().Context(), pathParam(c, "movieId"))
	if err != nil {
		return h.mapError(c, err)
	}
	return writeResults(c, data)
}

// Sources lists playable files. Without season and episode it resolves the
// movie's sources, with both it resolves one episode.
func (h *CatalogHandler) Sources(c echo.Context) error {
	season, err := intParam(c, "season", 0)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err.Error(), nil)
	}
	episode, err := intParam(c, "episode", 0)
	if err != nil {
		return writeError(c, http.StatusBadRequest, err.Error(), nil)
	}

	list, err := h.service.Sources(c.Request().Context(), pathParam(c, "movieId"), season, episode)
	if err != nil {
		return h.mapError(c, err)
	}
	return writeResults(c, list)
}

func (h *CatalogHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidEpisode), errors.Is(err, service.ErrInvalidSubjectType):
		return writeError(c, http.StatusBadRequest, err.Error(), nil)
	}

	h.logger.Error("catalog error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	var ue *client.UpstreamError
	if errors.As(err, &ue) {
		return writeError(c, http.StatusInternalServerError, "Catalog upstream rejected the request", err)
	}
	return writeError(c, http.StatusInternalServerError, "Failed to fetch from catalog", err)
}

func pagination(c echo.Context) (page, perPage int, err error) {
	if page, err = intParam(c, "page", defaultPage); err != nil {
		return 0, 0, err
	}
	if perPage, err = intParam(c, "perPage", defaultPerPage); err != nil {
		return 0, 0, err
	}
	if page < 1 {
		return 0, 0, errors.New("page must be at least 1")
	}
	if perPage < 1 || perPage > maxPerPage {
		return 0, 0, errors.New("perPage must be between 1 and 100")
	}
	return page, perPage, nil
}

// pathParam returns a decoded path parameter. Echo routes on RawPath when the
// request path carried escapes, and then hands out escaped values.
func pathParam(c echo.Context, name string) string {
	v := c.Param(name)
	if c.Request().URL.RawPath == "" {
		return v
	}
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}
