package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"moviebox-proxy-go/internal/client"
	"moviebox-proxy-go/internal/metrics"
	"moviebox-proxy-go/internal/model"
	"moviebox-proxy-go/internal/service"
)

// Route prefixes of the relay endpoints; everything after them is the
// escaped CDN URL.
const (
	StreamPrefix   = "/api/stream/"
	DownloadPrefix = "/api/download/"
)

const relayBufferSize = 32 * 1024

// MediaHandler relays CDN media files to clients.
type MediaHandler struct {
	service *service.MediaService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMediaHandler creates a MediaHandler. The metrics parameter is optional.
func NewMediaHandler(svc *service.MediaService, m *metrics.Metrics, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "media_handler"),
	}
}

// Download relays the file as an attachment.
func (h *MediaHandler) Download(c echo.Context) error {
	return h.relay(c, model.ModeDownload, DownloadPrefix)
}

// Stream relays the file inline, forwarding the client's Range header.
func (h *MediaHandler) Stream(c echo.Context) error {
	return h.relay(c, model.ModeStream, StreamPrefix)
}

// StreamPreflight answers CORS pre-flight requests for ranged playback. The
// path suffix is not validated.
func (h *MediaHandler) StreamPreflight(c echo.Context) error {
	header := c.Response().Header()
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	header.Set(echo.HeaderAccessControlAllowMethods, "GET, OPTIONS")
	header.Set(echo.HeaderAccessControlAllowHeaders, "Range")
	return c.NoContent(http.StatusOK)
}

func (h *MediaHandler) relay(c echo.Context, mode model.Mode, prefix string) error {
	req := c.Request()

	target, err := h.service.Validate(rawTarget(c, prefix))
	if err != nil {
		h.logger.Warn("rejected media url",
			"mode", mode,
			"err", err,
		)
		return writeError(c, http.StatusBadRequest, "Invalid URL: only media CDN links are accepted", nil)
	}
	target = withQuery(target, req.URL.RawQuery)

	mr := &model.MediaRequest{
		Ctx:       req.Context(),
		TargetURL: target,
		Mode:      mode,
	}
	if vals := req.Header.Values("Range"); mode == model.ModeStream && len(vals) > 0 {
		rng := vals[0]
		mr.Range = &rng
	}

	resp, err := h.service.Open(mr)
	if err != nil {
		return h.fail(c, mode, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch mode {
	case model.ModeDownload:
		h.writeDownloadHeaders(c, resp)
	case model.ModeStream:
		writeStreamHeaders(c, resp)
	}
	c.Response().WriteHeader(resp.StatusCode)
	_ = http.NewResponseController(c.Response()).Flush()

	n, err := copyBody(c.Response(), resp.Body)
	if h.metrics != nil {
		h.metrics.MediaBytes.WithLabelValues(string(mode)).Add(float64(n))
	}
	if err != nil {
		return h.fail(c, mode, fmt.Errorf("relay after %d bytes: %w", n, err))
	}

	h.logger.Debug("media relayed",
		"mode", mode,
		"status", resp.StatusCode,
		"bytes", n,
	)
	return nil
}

// fail reports a relay error. Before the response is committed the client
// gets a JSON 500. Afterwards the connection is aborted with
// http.ErrAbortHandler and nothing more is written.
func (h *MediaHandler) fail(c echo.Context, mode model.Mode, err error) error {
	if c.Response().Committed {
		h.logger.Error("media relay aborted",
			"mode", mode,
			"err", sanitizeError(err),
			"client_gone", c.Request().Context().Err() != nil,
		)
		if h.metrics != nil {
			h.metrics.RelayFailures.WithLabelValues(string(mode), metrics.StageAfterHeaders).Inc()
		}
		panic(http.ErrAbortHandler)
	}

	h.logger.Error("media relay failed",
		"mode", mode,
		"err", sanitizeError(err),
		"reason", failureReason(err),
	)
	if h.metrics != nil {
		h.metrics.RelayFailures.WithLabelValues(string(mode), metrics.StageBeforeHeaders).Inc()
	}

	message := "Failed to stream media"
	if mode == model.ModeDownload {
		message = "Failed to download media"
	}
	return writeError(c, http.StatusInternalServerError, message, err)
}

// failureReason classifies a pre-header error for logging.
func failureReason(err error) string {
	var dnsErr *net.DNSError
	var urlErr *url.Error
	switch {
	case errors.Is(err, service.ErrUnexpectedStatus):
		return "unexpected_status"
	case errors.Is(err, client.ErrHeaderTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "client_canceled"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &urlErr):
		return "connection"
	default:
		return "unknown"
	}
}

func (h *MediaHandler) writeDownloadHeaders(c echo.Context, resp *model.MediaResponse) {
	header := c.Response().Header()
	if resp.ContentType != nil {
		header.Set(echo.HeaderContentType, *resp.ContentType)
	}
	if resp.ContentLength != nil {
		header.Set(echo.HeaderContentLength, *resp.ContentLength)
	}
	filename := h.service.AttachmentFilename(resp.ContentDisposition)
	header.Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
}

func writeStreamHeaders(c echo.Context, resp *model.MediaResponse) {
	header := c.Response().Header()
	if resp.ContentType != nil {
		header.Set(echo.HeaderContentType, *resp.ContentType)
	}
	header.Set(echo.HeaderContentDisposition, "inline")
	header.Set("Cache-Control", "public, max-age=3600")
	header.Set("Accept-Ranges", "bytes")
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	if resp.ContentLength != nil {
		header.Set(echo.HeaderContentLength, *resp.ContentLength)
	}
	if resp.StatusCode == http.StatusPartialContent && resp.ContentRange != nil {
		header.Set("Content-Range", *resp.ContentRange)
	}
}

// rawTarget returns the still-escaped URL segment following prefix.
func rawTarget(c echo.Context, prefix string) string {
	if rest, ok := strings.CutPrefix(c.Request().URL.EscapedPath(), prefix); ok {
		return rest
	}
	return c.Param("*")
}

// withQuery re-attaches a query string that arrived unescaped on the inbound
// URL, unless the target already carries its own.
func withQuery(target, rawQuery string) string {
	if rawQuery == "" || strings.Contains(target, "?") {
		return target
	}
	return target + "?" + rawQuery
}

// copyBody relays src to dst chunk by chunk, flushing after every write so
// the client sees bytes as soon as they arrive. Writes block while the client
// is not reading, which in turn stops reads from upstream.
func copyBody(dst *echo.Response, src io.Reader) (int64, error) {
	rc := http.NewResponseController(dst)
	buf := make([]byte, relayBufferSize)

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("write to client: %w", werr)
			}
			if nw != nr {
				return written, fmt.Errorf("write to client: %w", io.ErrShortWrite)
			}
			_ = rc.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read from upstream: %w", rerr)
		}
	}
}
