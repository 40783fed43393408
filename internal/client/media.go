// Package client provides the upstream HTTP clients: the CDN media client
// used by the relay and the catalog API client.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"moviebox-proxy-go/internal/config"
	"moviebox-proxy-go/internal/metrics"
)

// ErrHeaderTimeout is returned when upstream response headers do not arrive
// within the configured bound, redirects and connection setup included.
var ErrHeaderTimeout = errors.New("media upstream did not answer in time")

// MediaClient opens streamed GET requests against CDN media URLs.
type MediaClient struct {
	httpClient    *http.Client
	headerTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewMediaClient creates a MediaClient. Only the time until response headers
// is bounded; the body of a large file may take as long as the client keeps
// reading. The metrics parameter is optional; pass nil to disable recording.
func NewMediaClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *MediaClient {
	headerTimeout := time.Duration(cfg.Media.HeaderTimeoutSeconds) * time.Second

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Media.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Media.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		// Range offsets refer to the identity encoding; never let the
		// transport negotiate or undo gzip on our behalf.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   headerTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &MediaClient{
		httpClient:    &http.Client{Transport: transport},
		headerTimeout: headerTimeout,
		logger:        logger.With("component", "media_client"),
		metrics:       m,
	}
}

// Get issues a GET for rawURL with the given headers. The whole wait for
// response headers is bounded by the header timeout; the body is not. The
// caller must close the response body. Canceling ctx aborts the transfer.
func (c *MediaClient) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(c.headerTimeout, func() { cancel(ErrHeaderTimeout) })

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		timer.Stop()
		cancel(nil)
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.Header = header

	c.logger.Debug("media request",
		"host", req.URL.Host,
		"range", header.Get("Range"),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	fired := !timer.Stop()
	if err == nil && fired {
		_ = resp.Body.Close()
		err = ErrHeaderTimeout
	}
	c.observe(start, resp)
	if err != nil {
		cancel(nil)
		if errors.Is(context.Cause(ctx), ErrHeaderTimeout) && !errors.Is(err, ErrHeaderTimeout) {
			err = fmt.Errorf("%w: %w", ErrHeaderTimeout, err)
		}
		return nil, fmt.Errorf("media request: %w", err)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: func() { cancel(nil) }}
	return resp, nil
}

// cancelOnClose releases the request context together with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel func()
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (c *MediaClient) observe(start time.Time, resp *http.Response) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(metrics.UpstreamMedia).Observe(time.Since(start).Seconds())
	if resp != nil {
		c.metrics.UpstreamResponses.WithLabelValues(metrics.UpstreamMedia, strconv.Itoa(resp.StatusCode)).Inc()
	}
}
