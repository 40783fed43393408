package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/buger/jsonparser"

	"moviebox-proxy-go/internal/config"
	"moviebox-proxy-go/internal/metrics"
	"moviebox-proxy-go/internal/model"
)

// BootstrapPath is fetched once to obtain the session cookies.
const BootstrapPath = "/wefeed-h5-bff/app/get-latest-app-pkgs"

// BrowserUserAgent is sent on every upstream request, catalog and CDN alike.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// maxCatalogBody caps how much of a catalog response is read into memory.
const maxCatalogBody = 16 << 20

// ErrBadEnvelope is returned when a catalog response is not the expected
// {"code":..,"message":..,"data":..} JSON envelope.
var ErrBadEnvelope = errors.New("malformed catalog response")

// UpstreamError reports a catalog response that was well-formed but unsuccessful.
type UpstreamError struct {
	StatusCode int
	Code       int64
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog upstream: status %d, code %d", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("catalog upstream: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
}

// CatalogClient talks to the movie catalog API of the selected mirror.
type CatalogClient struct {
	httpClient *http.Client
	jar        http.CookieJar
	baseURL    *url.URL
	header     http.Header
	session    *SessionState
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewCatalogClient creates a CatalogClient for the mirror named in cfg.Upstream.Host.
func NewCatalogClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*CatalogClient, error) {
	return NewCatalogClientWithBaseURL(cfg.Upstream.BaseURL(), cfg, logger, m)
}

// NewCatalogClientWithBaseURL creates a CatalogClient against an explicit origin.
// Tests use it to point the client at an httptest server.
func NewCatalogClientWithBaseURL(baseURL string, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*CatalogClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c := &CatalogClient{
		httpClient: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		jar:     jar,
		baseURL: u,
		header:  catalogHeaders(u, cfg.Upstream.ForwardedIP),
		logger:  logger.With("component", "catalog_client"),
		metrics: m,
	}
	c.session = NewSessionState(c.bootstrap)
	return c, nil
}

func catalogHeaders(base *url.URL, forwardedIP string) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", BrowserUserAgent)
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("X-Client-Info", `{"timezone":"Africa/Nairobi"}`)
	h.Set("Referer", base.String()+"/")
	if forwardedIP != "" {
		h.Set("X-Forwarded-For", forwardedIP)
		h.Set("X-Real-IP", forwardedIP)
		h.Set("CF-Connecting-IP", forwardedIP)
	}
	return h
}

// BaseURL returns the catalog origin this client talks to.
func (c *CatalogClient) BaseURL() string {
	return c.baseURL.String()
}

// Session returns the catalog session, establishing it on first use.
func (c *CatalogClient) Session(ctx context.Context) (*model.Session, error) {
	return c.session.Ensure(ctx)
}

// SessionState exposes the session holder, mainly for status reporting.
func (c *CatalogClient) SessionState() *SessionState {
	return c.session
}

// FetchJSON GETs path with params and returns the raw "data" member of the
// response envelope.
func (c *CatalogClient) FetchJSON(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if _, err := c.session.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("catalog session: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// PostJSON POSTs payload encoded as JSON to path and returns the raw "data"
// member of the response envelope.
func (c *CatalogClient) PostJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	if _, err := c.session.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("catalog session: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode catalog payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *CatalogClient) newRequest(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header = c.header.Clone()
	return req, nil
}

func (c *CatalogClient) do(req *http.Request) ([]byte, error) {
	c.logger.Debug("catalog request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(start, resp)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBody))
	if err != nil {
		return nil, fmt.Errorf("read catalog response: %w", err)
	}
	return unwrapEnvelope(resp.StatusCode, body)
}

// unwrapEnvelope checks the status and envelope code and returns the data member.
func unwrapEnvelope(status int, body []byte) ([]byte, error) {
	code, err := jsonparser.GetInt(body, "code")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		if status < 200 || status > 299 {
			return nil, &UpstreamError{StatusCode: status}
		}
		return nil, fmt.Errorf("%w: code: %v", ErrBadEnvelope, err)
	}
	message, _ := jsonparser.GetString(body, "message")

	if status < 200 || status > 299 || code != 0 {
		return nil, &UpstreamError{StatusCode: status, Code: code, Message: message}
	}

	data, dataType, _, err := jsonparser.Get(body, "data")
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrBadEnvelope, err)
	}
	switch dataType {
	case jsonparser.Object, jsonparser.Array:
		return data, nil
	case jsonparser.Null:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("%w: data is %s", ErrBadEnvelope, dataType)
	}
}

// bootstrap performs the one-time request that seeds the cookie jar.
func (c *CatalogClient) bootstrap(ctx context.Context) (*model.Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, BootstrapPath, url.Values{"app_name": {"moviebox"}}, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(start, resp)
	if err != nil {
		return nil, fmt.Errorf("catalog bootstrap: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxCatalogBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("catalog bootstrap: %w", &UpstreamError{StatusCode: resp.StatusCode})
	}

	sess := &model.Session{
		Cookies:       len(c.jar.Cookies(c.baseURL)),
		EstablishedAt: time.Now(),
	}
	c.logger.Info("catalog session established",
		"host", c.baseURL.Host,
		"cookies", sess.Cookies,
	)
	return sess, nil
}

func (c *CatalogClient) observe(start time.Time, resp *http.Response) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(metrics.UpstreamCatalog).Observe(time.Since(start).Seconds())
	if resp != nil {
		c.metrics.UpstreamResponses.WithLabelValues(metrics.UpstreamCatalog, strconv.Itoa(resp.StatusCode)).Inc()
	}
}
