// Package service implements the media relay and catalog logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"moviebox-proxy-go/internal/client"
	"moviebox-proxy-go/internal/config"
	"moviebox-proxy-go/internal/model"
)

// ErrInvalidURL is returned when a media URL is malformed or outside the allow-list.
var ErrInvalidURL = errors.New("invalid media URL")

// ErrUnexpectedStatus is returned when the CDN answers with a status the relay cannot pass on.
var ErrUnexpectedStatus = errors.New("unexpected upstream status")

// The CDN only serves requests that look like they come from the player site.
const (
	playerReferer = "https://fmoviesunblocked.net/"
	playerOrigin  = "https://fmoviesunblocked.net"
)

var (
	quotedFilename   = regexp.MustCompile(`(?i)filename="([^"]*)"`)
	unquotedFilename = regexp.MustCompile(`(?i)filename=([^;]+)`)
)

// MediaService validates media URLs and opens classified upstream responses.
type MediaService struct {
	client   *client.MediaClient
	allowed  []string
	fallback string
	logger   *slog.Logger
}

// NewMediaService creates a MediaService using the allow-list from cfg.
func NewMediaService(c *client.MediaClient, cfg *config.Config, logger *slog.Logger) *MediaService {
	return &MediaService{
		client:   c,
		allowed:  cfg.Media.AllowedPrefixes,
		fallback: cfg.Media.FallbackFilename,
		logger:   logger.With("component", "media_service"),
	}
}

// Validate URL-decodes raw once and checks it against the allowed origin prefixes.
func (s *MediaService) Validate(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for _, prefix := range s.allowed {
		if strings.HasPrefix(decoded, prefix) {
			return decoded, nil
		}
	}
	return "", ErrInvalidURL
}

// Open issues the upstream GET for req and classifies the response. Only
// responses the relay may pass on are returned; everything else is closed and
// reported as ErrUnexpectedStatus. The caller must close the returned body.
func (s *MediaService) Open(req *model.MediaRequest) (*model.MediaResponse, error) {
	resp, err := s.client.Get(req.Ctx, req.TargetURL, requestHeaders(req))
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}

	if err := classify(req.Mode, resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	s.logger.Debug("media opened",
		"mode", req.Mode,
		"status", resp.StatusCode,
		"content_length", resp.Header.Get("Content-Length"),
	)

	return &model.MediaResponse{
		StatusCode:         resp.StatusCode,
		ContentType:        optionalHeader(resp.Header, "Content-Type"),
		ContentLength:      optionalHeader(resp.Header, "Content-Length"),
		ContentRange:       optionalHeader(resp.Header, "Content-Range"),
		ContentDisposition: optionalHeader(resp.Header, "Content-Disposition"),
		Body:               resp.Body,
	}, nil
}

// requestHeaders builds the fixed upstream header set for req.
func requestHeaders(req *model.MediaRequest) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", client.BrowserUserAgent)
	h.Set("Referer", playerReferer)
	h.Set("Origin", playerOrigin)
	h.Set("Accept", "*/*")
	// Byte offsets are only meaningful against the identity encoding.
	h.Set("Accept-Encoding", "identity")
	if req.Mode == model.ModeStream && req.Range != nil {
		h.Set("Range", *req.Range)
	}
	return h
}

func classify(mode model.Mode, resp *http.Response) error {
	switch mode {
	case model.ModeStream:
		switch resp.StatusCode {
		case http.StatusOK:
			return nil
		case http.StatusPartialContent:
			if resp.Header.Get("Content-Range") == "" {
				return fmt.Errorf("%w: 206 without Content-Range", ErrUnexpectedStatus)
			}
			return nil
		}
	case model.ModeDownload:
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
}

func optionalHeader(h http.Header, key string) *string {
	vals := h.Values(key)
	if len(vals) == 0 {
		return nil
	}
	v := vals[0]
	return &v
}

// AttachmentFilename derives the download file name from an upstream
// Content-Disposition value, falling back to the configured default.
func (s *MediaService) AttachmentFilename(contentDisposition *string) string {
	if contentDisposition == nil {
		return s.fallback
	}
	name, ok := ExtractFilename(*contentDisposition)
	if !ok {
		return s.fallback
	}
	if name = SanitizeFilename(name); name == "" {
		return s.fallback
	}
	return name
}

// ExtractFilename returns the filename parameter of a Content-Disposition
// value. The quoted form takes priority over the unquoted one.
func ExtractFilename(contentDisposition string) (string, bool) {
	if m := quotedFilename.FindStringSubmatch(contentDisposition); m != nil {
		return m[1], true
	}
	if m := unquotedFilename.FindStringSubmatch(contentDisposition); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// SanitizeFilename keeps only the last path component of name and removes
// characters that could break out of a quoted header value. It returns ""
// when nothing usable is left.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
