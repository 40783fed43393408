// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
)

// Mode selects how a relayed media file is presented to the client.
type Mode string

const (
	// ModeDownload serves the file as an attachment.
	ModeDownload Mode = "download"
	// ModeStream serves the file inline and honours byte ranges.
	ModeStream Mode = "stream"
)

// MediaRequest is a single relay of a CDN media URL. It lives for the
// duration of one inbound request.
type MediaRequest struct {
	Ctx       context.Context
	TargetURL string
	Range     *string // nil when the client sent no Range header
	Mode      Mode
}

// MediaResponse is a classified upstream media response. Optional headers are
// nil when upstream did not send them.
type MediaResponse struct {
	StatusCode         int
	ContentType        *string
	ContentLength      *string
	ContentRange       *string
	ContentDisposition *string
	Body               io.ReadCloser
}
