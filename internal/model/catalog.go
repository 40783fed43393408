package model

import "time"

// Session records a completed catalog bootstrap.
type Session struct {
	Cookies       int
	EstablishedAt time.Time
}

// Source is one playable file of a movie or episode.
type Source struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Resolution  int64  `json:"resolution"`
	Size        string `json:"size"`
	Format      string `json:"format,omitempty"`
	StreamURL   string `json:"streamUrl"`
	DownloadURL string `json:"downloadUrl"`
}

// Subtitle is a caption track attached to a title's sources.
type Subtitle struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	URL      string `json:"url"`
}

// SourceList is the reshaped answer of a sources lookup.
type SourceList struct {
	MovieID   string     `json:"movieId"`
	Season    int        `json:"season,omitempty"`
	Episode   int        `json:"episode,omitempty"`
	Sources   []Source   `json:"sources"`
	Subtitles []Subtitle `json:"subtitles"`
}
