package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"moviebox-proxy-go/internal/client"
	"moviebox-proxy-go/internal/model"
)

// Catalog API paths on the selected mirror.
const (
	homePath     = "/wefeed-h5-bff/web/home"
	trendingPath = "/wefeed-h5-bff/web/subject/trending"
	searchPath   = "/wefeed-h5-bff/web/subject/search"
	detailPath   = "/wefeed-h5-bff/web/subject/detail"
	downloadPath = "/wefeed-h5-bff/web/subject/download"
)

// ErrInvalidEpisode is returned when only one of season and episode is given,
// or either is negative.
var ErrInvalidEpisode = errors.New("season and episode must be given together as positive numbers")

// ErrInvalidSubjectType is returned for an unknown search type filter.
var ErrInvalidSubjectType = errors.New("type must be one of: all, movie, tv")

// subjectTypes maps the public search filter to the catalog's subjectType.
var subjectTypes = map[string]int{
	"":      0,
	"all":   0,
	"movie": 1,
	"tv":    2,
}

// CatalogService reshapes catalog API responses.
type CatalogService struct {
	client *client.CatalogClient
	logger *slog.Logger
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(c *client.CatalogClient, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		client: c,
		logger: logger.With("component", "catalog_service"),
	}
}

// Homepage returns the catalog landing page sections.
func (s *CatalogService) Homepage(ctx context.Context) (json.RawMessage, error) {
	return s.client.FetchJSON(ctx, homePath, nil)
}

// Trending returns a page of trending titles.
func (s *CatalogService) Trending(ctx context.Context, page, perPage int) (json.RawMessage, error) {
	return s.client.FetchJSON(ctx, trendingPath, url.Values{
		"page":    {strconv.Itoa(page)},
		"perPage": {strconv.Itoa(perPage)},
	})
}

// Search runs a keyword search. subjectType is "all", "movie" or "tv".
func (s *CatalogService) Search(ctx context.Context, query string, page, perPage int, subjectType string) (json.RawMessage, error) {
	st, ok := subjectTypes[strings.ToLower(subjectType)]
	if !ok {
		return nil, ErrInvalidSubjectType
	}
	return s.client.PostJSON(ctx, searchPath, map[string]any{
		"keyword":     query,
		"page":        page,
		"perPage":     perPage,
		"subjectType": st,
	})
}

// Info returns the detail record of a title.
func (s *CatalogService) Info(ctx context.Context, movieID string) (json.RawMessage, error) {
	return s.client.FetchJSON(ctx, detailPath, url.Values{"subjectId": {movieID}})
}

// Sources lists the playable files of a movie (season and episode zero) or of
// one episode of a series. Each source carries relay URLs for this service.
func (s *CatalogService) Sources(ctx context.Context, movieID string, season, episode int) (*model.SourceList, error) {
	if season < 0 || episode < 0 || (season == 0) != (episode == 0) {
		return nil, ErrInvalidEpisode
	}

	data, err := s.client.FetchJSON(ctx, downloadPath, url.Values{
		"subjectId": {movieID},
		"se":        {strconv.Itoa(season)},
		"ep":        {strconv.Itoa(episode)},
	})
	if err != nil {
		return nil, err
	}

	list := &model.SourceList{
		MovieID:   movieID,
		Season:    season,
		Episode:   episode,
		Sources:   []model.Source{},
		Subtitles: []model.Subtitle{},
	}

	if err := eachObject(data, "downloads", func(v []byte) {
		src, ok := parseSource(v)
		if !ok {
			return
		}
		list.Sources = append(list.Sources, src)
	}); err != nil {
		return nil, fmt.Errorf("parse downloads: %w", err)
	}

	if err := eachObject(data, "captions", func(v []byte) {
		sub := model.Subtitle{
			ID:       stringField(v, "id"),
			Language: stringField(v, "lanName"),
			URL:      stringField(v, "url"),
		}
		if sub.Language == "" {
			sub.Language = stringField(v, "lan")
		}
		if sub.URL != "" {
			list.Subtitles = append(list.Subtitles, sub)
		}
	}); err != nil {
		return nil, fmt.Errorf("parse captions: %w", err)
	}

	s.logger.Debug("sources resolved",
		"movie_id", movieID,
		"season", season,
		"episode", episode,
		"sources", len(list.Sources),
	)
	return list, nil
}

func parseSource(v []byte) (model.Source, bool) {
	u := stringField(v, "url")
	if u == "" {
		return model.Source{}, false
	}
	resolution, _ := jsonparser.GetInt(v, "resolution")
	escaped := url.PathEscape(u)
	return model.Source{
		ID:          stringField(v, "id"),
		URL:         u,
		Resolution:  resolution,
		Size:        stringField(v, "size"),
		Format:      stringField(v, "format"),
		StreamURL:   "/api/stream/" + escaped,
		DownloadURL: "/api/download/" + escaped,
	}, true
}

// eachObject calls fn for every object in the array at key. A missing or null
// array is treated as empty.
func eachObject(data []byte, key string, fn func(v []byte)) error {
	_, dataType, _, err := jsonparser.Get(data, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) || dataType == jsonparser.Null {
		return nil
	}
	if err != nil {
		return err
	}
	var cbErr error
	_, err = jsonparser.ArrayEach(data, func(value []byte, vt jsonparser.ValueType, _ int, err error) {
		if err != nil {
			cbErr = err
			return
		}
		if vt == jsonparser.Object {
			fn(value)
		}
	}, key)
	if err != nil {
		return err
	}
	return cbErr
}

// stringField returns key as a string whether upstream encoded it as a string
// or a number.
func stringField(data []byte, key string) string {
	v, vt, _, err := jsonparser.Get(data, key)
	if err != nil {
		return ""
	}
	switch vt {
	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			return string(v)
		}
		return s
	case jsonparser.Number:
		return string(v)
	default:
		return ""
	}
}
