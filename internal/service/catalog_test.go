package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"moviebox-proxy-go/internal/client"
	"moviebox-proxy-go/internal/config"
)

const downloadsBody = `{"code":0,"message":"ok","data":{
  "downloads":[
    {"id":"d1","url":"https://bcdnw.hakunaymatata.com/resource/a-360.mp4?sign=abc","resolution":360,"size":"104857600"},
    {"id":"d2","url":"https://bcdnw.hakunaymatata.com/resource/a-1080.mp4","resolution":1080,"size":734003200,"format":"MP4"},
    {"id":"d3","resolution":720}
  ],
  "captions":[
    {"id":"c1","lan":"en","lanName":"English","url":"https://cacdn.hakunaymatata.com/en.srt"},
    {"id":"c2","lan":"fr","url":"https://cacdn.hakunaymatata.com/fr.srt"},
    {"id":"c3","lan":"de"}
  ]
}}`

// newCatalogTestService returns a CatalogService backed by an upstream that
// answers the bootstrap and delegates everything else to next.
func newCatalogTestService(t *testing.T, next http.HandlerFunc) *CatalogService {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.BootstrapPath {
			_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
			return
		}
		next(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := client.NewCatalogClientWithBaseURL(srv.URL, cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewCatalogClientWithBaseURL: %v", err)
	}
	return NewCatalogService(c, logger)
}

func TestSources_Movie(t *testing.T) {
	s := newCatalogTestService(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != downloadPath {
			t.Errorf("path = %q, want %q", r.URL.Path, downloadPath)
		}
		if q.Get("subjectId") != "8906247916759695608" || q.Get("se") != "0" || q.Get("ep") != "0" {
			t.Errorf("query = %v, want subjectId with se=0 ep=0", q)
		}
		_, _ = w.Write([]byte(downloadsBody))
	})

	list, err := s.Sources(context.Background(), "8906247916759695608", 0, 0)
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}

	if len(list.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2 (entry without url skipped)", len(list.Sources))
	}

	first := list.Sources[0]
	if first.ID != "d1" || first.Resolution != 360 || first.Size != "104857600" {
		t.Errorf("Sources[0] = %+v", first)
	}
	wantStream := "/api/stream/" + url.PathEscape(first.URL)
	if first.StreamURL != wantStream {
		t.Errorf("StreamURL = %q, want %q", first.StreamURL, wantStream)
	}
	if first.DownloadURL != "/api/download/"+url.PathEscape(first.URL) {
		t.Errorf("DownloadURL = %q", first.DownloadURL)
	}

	second := list.Sources[1]
	if second.Size != "734003200" {
		t.Errorf("numeric size = %q, want %q", second.Size, "734003200")
	}
	if second.Format != "MP4" {
		t.Errorf("Format = %q, want MP4", second.Format)
	}

	if len(list.Subtitles) != 2 {
		t.Fatalf("len(Subtitles) = %d, want 2", len(list.Subtitles))
	}
	if list.Subtitles[0].Language != "English" || list.Subtitles[1].Language != "fr" {
		t.Errorf("Subtitles = %+v", list.Subtitles)
	}
}

func TestSources_RelayURLRoundTrip(t *testing.T) {
	s := newCatalogTestService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(downloadsBody))
	})
	list, err := s.Sources(context.Background(), "1", 1, 3)
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}

	ms := newTestMediaService(config.DefaultAllowedPrefixes...)
	for _, src := range list.Sources {
		raw := src.StreamURL[len("/api/stream/"):]
		got, err := ms.Validate(raw)
		if err != nil {
			t.Errorf("Validate(%q) error = %v", raw, err)
			continue
		}
		if got != src.URL {
			t.Errorf("Validate() = %q, want %q", got, src.URL)
		}
	}
}

func TestSources_Episode(t *testing.T) {
	s := newCatalogTestService(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("se") != "2" || q.Get("ep") != "5" {
			t.Errorf("query = %v, want se=2 ep=5", q)
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"downloads":null}}`))
	})

	list, err := s.Sources(context.Background(), "1", 2, 5)
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	if list.Season != 2 || list.Episode != 5 {
		t.Errorf("Season/Episode = %d/%d, want 2/5", list.Season, list.Episode)
	}
	if list.Sources == nil || len(list.Sources) != 0 {
		t.Errorf("Sources = %v, want empty non-nil slice", list.Sources)
	}
}

func TestSources_InvalidEpisode(t *testing.T) {
	s := newCatalogTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for invalid season/episode")
	})

	for _, tc := range [][2]int{{1, 0}, {0, 1}, {-1, 2}, {2, -1}} {
		if _, err := s.Sources(context.Background(), "1", tc[0], tc[1]); !errors.Is(err, ErrInvalidEpisode) {
			t.Errorf("Sources(season=%d, episode=%d) error = %v, want ErrInvalidEpisode", tc[0], tc[1], err)
		}
	}
}

func TestSearch(t *testing.T) {
	s := newCatalogTestService(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if payload["keyword"] != "dune" || payload["subjectType"] != float64(2) || payload["page"] != float64(3) {
			t.Errorf("payload = %v", payload)
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"items":[{"title":"Dune"}]}}`))
	})

	data, err := s.Search(context.Background(), "dune", 3, 24, "tv")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if string(data) != `{"items":[{"title":"Dune"}]}` {
		t.Errorf("data = %s", data)
	}

	if _, err := s.Search(context.Background(), "dune", 1, 24, "anime"); !errors.Is(err, ErrInvalidSubjectType) {
		t.Errorf("Search(type=anime) error = %v, want ErrInvalidSubjectType", err)
	}
}

func TestInfoHomepageTrending(t *testing.T) {
	s := newCatalogTestService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case detailPath:
			if r.URL.Query().Get("subjectId") != "77" {
				t.Errorf("subjectId = %q", r.URL.Query().Get("subjectId"))
			}
			_, _ = w.Write([]byte(`{"code":0,"data":{"subject":{"id":"77"}}}`))
		case homePath:
			_, _ = w.Write([]byte(`{"code":0,"data":{"operatingList":[]}}`))
		case trendingPath:
			if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("perPage") != "18" {
				t.Errorf("query = %v", r.URL.Query())
			}
			_, _ = w.Write([]byte(`{"code":0,"data":{"subjectList":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	if data, err := s.Info(ctx, "77"); err != nil || string(data) != `{"subject":{"id":"77"}}` {
		t.Errorf("Info() = %s, %v", data, err)
	}
	if data, err := s.Homepage(ctx); err != nil || string(data) != `{"operatingList":[]}` {
		t.Errorf("Homepage() = %s, %v", data, err)
	}
	if data, err := s.Trending(ctx, 2, 18); err != nil || string(data) != `{"subjectList":[]}` {
		t.Errorf("Trending() = %s, %v", data, err)
	}
}
