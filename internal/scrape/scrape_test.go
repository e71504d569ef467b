package scrape

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/config"
	"github.com/digkill/PostMiniApp/internal/models"
)

func TestExpectedShape(t *testing.T) {
	cases := []struct {
		url      string
		platform Platform
		image    bool
		video    bool
	}{
		{"https://www.instagram.com/p/abc/", Instagram, true, false},
		{"https://instagram.com/reel/abc/", Instagram, false, true},
		{"https://vm.tiktok.com/xyz", TikTok, false, true},
		{"https://youtu.be/dQw4w9WgXcQ", YouTube, false, true},
		{"https://x.com/user/status/1", Twitter, true, false},
		{"https://www.linkedin.com/posts/abc", LinkedIn, true, false},
		{"https://old.reddit.com/r/go/comments/1", Reddit, true, false},
		{"https://fb.watch/abc", Facebook, false, true},
		{"https://www.threads.net/@u/post/1", Threads, true, false},
	}
	for _, tc := range cases {
		s, err := ExpectedShape(tc.url)
		require.NoError(t, err, tc.url)
		require.Equal(t, tc.platform, s.Platform, tc.url)
		require.Equal(t, tc.image, s.HasImage, tc.url)
		require.Equal(t, tc.video, s.HasVideo, tc.url)
	}
}

func TestExpectedShapeRejects(t *testing.T) {
	for _, raw := range []string{"not a url", "ftp://instagram.com/p/1", "/relative/path", "https://"} {
		_, err := ExpectedShape(raw)
		require.ErrorIs(t, err, ErrInvalidURL, raw)
	}
	_, err := ExpectedShape("https://example.com/post")
	require.ErrorIs(t, err, ErrUnsupportedPlatform)

	// Host matching is by domain, not substring.
	_, err = ExpectedShape("https://notx.com/status/1")
	require.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.Config{
		ScrapeAPIKey:   "k",
		ScrapeBaseURL:  srv.URL + "/v1",
		RequestTimeout: 5 * time.Second,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAnalyzeTikTok(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tiktok/post", r.URL.Path)
		require.Equal(t, "k", r.Header.Get("x-api-key"))
		require.Equal(t, "https://www.tiktok.com/@u/video/1", r.URL.Query().Get("url"))
		_, _ = io.WriteString(w, `{"desc":"dance","cover":"https://c/1.jpg","duration":90,
			"video":{"playAddr":"https://v/1.mp4"},"stats":{"diggCount":5,"commentCount":2,"shareCount":1},
			"author":{"uniqueId":"u"}}`)
	})

	res, err := c.Analyze(context.Background(), "https://www.tiktok.com/@u/video/1")
	require.NoError(t, err)
	require.Equal(t, models.ContentVideo, res.Kind)
	require.True(t, res.HasVideo)
	require.True(t, res.HasImage)
	require.Equal(t, "dance", *res.Narrative)
	require.InDelta(t, 1.5, *res.VideoDurationMinutes, 1e-9)
	require.Equal(t, "TikTok", res.PlatformName)
	require.Equal(t, int64(1), res.Shares)
	require.Nil(t, res.StyleDescription)
}

func TestAnalyzeInstagramNested(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"xdt_shortcode_media":{"is_video":false,"display_url":"https://i/1.jpg",
			"owner":{"username":"ann"},"edge_media_to_caption":{"edges":[{"node":{"text":"hello"}}]},
			"edge_media_preview_like":{"count":10}}}}`)
	})

	res, err := c.Analyze(context.Background(), "https://www.instagram.com/p/abc/")
	require.NoError(t, err)
	require.Equal(t, models.ContentPost, res.Kind)
	require.True(t, res.HasImage)
	require.False(t, res.HasVideo)
	require.Equal(t, "hello", *res.PostText)
	require.Equal(t, "ann", res.Author)
	require.Equal(t, int64(10), res.Likes)
}

func TestAnalyzeToleratesSparseResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	res, err := c.Analyze(context.Background(), "https://x.com/u/status/1")
	require.NoError(t, err)
	require.Equal(t, models.ContentPost, res.Kind)
	require.False(t, res.HasImage)
	require.Nil(t, res.PostText)
	require.Nil(t, res.Narrative)
}

func TestAnalyzeStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Analyze(context.Background(), "https://x.com/u/status/1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.StatusCode)
}
