package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/PostMiniApp/internal/config"
	"github.com/digkill/PostMiniApp/internal/metrics"
	"github.com/digkill/PostMiniApp/internal/models"
)

// Client talks to the ScrapeCreators REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scrapecreators: status=%d body=%s", e.StatusCode, e.Body)
}

func NewClient(cfg config.Config, m *metrics.Metrics, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:     cfg.ScrapeAPIKey,
		baseURL:    strings.TrimRight(cfg.ScrapeBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		log:        log.With("component", "scrapecreators"),
	}
}

var endpoints = map[Platform]string{
	Instagram: "/instagram/post",
	TikTok:    "/tiktok/post",
	YouTube:   "/youtube/video",
	Twitter:   "/twitter/tweet",
	LinkedIn:  "/linkedin/post",
	Reddit:    "/reddit/post",
	Facebook:  "/facebook/post",
	Threads:   "/threads/post",
}

// Analyze fetches and normalises the content behind rawURL.
func (c *Client) Analyze(ctx context.Context, rawURL string) (models.AnalysisResult, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	platform, err := Detect(u)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	started := time.Now()
	raw, err := c.get(ctx, endpoints[platform], rawURL)
	c.metrics.ObserveProvider("scrapecreators", started, err)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	res, err := normalize(platform, u, raw)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	res.Platform = string(platform)
	res.PlatformName = platform.DisplayName()
	res.SourceURL = rawURL
	c.log.Info("content analysed", "platform", platform, "kind", res.Kind, "has_image", res.HasImage, "has_video", res.HasVideo)
	return res, nil
}

func (c *Client) get(ctx context.Context, path, target string) ([]byte, error) {
	endpoint := c.baseURL + path + "?" + url.Values{"url": {target}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrapecreators request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		s := strings.TrimSpace(string(body))
		if len(s) > 512 {
			s = s[:512]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: s}
	}
	return body, nil
}

func normalize(p Platform, u *url.URL, raw []byte) (models.AnalysisResult, error) {
	var (
		res models.AnalysisResult
		err error
	)
	switch p {
	case Instagram:
		res, err = normalizeInstagram(u, raw)
	case TikTok:
		res, err = normalizeTikTok(raw)
	case YouTube:
		res, err = normalizeYouTube(u, raw)
	case Twitter:
		res, err = normalizeTwitter(raw)
	case LinkedIn:
		res, err = normalizeLinkedIn(raw)
	case Reddit:
		res, err = normalizeReddit(raw)
	case Facebook:
		res, err = normalizeFacebook(raw)
	case Threads:
		res, err = normalizeThreads(raw)
	default:
		return models.AnalysisResult{}, ErrUnsupportedPlatform
	}
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %s: %v", ErrBadResponse, p, err)
	}
	return res, nil
}

func decode(raw []byte, dest any) error {
	return json.Unmarshal(raw, dest)
}
