package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/PostMiniApp/internal/config"
)

// ErrUnrecognizedResult is returned when a finished task carries no image URL
// in any known shape.
var ErrUnrecognizedResult = errors.New("kie: unrecognized result shape")

type Client struct {
	apiKey       string
	baseURL      string
	model        string
	httpClient   *http.Client
	log          *slog.Logger
	pollInterval time.Duration
	maxPolls     int
}

// ImageRequest is one image generation. CaptionDirective is always set by the
// caller: either the exact text to render or an explicit no-text instruction.
type ImageRequest struct {
	Prompt           string
	CaptionDirective string
	AspectRatio      string
	ReferenceURLs    []string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		apiKey:  cfg.KIEAPIKey,
		baseURL: strings.TrimRight(cfg.KIEBaseURL, "/"),
		model:   cfg.ImageModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:          log.With("component", "kie"),
		pollInterval: 2 * time.Second,
		maxPolls:     60,
	}
}

// GenerateImage creates a task and polls it to completion, returning the
// provider-hosted URL of the first result.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	input := map[string]any{
		"prompt":        composePrompt(req),
		"aspect_ratio":  req.AspectRatio,
		"resolution":    "1K",
		"output_format": "png",
	}
	if len(req.ReferenceURLs) > 0 {
		input["image_input"] = req.ReferenceURLs
	}

	taskID, err := c.createTask(ctx, map[string]any{
		"model": c.model,
		"input": input,
	})
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return c.pollTaskStatus(ctx, taskID)
}

func composePrompt(req ImageRequest) string {
	if req.CaptionDirective == "" {
		return req.Prompt
	}
	return req.Prompt + "\n\n" + req.CaptionDirective
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}

	c.log.Info("creating KIE task", "url", fullURL, "model", c.model)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	rawBody, err := c.do(req)
	if err != nil {
		return "", err
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < c.maxPolls; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		rawBody, err := c.do(req)
		if err != nil {
			return "", err
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return "", fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}
		if statusResp.Code != 200 {
			return "", fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		switch statusResp.Data.State {
		case "success":
			imageURL, err := ParseImageResult([]byte(statusResp.Data.ResultJSON))
			if err != nil {
				return "", err
			}
			c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			return imageURL, nil

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			return "", fmt.Errorf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.maxPolls)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}

		default:
			return "", fmt.Errorf("unknown task state: %s", statusResp.Data.State)
		}
	}

	return "", fmt.Errorf("task timeout after %d attempts", c.maxPolls)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kie request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("KIE request failed", "status", resp.StatusCode, "url", req.URL.String(), "body", truncateBody(rawBody))
		return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}
	return rawBody, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
