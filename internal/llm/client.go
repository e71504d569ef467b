package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/digkill/PostMiniApp/internal/config"
	"github.com/digkill/PostMiniApp/internal/metrics"
	"github.com/digkill/PostMiniApp/internal/models"
)

// ErrUnrecognizedResponse marks a completion that arrived but could not be
// interpreted.
var ErrUnrecognizedResponse = errors.New("llm: unrecognized response")

// transcriptionPrompt primes Whisper for speech that mixes both locales.
const transcriptionPrompt = "This is a mixed Russian and English speech. Привет, Hello, как дела, how are you."

type Client struct {
	api             *openai.Client
	textModel       string
	visionModel     string
	transcribeModel string
	metrics         *metrics.Metrics
	log             *slog.Logger
}

func NewClient(cfg config.Config, m *metrics.Metrics, log *slog.Logger) *Client {
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	return &Client{
		api:             openai.NewClientWithConfig(oc),
		textModel:       cfg.TextModel,
		visionModel:     cfg.VisionModel,
		transcribeModel: cfg.TranscribeModel,
		metrics:         m,
		log:             log.With("component", "openai"),
	}
}

func (c *Client) ImprovePrompt(ctx context.Context, prompt string, locale models.Locale) (string, error) {
	out, err := c.complete(ctx, c.textModel, improveSystemPrompt(locale), prompt, false)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty improved prompt", ErrUnrecognizedResponse)
	}
	return out, nil
}

// CTASuggestions returns the raw JSON object produced by the model. Use
// ParseCTA to normalise it.
func (c *Client) CTASuggestions(ctx context.Context, prompt string, locale models.Locale) (string, error) {
	return c.complete(ctx, c.textModel, ctaSystemPrompt(locale), prompt, true)
}

// PrepareImage asks for a scene description and the on-image captions.
func (c *Client) PrepareImage(ctx context.Context, prompt, priorText string, locale models.Locale) (ImagePlan, error) {
	user := prompt
	if priorText != "" {
		user = fmt.Sprintf("Post idea:\n%s\n\nPost text:\n%s", prompt, priorText)
	}
	raw, err := c.complete(ctx, c.textModel, prepareSystemPrompt(locale), user, true)
	if err != nil {
		return ImagePlan{}, err
	}
	return ParseImagePlan(raw)
}

func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	out, err := c.complete(ctx, c.textModel, textSystemPrompt, prompt, false)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty post text", ErrUnrecognizedResponse)
	}
	return out, nil
}

// DescribeImage runs the vision model over a publicly reachable image.
func (c *Client) DescribeImage(ctx context.Context, imageURL string, locale models.Locale) (Description, error) {
	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: describeSystemPrompt(locale)},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Describe this image."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL, Detail: openai.ImageURLDetailAuto}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	c.metrics.ObserveProvider("openai_vision", started, err)
	if err != nil {
		return Description{}, err
	}
	if len(resp.Choices) == 0 {
		return Description{}, fmt.Errorf("%w: no choices", ErrUnrecognizedResponse)
	}
	return ParseDescription(resp.Choices[0].Message.Content)
}

// Transcribe sends one audio blob to the speech model. An empty transcript is
// treated as a provider failure.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	started := time.Now()
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: filename,
		Reader:   audio,
		Prompt:   transcriptionPrompt,
	})
	c.metrics.ObserveProvider("openai_transcribe", started, err)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrUnrecognizedResponse)
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, model, system, user string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.7,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	c.metrics.ObserveProvider("openai", started, err)
	if err != nil {
		c.log.Warn("chat completion failed", "model", model, "status", StatusCode(err), "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrUnrecognizedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// StatusCode extracts the HTTP status of a failed API call, or 0 when the
// failure happened below HTTP.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
