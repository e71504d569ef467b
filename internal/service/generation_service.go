package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/PostMiniApp/internal/kie"
	"github.com/digkill/PostMiniApp/internal/lang"
	"github.com/digkill/PostMiniApp/internal/llm"
	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/pricing"
)

// Debit reasons recorded with every charge.
const (
	ReasonImprovePrompt = "improve_prompt"
	ReasonCTA           = "cta_suggestions"
	ReasonPrepareImage  = "prepare_image"
	ReasonGenerateText  = "generate_text"
	ReasonGenerateImage = "generate_image"
	ReasonAnalyzeURL    = "analyze_url"
	ReasonAnalyzeFile   = "analyze_file"
	ReasonTranscribe    = "transcribe"
)

type Charger interface {
	Charge(ctx context.Context, user *models.User, amount models.Cents, reason string) (ChargeOutcome, error)
}

type TextProvider interface {
	ImprovePrompt(ctx context.Context, prompt string, locale models.Locale) (string, error)
	CTASuggestions(ctx context.Context, prompt string, locale models.Locale) (string, error)
	PrepareImage(ctx context.Context, prompt, priorText string, locale models.Locale) (llm.ImagePlan, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
}

type ImageProvider interface {
	GenerateImage(ctx context.Context, req kie.ImageRequest) (string, error)
}

type MediaStore interface {
	Upload(ctx context.Context, folder string, data []byte, contentType string) (string, error)
	UploadFromURL(ctx context.Context, folder, src string) (string, error)
}

type GenerationOptions struct {
	ImageMaxAttempts int
	ImageRetryDelay  time.Duration
	// ImageDeadline bounds all attempts of one image generation. It must stay
	// below the API write timeout so a charged client still gets an answer.
	ImageDeadline time.Duration
}

// GenerationService runs the paid text and image operations. Every operation
// charges before the provider is called and skips the call when the charge
// fails.
type GenerationService struct {
	ledger Charger
	text   TextProvider
	images ImageProvider
	media  MediaStore
	prices pricing.Table
	opts   GenerationOptions
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewGenerationService(ledger Charger, text TextProvider, images ImageProvider, media MediaStore, prices pricing.Table, opts GenerationOptions, log *slog.Logger) *GenerationService {
	if opts.ImageMaxAttempts < 1 {
		opts.ImageMaxAttempts = 3
	}
	if opts.ImageRetryDelay < 0 {
		opts.ImageRetryDelay = 0
	}
	if opts.ImageDeadline <= 0 {
		opts.ImageDeadline = 4 * time.Minute
	}
	return &GenerationService{
		ledger: ledger,
		text:   text,
		images: images,
		media:  media,
		prices: prices,
		opts:   opts,
		log:    log.With("component", "generation"),
		sleep:  sleepContext,
	}
}

// ImprovePrompt rewrites prompt in its own language. On provider failure the
// original prompt is returned together with the error.
func (s *GenerationService) ImprovePrompt(ctx context.Context, user *models.User, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return prompt, newError(CodeInvalidInput, "empty prompt", nil)
	}
	if _, err := s.ledger.Charge(ctx, user, s.prices.ImprovePrompt, ReasonImprovePrompt); err != nil {
		return prompt, err
	}

	improved, err := s.text.ImprovePrompt(ctx, prompt, lang.Detect(prompt))
	if err != nil {
		s.log.Warn("improve prompt failed", "user_id", user.ID, "error", err)
		return prompt, providerError(err)
	}
	return improved, nil
}

// CTASuggestions returns up to three call-to-action phrases.
func (s *GenerationService) CTASuggestions(ctx context.Context, user *models.User, prompt string) ([]string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, newError(CodeInvalidInput, "empty prompt", nil)
	}
	if _, err := s.ledger.Charge(ctx, user, s.prices.CTASuggestions, ReasonCTA); err != nil {
		return nil, err
	}

	raw, err := s.text.CTASuggestions(ctx, prompt, lang.Detect(prompt))
	if err != nil {
		return nil, providerError(err)
	}
	suggestions, err := llm.ParseCTA(raw)
	if err != nil {
		return nil, providerError(err)
	}
	return suggestions, nil
}

// PrepareImage produces the scene description and captions shown to the user
// before the image is generated.
func (s *GenerationService) PrepareImage(ctx context.Context, user *models.User, prompt, priorText string) (llm.ImagePlan, error) {
	if strings.TrimSpace(prompt) == "" {
		return llm.ImagePlan{}, newError(CodeInvalidInput, "empty prompt", nil)
	}
	if _, err := s.ledger.Charge(ctx, user, s.prices.PrepareImage, ReasonPrepareImage); err != nil {
		return llm.ImagePlan{}, err
	}

	plan, err := s.text.PrepareImage(ctx, prompt, priorText, lang.Detect(prompt))
	if err != nil {
		return llm.ImagePlan{}, providerError(err)
	}
	return plan, nil
}

// GenerateText writes the post. An unset language follows the prompt.
func (s *GenerationService) GenerateText(ctx context.Context, user *models.User, prompt string, params models.TextParams, ac models.AnalysisContext) (string, error) {
	if strings.TrimSpace(prompt) == "" && ac.Narrative == "" {
		return "", newError(CodeInvalidInput, "empty prompt", nil)
	}
	if params.Language == "" {
		params.Language = lang.Detect(prompt + " " + ac.Narrative)
	}
	if _, err := s.ledger.Charge(ctx, user, s.prices.GenerateText, ReasonGenerateText); err != nil {
		return "", err
	}

	text, err := s.text.GenerateText(ctx, BuildTextPrompt(prompt, params, ac))
	if err != nil {
		return "", providerError(err)
	}
	return text, nil
}

type ImageInput struct {
	Scene    string
	Captions string
	Params   models.ImageParams
	Context  models.AnalysisContext
}

// GenerateImage charges once, then calls the provider up to ImageMaxAttempts
// times with a fixed delay. The result is copied to durable storage; if that
// copy fails the provider URL is returned.
func (s *GenerationService) GenerateImage(ctx context.Context, user *models.User, in ImageInput) (string, error) {
	if strings.TrimSpace(in.Scene) == "" {
		return "", newError(CodeInvalidInput, "empty scene", nil)
	}
	if _, err := s.ledger.Charge(ctx, user, s.prices.GenerateImage, ReasonGenerateImage); err != nil {
		return "", err
	}

	req := BuildImageRequest(in)
	ctx, cancel := context.WithTimeout(ctx, s.opts.ImageDeadline)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= s.opts.ImageMaxAttempts; attempt++ {
		url, err := s.images.GenerateImage(ctx, req)
		if err == nil {
			return s.persist(ctx, url), nil
		}
		if errors.Is(err, kie.ErrUnrecognizedResult) {
			return "", newError(CodeBadProviderResponse, "image result", err)
		}
		if ctx.Err() != nil {
			return "", newError(CodeGenerationFailed, "image deadline exceeded", err)
		}
		lastErr = err
		s.log.Warn("image attempt failed", "user_id", user.ID, "attempt", attempt, "max_attempts", s.opts.ImageMaxAttempts, "error", err)

		if attempt < s.opts.ImageMaxAttempts {
			if err := s.sleep(ctx, s.opts.ImageRetryDelay); err != nil {
				return "", newError(CodeGenerationFailed, "cancelled", err)
			}
		}
	}
	return "", newError(CodeGenerationFailed, "image retries exhausted", lastErr)
}

// BuildImageRequest assembles the provider request. The caption directive is
// always present.
func BuildImageRequest(in ImageInput) kie.ImageRequest {
	ref := in.Params.ReferenceURL
	if ref == "" {
		ref = in.Context.ImageURL
	}
	req := kie.ImageRequest{
		Prompt:           BuildImagePrompt(in.Scene, in.Params, in.Context, ref != ""),
		CaptionDirective: CaptionDirective(in.Captions),
		AspectRatio:      in.Params.AspectRatio,
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "1:1"
	}
	if ref != "" {
		req.ReferenceURLs = []string{ref}
	}
	return req
}

func (s *GenerationService) persist(ctx context.Context, url string) string {
	if s.media == nil {
		return url
	}
	durable, err := s.media.UploadFromURL(ctx, "generated", url)
	if err != nil {
		s.log.Warn("copy generated image failed, using provider url", "error", err)
		return url
	}
	return durable
}

// providerError classifies a failed provider call.
func providerError(err error) error {
	if errors.Is(err, llm.ErrUnrecognizedResponse) {
		return newError(CodeBadProviderResponse, "unrecognized response", err)
	}
	return newError(CodeGenerationFailed, "provider call failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
