package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/digkill/PostMiniApp/internal/lang"
	"github.com/digkill/PostMiniApp/internal/llm"
	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/pricing"
	"github.com/digkill/PostMiniApp/internal/scrape"
)

// MaxFileSize is the exclusive upper bound for uploaded media.
const MaxFileSize = 50 << 20

var allowedMediaTypes = map[string]models.ContentKind{
	"image/jpeg":      models.ContentImage,
	"image/png":       models.ContentImage,
	"image/webp":      models.ContentImage,
	"image/gif":       models.ContentImage,
	"video/mp4":       models.ContentVideo,
	"video/quicktime": models.ContentVideo,
	"video/webm":      models.ContentVideo,
}

type ContentAnalyzer interface {
	Analyze(ctx context.Context, rawURL string) (models.AnalysisResult, error)
}

type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL string, locale models.Locale) (llm.Description, error)
}

type FileInput struct {
	Name        string
	ContentType string
	Data        []byte
}

// AnalysisService analyses external posts and uploaded media.
type AnalysisService struct {
	ledger    Charger
	analyzer  ContentAnalyzer
	describer ImageDescriber
	media     MediaStore
	prices    pricing.Table
	log       *slog.Logger
}

func NewAnalysisService(ledger Charger, analyzer ContentAnalyzer, describer ImageDescriber, media MediaStore, prices pricing.Table, log *slog.Logger) *AnalysisService {
	return &AnalysisService{
		ledger:    ledger,
		analyzer:  analyzer,
		describer: describer,
		media:     media,
		prices:    prices,
		log:       log.With("component", "analysis"),
	}
}

// Quote is the price of analysing rawURL, derived from the URL alone.
type Quote struct {
	Platform string       `json:"platform"`
	HasImage bool         `json:"has_image"`
	HasVideo bool         `json:"has_video"`
	Cost     models.Cents `json:"cost_cents"`
}

func (s *AnalysisService) QuoteURL(rawURL string) (Quote, error) {
	shape, err := scrape.ExpectedShape(rawURL)
	if err != nil {
		return Quote{}, newError(CodeInvalidInput, err.Error(), err)
	}
	return Quote{
		Platform: string(shape.Platform),
		HasImage: shape.HasImage,
		HasVideo: shape.HasVideo,
		Cost:     s.prices.AnalysisCost(s.prices.AnalysisBase, shape.HasImage, shape.HasVideo, nil),
	}, nil
}

// AnalyzeURL validates, charges the quoted price and only then fetches the
// content. Image facets are filled in by the vision model when available.
func (s *AnalysisService) AnalyzeURL(ctx context.Context, user *models.User, rawURL string) (models.AnalysisResult, error) {
	quote, err := s.QuoteURL(rawURL)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if _, err := s.ledger.Charge(ctx, user, quote.Cost, ReasonAnalyzeURL); err != nil {
		return models.AnalysisResult{}, err
	}

	res, err := s.analyzer.Analyze(ctx, strings.TrimSpace(rawURL))
	if err != nil {
		s.log.Warn("url analysis failed", "user_id", user.ID, "platform", quote.Platform, "error", err)
		if errors.Is(err, scrape.ErrBadResponse) {
			return models.AnalysisResult{}, newError(CodeBadProviderResponse, "analysis response", err)
		}
		return models.AnalysisResult{}, newError(CodeGenerationFailed, "analysis call failed", err)
	}

	if res.HasImage && res.ImageURL != "" {
		s.describe(ctx, &res)
	}
	return res, nil
}

// AnalyzeFile checks the media type and size, charges, stores the file and
// describes it when it is an image.
func (s *AnalysisService) AnalyzeFile(ctx context.Context, user *models.User, in FileInput) (models.AnalysisResult, error) {
	contentType := strings.ToLower(strings.TrimSpace(in.ContentType))
	kind, ok := allowedMediaTypes[contentType]
	if !ok {
		return models.AnalysisResult{}, newError(CodeInvalidInput, "unsupported media type "+contentType, nil)
	}
	if len(in.Data) == 0 || len(in.Data) >= MaxFileSize {
		return models.AnalysisResult{}, newError(CodeInvalidInput, "file size out of range", nil)
	}

	isVideo := kind == models.ContentVideo
	cost := s.prices.AnalysisCost(s.prices.FileAnalysis, false, isVideo, nil)
	if _, err := s.ledger.Charge(ctx, user, cost, ReasonAnalyzeFile); err != nil {
		return models.AnalysisResult{}, err
	}

	url, err := s.media.Upload(ctx, "uploads", in.Data, contentType)
	if err != nil {
		s.log.Error("store uploaded file failed", "user_id", user.ID, "error", err)
		return models.AnalysisResult{}, newError(CodeGenerationFailed, "store upload", err)
	}

	res := models.AnalysisResult{Kind: kind, HasImage: !isVideo, HasVideo: isVideo, SourceURL: url}
	if isVideo {
		res.VideoURL = url
		return res, nil
	}
	res.ImageURL = url
	s.describe(ctx, &res)
	return res, nil
}

// describe fills optional facets. Failures are logged and leave them nil.
func (s *AnalysisService) describe(ctx context.Context, res *models.AnalysisResult) {
	if s.describer == nil {
		return
	}
	locale := models.LocaleEN
	if res.PostText != nil {
		locale = lang.Detect(*res.PostText)
	}
	d, err := s.describer.DescribeImage(ctx, res.ImageURL, locale)
	if err != nil {
		s.log.Warn("image description failed", "error", err)
		return
	}
	if res.Narrative == nil {
		res.Narrative = d.Narrative
	}
	res.FormatDescription = d.Format
	res.StyleDescription = d.Style
	res.CompositionDescription = d.Composition
	res.SceneDescription = d.Scene
}
