package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/kie"
	"github.com/digkill/PostMiniApp/internal/llm"
	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/pricing"
)

type generationFixture struct {
	svc        *GenerationService
	balances   *fakeBalances
	dispatcher *fakeDispatcher
	text       *fakeText
	images     *fakeImages
	media      *fakeMedia
}

func newGenerationFixture(balance models.Cents) *generationFixture {
	ledger, balances, dispatcher := newTestLedger(balance)
	f := &generationFixture{
		balances:   balances,
		dispatcher: dispatcher,
		text:       &fakeText{},
		images:     &fakeImages{url: "https://provider/img.png"},
		media:      &fakeMedia{},
	}
	f.svc = NewGenerationService(ledger, f.text, f.images, f.media, pricing.Default(),
		GenerationOptions{ImageMaxAttempts: 3, ImageRetryDelay: time.Second}, discardLogger())
	f.svc.sleep = noSleep
	return f
}

func TestImprovePromptKeepsOriginalOnFailure(t *testing.T) {
	f := newGenerationFixture(500)
	f.text.err = errors.New("boom")

	out, err := f.svc.ImprovePrompt(context.Background(), &models.User{ID: 1}, "my idea")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Equal(t, "my idea", out)
}

func TestImprovePromptUsesDetectedLocale(t *testing.T) {
	f := newGenerationFixture(500)
	f.text.improved = "Улучшено"

	out, err := f.svc.ImprovePrompt(context.Background(), &models.User{ID: 1}, "Поздравление")
	require.NoError(t, err)
	require.Equal(t, "Улучшено", out)
	require.Equal(t, models.LocaleRU, f.text.lastLocale)
	require.Equal(t, models.Cents(5), f.dispatcher.Debits()[0].Amount)
}

func TestCTASuggestionsShapes(t *testing.T) {
	f := newGenerationFixture(500)
	f.text.cta = `{"cta1":"Buy","cta2":"Share","cta3":"Follow"}`
	got, err := f.svc.CTASuggestions(context.Background(), &models.User{ID: 1}, "shoes")
	require.NoError(t, err)
	require.Equal(t, []string{"Buy", "Share", "Follow"}, got)

	f.text.cta = `{"unexpected":true}`
	_, err = f.svc.CTASuggestions(context.Background(), &models.User{ID: 1}, "shoes")
	require.ErrorIs(t, err, ErrBadProviderResponse)
}

func TestGenerateImageAttemptBound(t *testing.T) {
	for failures := 0; failures <= 4; failures++ {
		t.Run(fmt.Sprintf("failures=%d", failures), func(t *testing.T) {
			f := newGenerationFixture(500)
			f.images.failures = failures

			url, err := f.svc.GenerateImage(context.Background(), &models.User{ID: 1}, ImageInput{Scene: "a tree"})
			if failures < 3 {
				require.NoError(t, err)
				require.Equal(t, "https://cdn.test/generated/copy.png", url)
				require.Equal(t, failures+1, f.images.Attempts())
			} else {
				require.ErrorIs(t, err, ErrGenerationFailed)
				require.Equal(t, 3, f.images.Attempts())
			}
			require.Len(t, f.dispatcher.Debits(), 1)
		})
	}
}

func TestGenerateImageUnrecognizedShapeIsNotRetried(t *testing.T) {
	f := newGenerationFixture(500)
	f.images.err = kie.ErrUnrecognizedResult

	_, err := f.svc.GenerateImage(context.Background(), &models.User{ID: 1}, ImageInput{Scene: "a tree"})
	require.ErrorIs(t, err, ErrBadProviderResponse)
	require.Equal(t, 1, f.images.Attempts())
}

func TestGenerateImageStopsAtDeadline(t *testing.T) {
	f := newGenerationFixture(500)
	f.images.hang = true
	f.svc.opts.ImageDeadline = 20 * time.Millisecond

	start := time.Now()
	_, err := f.svc.GenerateImage(context.Background(), &models.User{ID: 1}, ImageInput{Scene: "cat"})
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, f.images.Attempts())
	require.Equal(t, models.Cents(10), f.dispatcher.Debits()[0].Amount)
}

func TestGenerateImageInsufficientFunds(t *testing.T) {
	f := newGenerationFixture(1)

	_, err := f.svc.GenerateImage(context.Background(), &models.User{ID: 1}, ImageInput{Scene: "a tree"})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Zero(t, f.images.Attempts())
	require.Empty(t, f.dispatcher.Debits())
	require.Equal(t, models.Cents(1), f.balances.balance)
}

func TestGenerateImageCaptionDirective(t *testing.T) {
	f := newGenerationFixture(500)
	_, err := f.svc.GenerateImage(context.Background(), &models.User{ID: 1}, ImageInput{Scene: "a tree", Captions: "  "})
	require.NoError(t, err)
	require.Equal(t, NoTextDirective, f.images.requests[0].CaptionDirective)

	_, err = f.svc.GenerateImage(context.Background(), &models.User{ID: 1}, ImageInput{Scene: "a tree", Captions: "Sale -50%"})
	require.NoError(t, err)
	require.Equal(t, `Render exactly this text on the image: "Sale -50%"`, f.images.requests[1].CaptionDirective)
}

func TestGenerateImageFallsBackToProviderURL(t *testing.T) {
	f := newGenerationFixture(500)
	f.media.err = errors.New("s3 down")

	url, err := f.svc.GenerateImage(context.Background(), &models.User{ID: 1}, ImageInput{Scene: "a tree"})
	require.NoError(t, err)
	require.Equal(t, "https://provider/img.png", url)
}

func TestBuildImageRequestReference(t *testing.T) {
	req := BuildImageRequest(ImageInput{
		Scene:   "a cafe",
		Params:  models.ImageParams{Style: "watercolor", AspectRatio: "9:16", ReferenceStyle: true},
		Context: models.AnalysisContext{ImageURL: "https://ref/1.jpg"},
	})
	require.Equal(t, []string{"https://ref/1.jpg"}, req.ReferenceURLs)
	require.Equal(t, "9:16", req.AspectRatio)
	require.Contains(t, req.Prompt, StyleFragment("watercolor"))
	require.Contains(t, req.Prompt, "style only")
	require.Equal(t, NoTextDirective, req.CaptionDirective)
}

func TestGenerateTextDerivedInstruction(t *testing.T) {
	f := newGenerationFixture(500)
	f.text.text = "post"

	ac := models.AnalysisContext{Narrative: "A bakery opened downtown."}
	_, err := f.svc.GenerateText(context.Background(), &models.User{ID: 1}, "rewrite this", models.TextParams{}, ac)
	require.NoError(t, err)
	require.Contains(t, f.text.lastPrompt, DerivedFromContextInstruction)

	_, err = f.svc.GenerateText(context.Background(), &models.User{ID: 1}, "write about cats", models.TextParams{}, models.AnalysisContext{})
	require.NoError(t, err)
	require.NotContains(t, f.text.lastPrompt, DerivedFromContextInstruction)
}

func TestPrepareImageChargesBeforeCall(t *testing.T) {
	f := newGenerationFixture(1)
	_, err := f.svc.PrepareImage(context.Background(), &models.User{ID: 1}, "idea", "")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Zero(t, f.text.Calls("prepare"))

	f = newGenerationFixture(500)
	f.text.plan = llm.ImagePlan{Scene: "snowy street"}
	plan, err := f.svc.PrepareImage(context.Background(), &models.User{ID: 1}, "idea", "")
	require.NoError(t, err)
	require.Equal(t, "snowy street", plan.Scene)
	require.Empty(t, plan.Captions)
}

func TestEmptyPromptIsInvalidWithoutCharge(t *testing.T) {
	f := newGenerationFixture(500)
	_, err := f.svc.ImprovePrompt(context.Background(), &models.User{ID: 1}, "   ")
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, f.balances.Reads())
	require.False(t, strings.Contains(err.Error(), "INSUFFICIENT"))
}
