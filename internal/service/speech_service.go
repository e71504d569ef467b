package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/digkill/PostMiniApp/internal/llm"
	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/pricing"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// SpeechService turns recorded audio into text, retrying transient provider
// failures with exponential backoff.
type SpeechService struct {
	ledger      Charger
	transcriber Transcriber
	prices      pricing.Table
	policy      RetryPolicy
	log         *slog.Logger
	sleep       func(context.Context, time.Duration) error
}

func NewSpeechService(ledger Charger, transcriber Transcriber, prices pricing.Table, maxAttempts int, baseDelay time.Duration, log *slog.Logger) *SpeechService {
	return &SpeechService{
		ledger:      ledger,
		transcriber: transcriber,
		prices:      prices,
		policy: RetryPolicy{
			MaxAttempts: maxAttempts,
			BaseDelay:   baseDelay,
			Retryable:   IsTransient,
		},
		log:   log.With("component", "speech"),
		sleep: sleepContext,
	}
}

// IsTransient reports 5xx and transport failures. 4xx answers and
// unrecognized responses are final.
func IsTransient(err error) bool {
	if errors.Is(err, llm.ErrUnrecognizedResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	status := llm.StatusCode(err)
	if status == 0 {
		return true
	}
	return status >= 500
}

func (s *SpeechService) Transcribe(ctx context.Context, user *models.User, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", newError(CodeInvalidInput, "empty audio", nil)
	}
	if _, err := s.ledger.Charge(ctx, user, s.prices.Transcription, ReasonTranscribe); err != nil {
		return "", err
	}

	var text string
	attempts, err := s.policy.Do(ctx, s.sleep, func(ctx context.Context) error {
		var err error
		text, err = s.transcriber.Transcribe(ctx, bytes.NewReader(audio), filename)
		return err
	})
	if err != nil {
		s.log.Warn("transcription failed", "user_id", user.ID, "attempts", attempts, "error", err)
		return "", providerError(err)
	}
	return text, nil
}
