package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/pricing"
)

type scriptedTranscriber struct {
	errs  []error
	text  string
	calls int
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	s.calls++
	if _, err := io.ReadAll(audio); err != nil {
		return "", err
	}
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return s.text, nil
}

func apiError(status int) error {
	return &openai.APIError{HTTPStatusCode: status, Message: "x"}
}

func newSpeech(tr Transcriber) (*SpeechService, *[]time.Duration) {
	ledger, _, _ := newTestLedger(100)
	svc := NewSpeechService(ledger, tr, pricing.Default(), 3, 100*time.Millisecond, discardLogger())
	var delays []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return svc, &delays
}

func TestTranscribeRetriesServerErrorsWithBackoff(t *testing.T) {
	tr := &scriptedTranscriber{errs: []error{apiError(502), apiError(503)}, text: "привет hello"}
	svc, delays := newSpeech(tr)

	text, err := svc.Transcribe(context.Background(), &models.User{ID: 1}, []byte("audio"), "voice.wav")
	require.NoError(t, err)
	require.Equal(t, "привет hello", text)
	require.Equal(t, 3, tr.calls)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestTranscribeClientErrorIsNotRetried(t *testing.T) {
	tr := &scriptedTranscriber{errs: []error{apiError(400)}}
	svc, delays := newSpeech(tr)

	_, err := svc.Transcribe(context.Background(), &models.User{ID: 1}, []byte("audio"), "voice.wav")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Equal(t, 1, tr.calls)
	require.Empty(t, *delays)
}

func TestTranscribeGivesUpAfterCap(t *testing.T) {
	tr := &scriptedTranscriber{errs: []error{apiError(500), apiError(500), apiError(500), apiError(500)}}
	svc, _ := newSpeech(tr)

	_, err := svc.Transcribe(context.Background(), &models.User{ID: 1}, []byte("audio"), "voice.wav")
	require.Error(t, err)
	require.Equal(t, 3, tr.calls)
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(errors.New("connection reset")))
	require.True(t, IsTransient(apiError(500)))
	require.False(t, IsTransient(apiError(429)))
	require.False(t, IsTransient(apiError(404)))
	require.False(t, IsTransient(&openai.RequestError{HTTPStatusCode: 401}))
}
