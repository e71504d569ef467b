package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/config"
	"github.com/digkill/PostMiniApp/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.Config{
		OpenAIAPIKey:    "sk-test",
		OpenAIBaseURL:   srv.URL + "/v1",
		TextModel:       "gpt-test",
		VisionModel:     "gpt-vision",
		TranscribeModel: "whisper-1",
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":     "cmpl-1",
		"object": "chat.completion",
		"model":  "gpt-test",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func TestParseCTAShapes(t *testing.T) {
	got, err := ParseCTA(`{"suggestions":["Buy now"," Join us ","Read more","Extra"]}`)
	require.NoError(t, err)
	require.Equal(t, []string{"Buy now", "Join us", "Read more"}, got)

	got, err = ParseCTA(`{"cta1":"One","cta2":"","cta3":"Three"}`)
	require.NoError(t, err)
	require.Equal(t, []string{"One", "Three"}, got)

	_, err = ParseCTA(`{"ideas":["x"]}`)
	require.ErrorIs(t, err, ErrUnrecognizedResponse)

	_, err = ParseCTA(`nope`)
	require.ErrorIs(t, err, ErrUnrecognizedResponse)
}

func TestParseImagePlan(t *testing.T) {
	p, err := ParseImagePlan(`{"scene":" A snowy city at night ","captions":""}`)
	require.NoError(t, err)
	require.Equal(t, "A snowy city at night", p.Scene)
	require.Empty(t, p.Captions)

	_, err = ParseImagePlan(`{"captions":"Hi"}`)
	require.ErrorIs(t, err, ErrUnrecognizedResponse)
}

func TestParseDescriptionToleratesMissingFacets(t *testing.T) {
	d, err := ParseDescription(`{"style":"flat vector","scene":"  "}`)
	require.NoError(t, err)
	require.NotNil(t, d.Style)
	require.Equal(t, "flat vector", *d.Style)
	require.Nil(t, d.Scene)
	require.Nil(t, d.Narrative)
}

func TestImprovePrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "Russian")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatResponse("  Улучшенный промпт  "))
	})

	out, err := c.ImprovePrompt(context.Background(), "Поздравление", models.LocaleRU)
	require.NoError(t, err)
	require.Equal(t, "Улучшенный промпт", out)
}

func TestStatusCodeFromAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	})

	_, err := c.GenerateText(context.Background(), "hello")
	require.Error(t, err)
	require.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestTranscribeRejectsEmptyTranscript(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"   "}`)
	})

	_, err := c.Transcribe(context.Background(), strings.NewReader("RIFF"), "voice.wav")
	require.ErrorIs(t, err, ErrUnrecognizedResponse)
}
