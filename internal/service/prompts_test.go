package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/models"
)

func TestBuildTextPromptIsDeterministic(t *testing.T) {
	p := models.TextParams{Length: models.LengthShort, Emoji: models.EmojiMany, Formatting: models.FormattingHTML, Language: models.LocaleRU, CTA: "Подписывайтесь"}
	a := BuildTextPrompt("Новый год", p, models.AnalysisContext{})
	b := BuildTextPrompt("Новый год", p, models.AnalysisContext{})
	require.Equal(t, a, b)

	require.Contains(t, a, "50 to 100 words")
	require.Contains(t, a, "5 to 10 emoji")
	require.Contains(t, a, "Telegram HTML")
	require.Contains(t, a, "Write in Russian")
	require.Contains(t, a, `"Подписывайтесь"`)
}

func TestBuildTextPromptDefaults(t *testing.T) {
	out := BuildTextPrompt("cats", models.TextParams{}, models.AnalysisContext{})
	require.Contains(t, out, "150 to 250 words")
	require.Contains(t, out, "1 to 3 emoji")
	require.Contains(t, out, "plain text")
	require.Contains(t, out, "short call to action")
}

func TestBuildTextPromptContextInstructionIndependentOfPrompt(t *testing.T) {
	ac := models.AnalysisContext{Narrative: "A story"}
	for _, prompt := range []string{"", "rewrite it", "Перепиши", "make it funnier"} {
		out := BuildTextPrompt(prompt, models.TextParams{}, ac)
		require.True(t, strings.HasSuffix(out, DerivedFromContextInstruction), prompt)
	}
}

func TestStyleFragments(t *testing.T) {
	for _, s := range []string{"photo", "illustration", "3d", "anime", "minimal", "watercolor"} {
		require.NotEmpty(t, StyleFragment(s), s)
	}
	require.Empty(t, StyleFragment("cubism"))
}
