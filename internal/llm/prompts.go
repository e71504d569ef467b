package llm

import "github.com/digkill/PostMiniApp/internal/models"

const textSystemPrompt = "You are a social media copywriter. Write the post exactly as instructed. Return only the post text."

func languageName(locale models.Locale) string {
	if locale == models.LocaleRU {
		return "Russian"
	}
	return "English"
}

func improveSystemPrompt(locale models.Locale) string {
	return "You improve prompts for social media post generation. Rewrite the user's idea into a clear, specific prompt " +
		"that keeps the original intent. Answer in " + languageName(locale) + ". Return only the improved prompt."
}

func ctaSystemPrompt(locale models.Locale) string {
	return "Suggest up to three short call-to-action phrases for the post idea, each under eight words, in " +
		languageName(locale) + `. Respond with JSON: {"suggestions": ["...", "...", "..."]}.`
}

func prepareSystemPrompt(locale models.Locale) string {
	return "You plan an illustration for a social media post. Describe the visual scene in detail, in English. " +
		"If the image should carry text, put that exact text in captions, in " + languageName(locale) +
		`; otherwise leave captions empty. Respond with JSON: {"scene": "...", "captions": "..."}.`
}

func describeSystemPrompt(locale models.Locale) string {
	return "You analyse images used in social media posts. Answer in " + languageName(locale) +
		`. Respond with JSON: {"narrative": "...", "format": "...", "style": "...", "composition": "...", "scene": "..."}. ` +
		"Omit a field if it does not apply."
}
