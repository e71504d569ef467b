package service

import (
	"fmt"
	"strings"

	"github.com/digkill/PostMiniApp/internal/models"
)

// NoTextDirective is sent whenever the image must not carry captions.
const NoTextDirective = "Do not add any text, letters, words or captions to the image."

// DerivedFromContextInstruction is appended whenever narrative context from an
// analysis is attached to a text generation.
const DerivedFromContextInstruction = "Create new original content derived from the source context above. " +
	"Do not write about rewriting, analysing or quoting the source."

// CaptionDirective returns the caption instruction for an image request. It
// is never empty.
func CaptionDirective(captions string) string {
	captions = strings.TrimSpace(captions)
	if captions == "" {
		return NoTextDirective
	}
	return fmt.Sprintf("Render exactly this text on the image: %q", captions)
}

var styleFragments = map[string]string{
	"photo":        "photorealistic photograph, natural lighting, high detail",
	"illustration": "digital illustration, clean lines, vivid colors",
	"3d":           "3D render, soft global illumination, smooth materials",
	"anime":        "anime style, cel shading, expressive characters",
	"minimal":      "minimalist design, flat colors, generous negative space",
	"watercolor":   "watercolor painting, soft washes, paper texture",
}

// StyleFragment maps a style identifier to its prompt fragment. Unknown
// identifiers yield "".
func StyleFragment(style string) string {
	return styleFragments[strings.ToLower(strings.TrimSpace(style))]
}

var lengthWords = map[models.TextLength][2]int{
	models.LengthShort:  {50, 100},
	models.LengthMedium: {150, 250},
	models.LengthLong:   {300, 500},
}

var emojiCounts = map[models.EmojiDensity][2]int{
	models.EmojiFew:  {1, 3},
	models.EmojiMany: {5, 10},
}

var formattingInstructions = map[models.Formatting]string{
	models.FormattingPlain:    "Use plain text only, without any markup.",
	models.FormattingMarkdown: "Format the post with Markdown: **bold** for key phrases, _italic_ for emphasis, bullet lists where useful.",
	models.FormattingHTML:     "Format the post with Telegram HTML only: <b>bold</b>, <i>italic</i>, <u>underline</u>, <a href=\"...\">links</a>. No other tags.",
}

func languageName(l models.Locale) string {
	if l == models.LocaleRU {
		return "Russian"
	}
	return "English"
}

// BuildTextPrompt expands the user's prompt with explicit instructions for
// every generation parameter. The output depends only on its inputs.
func BuildTextPrompt(prompt string, p models.TextParams, ac models.AnalysisContext) string {
	var b strings.Builder

	if ac.Narrative != "" {
		fmt.Fprintf(&b, "Source context:\n%s\n\n", ac.Narrative)
	}
	if ac.Format != "" {
		fmt.Fprintf(&b, "Source format: %s\n", ac.Format)
	}
	if ac.Style != "" {
		fmt.Fprintf(&b, "Source style: %s\n", ac.Style)
	}
	if ac.Format != "" || ac.Style != "" {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Task:\n%s\n\n", strings.TrimSpace(prompt))
	b.WriteString("Requirements:\n")

	length := p.Length
	if _, ok := lengthWords[length]; !ok {
		length = models.LengthMedium
	}
	words := lengthWords[length]
	fmt.Fprintf(&b, "- Length: %d to %d words.\n", words[0], words[1])

	switch p.Emoji {
	case models.EmojiNone:
		b.WriteString("- Do not use emoji.\n")
	case models.EmojiMany:
		fmt.Fprintf(&b, "- Use %d to %d emoji.\n", emojiCounts[models.EmojiMany][0], emojiCounts[models.EmojiMany][1])
	default:
		fmt.Fprintf(&b, "- Use %d to %d emoji.\n", emojiCounts[models.EmojiFew][0], emojiCounts[models.EmojiFew][1])
	}

	formatting, ok := formattingInstructions[p.Formatting]
	if !ok {
		formatting = formattingInstructions[models.FormattingPlain]
	}
	fmt.Fprintf(&b, "- %s\n", formatting)

	fmt.Fprintf(&b, "- Write in %s.\n", languageName(p.Language))

	if cta := strings.TrimSpace(p.CTA); cta != "" {
		fmt.Fprintf(&b, "- End the post with exactly this call to action: %q\n", cta)
	} else {
		b.WriteString("- End the post with a short call to action that fits the content.\n")
	}

	if ac.Narrative != "" {
		b.WriteString("\n")
		b.WriteString(DerivedFromContextInstruction)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildImagePrompt combines the scene with the style fragment, the opted-in
// analysis facets and the reference image flags.
func BuildImagePrompt(scene string, p models.ImageParams, ac models.AnalysisContext, hasReference bool) string {
	parts := []string{strings.TrimSpace(scene)}
	if frag := StyleFragment(p.Style); frag != "" {
		parts = append(parts, "Style: "+frag+".")
	}
	if ac.Style != "" {
		parts = append(parts, "Visual style reference: "+ac.Style)
	}
	if ac.Composition != "" {
		parts = append(parts, "Composition reference: "+ac.Composition)
	}
	if ac.Scene != "" {
		parts = append(parts, "Scene reference: "+ac.Scene)
	}
	if hasReference {
		switch {
		case p.ReferenceStyle && p.ReferenceLayout:
			parts = append(parts, "Follow the reference image for both style and composition.")
		case p.ReferenceStyle:
			parts = append(parts, "Follow the reference image for style only; compose the scene freely.")
		case p.ReferenceLayout:
			parts = append(parts, "Follow the reference image for composition only; do not copy its style.")
		default:
			parts = append(parts, "Use the reference image as loose inspiration only.")
		}
	}
	return strings.Join(parts, "\n\n")
}
