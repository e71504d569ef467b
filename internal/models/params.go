package models

type TextLength string

const (
	LengthShort  TextLength = "short"
	LengthMedium TextLength = "medium"
	LengthLong   TextLength = "long"
)

type EmojiDensity string

const (
	EmojiNone EmojiDensity = "none"
	EmojiFew  EmojiDensity = "few"
	EmojiMany EmojiDensity = "many"
)

type Formatting string

const (
	FormattingPlain    Formatting = "plain"
	FormattingMarkdown Formatting = "markdown"
	FormattingHTML     Formatting = "html"
)

type TextParams struct {
	Length     TextLength   `json:"length"`
	Emoji      EmojiDensity `json:"emoji"`
	Formatting Formatting   `json:"formatting"`
	Language   Locale       `json:"language"`
	// CTA is the literal call-to-action. Empty asks the model to write one.
	CTA string `json:"cta"`
}

type ImageParams struct {
	AspectRatio     string `json:"aspect_ratio"`
	Style           string `json:"style"`
	Scene           string `json:"scene"`
	Captions        string `json:"captions"`
	ReferenceURL    string `json:"reference_url,omitempty"`
	ReferenceStyle  bool   `json:"reference_style"`
	ReferenceLayout bool   `json:"reference_composition"`
}
