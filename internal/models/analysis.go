package models

type ContentKind string

const (
	ContentPost    ContentKind = "post"
	ContentImage   ContentKind = "image"
	ContentVideo   ContentKind = "video"
	ContentUnknown ContentKind = "unknown"
)

// AnalysisResult describes an external content item. Optional facets are nil
// when the provider did not return them.
type AnalysisResult struct {
	Kind     ContentKind `json:"content_type"`
	HasImage bool        `json:"has_image"`
	HasVideo bool        `json:"has_video"`

	PostText               *string `json:"post_text,omitempty"`
	Narrative              *string `json:"narrative,omitempty"`
	FormatDescription      *string `json:"format_description,omitempty"`
	StyleDescription       *string `json:"style_description,omitempty"`
	CompositionDescription *string `json:"composition_description,omitempty"`
	SceneDescription       *string `json:"scene_description,omitempty"`

	ImageURL             string   `json:"image_url,omitempty"`
	VideoURL             string   `json:"video_url,omitempty"`
	VideoDurationMinutes *float64 `json:"video_duration_minutes,omitempty"`
	SourceURL            string   `json:"source_url,omitempty"`

	Platform     string `json:"platform,omitempty"`
	PlatformName string `json:"platform_name,omitempty"`
	Author       string `json:"author,omitempty"`
	Likes        int64  `json:"likes,omitempty"`
	Comments     int64  `json:"comments,omitempty"`
	Shares       int64  `json:"shares,omitempty"`
}

// Map flattens the result for the session's scraped_data column.
func (r AnalysisResult) Map() map[string]any {
	m := map[string]any{
		"content_type": string(r.Kind),
		"has_image":    r.HasImage,
		"has_video":    r.HasVideo,
	}
	put := func(key string, v *string) {
		if v != nil {
			m[key] = *v
		}
	}
	put("post_text", r.PostText)
	put("narrative", r.Narrative)
	put("format_description", r.FormatDescription)
	put("style_description", r.StyleDescription)
	put("composition_description", r.CompositionDescription)
	put("scene_description", r.SceneDescription)
	if r.ImageURL != "" {
		m["image_url"] = r.ImageURL
	}
	if r.VideoURL != "" {
		m["video_url"] = r.VideoURL
	}
	if r.VideoDurationMinutes != nil {
		m["video_duration_minutes"] = *r.VideoDurationMinutes
	}
	if r.Platform != "" {
		m["platform"] = r.Platform
	}
	if r.Author != "" {
		m["author"] = r.Author
	}
	return m
}

type Facet string

const (
	FacetNarrative   Facet = "narrative"
	FacetFormat      Facet = "format"
	FacetStyle       Facet = "style"
	FacetComposition Facet = "composition"
	FacetScene       Facet = "scene"
	FacetImage       Facet = "image"
)

// AnalysisContext is the subset of an analysis the user opted into. It is
// attached to later generation calls.
type AnalysisContext struct {
	Narrative   string `json:"narrative,omitempty"`
	Format      string `json:"format,omitempty"`
	Style       string `json:"style,omitempty"`
	Composition string `json:"composition,omitempty"`
	Scene       string `json:"scene,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

func (c AnalysisContext) Empty() bool {
	return c == AnalysisContext{}
}

// ContextFrom picks the requested facets out of r. Facets the provider did
// not return stay empty.
func ContextFrom(r AnalysisResult, facets []Facet) AnalysisContext {
	var ctx AnalysisContext
	deref := func(v *string) string {
		if v == nil {
			return ""
		}
		return *v
	}
	for _, f := range facets {
		switch f {
		case FacetNarrative:
			ctx.Narrative = deref(r.Narrative)
		case FacetFormat:
			ctx.Format = deref(r.FormatDescription)
		case FacetStyle:
			ctx.Style = deref(r.StyleDescription)
		case FacetComposition:
			ctx.Composition = deref(r.CompositionDescription)
		case FacetScene:
			ctx.Scene = deref(r.SceneDescription)
		case FacetImage:
			ctx.ImageURL = r.ImageURL
		}
	}
	return ctx
}
