package scrape

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/digkill/PostMiniApp/internal/models"
)

func textPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func minutes(seconds float64) *float64 {
	if seconds <= 0 {
		return nil
	}
	m := seconds / 60
	return &m
}

func kind(hasVideo bool) models.ContentKind {
	if hasVideo {
		return models.ContentVideo
	}
	return models.ContentPost
}

// post builds the common part of every result. Narrative mirrors the post
// text; the platforms expose nothing richer.
func post(text string, hasImage, hasVideo bool) models.AnalysisResult {
	return models.AnalysisResult{
		Kind:      kind(hasVideo),
		HasImage:  hasImage,
		HasVideo:  hasVideo,
		PostText:  textPtr(text),
		Narrative: textPtr(text),
	}
}

type instagramMedia struct {
	IsVideo       bool    `json:"is_video"`
	DisplayURL    string  `json:"display_url"`
	ThumbnailSrc  string  `json:"thumbnail_src"`
	VideoURL      string  `json:"video_url"`
	VideoDuration float64 `json:"video_duration"`
	Caption       string  `json:"caption"`
	LikeCount     int64   `json:"like_count"`
	CommentCount  int64   `json:"comment_count"`
	Owner         struct {
		Username string `json:"username"`
	} `json:"owner"`
	EdgeMediaToCaption struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	EdgeMediaPreviewLike struct {
		Count int64 `json:"count"`
	} `json:"edge_media_preview_like"`
	EdgeMediaToParentComment struct {
		Count int64 `json:"count"`
	} `json:"edge_media_to_parent_comment"`
}

func normalizeInstagram(u *url.URL, raw []byte) (models.AnalysisResult, error) {
	var envelope struct {
		Media *instagramMedia `json:"xdt_shortcode_media"`
		Data  struct {
			Media *instagramMedia `json:"xdt_shortcode_media"`
		} `json:"data"`
	}
	if err := decode(raw, &envelope); err != nil {
		return models.AnalysisResult{}, err
	}
	m := envelope.Media
	if m == nil {
		m = envelope.Data.Media
	}
	if m == nil {
		var flat instagramMedia
		if err := decode(raw, &flat); err != nil {
			return models.AnalysisResult{}, err
		}
		m = &flat
	}

	path := strings.ToLower(u.Path)
	isVideo := m.IsVideo || strings.Contains(path, "/reel/") || strings.Contains(path, "/reels/")

	caption := m.Caption
	if edges := m.EdgeMediaToCaption.Edges; len(edges) > 0 && edges[0].Node.Text != "" {
		caption = edges[0].Node.Text
	}
	display := firstNonEmpty(m.DisplayURL, m.ThumbnailSrc)

	res := post(caption, display != "", isVideo)
	res.ImageURL = display
	if isVideo {
		res.VideoURL = m.VideoURL
		res.VideoDurationMinutes = minutes(m.VideoDuration)
	}
	res.Author = m.Owner.Username
	res.Likes = firstPositive(m.EdgeMediaPreviewLike.Count, m.LikeCount)
	res.Comments = firstPositive(m.EdgeMediaToParentComment.Count, m.CommentCount)
	return res, nil
}

func normalizeTikTok(raw []byte) (models.AnalysisResult, error) {
	var d struct {
		Desc     string  `json:"desc"`
		Cover    string  `json:"cover"`
		Duration float64 `json:"duration"`
		Video    struct {
			PlayAddr string `json:"playAddr"`
		} `json:"video"`
		Stats struct {
			DiggCount    int64 `json:"diggCount"`
			CommentCount int64 `json:"commentCount"`
			ShareCount   int64 `json:"shareCount"`
		} `json:"stats"`
		Author struct {
			UniqueID string `json:"uniqueId"`
		} `json:"author"`
	}
	if err := decode(raw, &d); err != nil {
		return models.AnalysisResult{}, err
	}
	res := post(d.Desc, d.Cover != "", true)
	res.ImageURL = d.Cover
	res.VideoURL = d.Video.PlayAddr
	res.VideoDurationMinutes = minutes(d.Duration)
	res.Likes = d.Stats.DiggCount
	res.Comments = d.Stats.CommentCount
	res.Shares = d.Stats.ShareCount
	res.Author = d.Author.UniqueID
	return res, nil
}

func normalizeYouTube(u *url.URL, raw []byte) (models.AnalysisResult, error) {
	var d struct {
		Title        string          `json:"title"`
		Description  string          `json:"description"`
		Thumbnail    string          `json:"thumbnail"`
		Duration     json.RawMessage `json:"duration"`
		Likes        int64           `json:"likes"`
		Comments     int64           `json:"comments"`
		ChannelTitle string          `json:"channelTitle"`
		Channel      struct {
			Name string `json:"name"`
		} `json:"channel"`
	}
	if err := decode(raw, &d); err != nil {
		return models.AnalysisResult{}, err
	}
	res := post(firstNonEmpty(d.Description, d.Title), d.Thumbnail != "", true)
	res.ImageURL = d.Thumbnail
	res.VideoURL = u.String()
	res.VideoDurationMinutes = minutes(durationSeconds(d.Duration))
	res.Likes = d.Likes
	res.Comments = d.Comments
	res.Author = firstNonEmpty(d.ChannelTitle, d.Channel.Name)
	return res, nil
}

type mediaItem struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}

func normalizeTwitter(raw []byte) (models.AnalysisResult, error) {
	var d struct {
		Text    string      `json:"text"`
		Media   []mediaItem `json:"media"`
		Likes   int64       `json:"likes"`
		Replies int64       `json:"replies"`
		Author  struct {
			Username string `json:"username"`
		} `json:"author"`
	}
	if err := decode(raw, &d); err != nil {
		return models.AnalysisResult{}, err
	}
	var imageURL, videoURL string
	var hasImage, hasVideo bool
	for _, m := range d.Media {
		switch m.Type {
		case "photo":
			hasImage = true
			if imageURL == "" {
				imageURL = m.URL
			}
		case "video", "animated_gif":
			hasVideo = true
			if videoURL == "" {
				videoURL = m.URL
			}
			if imageURL == "" {
				imageURL = m.Thumbnail
			}
		}
	}
	res := post(d.Text, hasImage, hasVideo)
	res.ImageURL = imageURL
	res.VideoURL = videoURL
	res.Likes = d.Likes
	res.Comments = d.Replies
	res.Author = d.Author.Username
	return res, nil
}

func normalizeLinkedIn(raw []byte) (models.AnalysisResult, error) {
	var d struct {
		Text     string      `json:"text"`
		Media    []mediaItem `json:"media"`
		Likes    int64       `json:"likes"`
		Comments int64       `json:"comments"`
		Author   struct {
			Name string `json:"name"`
		} `json:"author"`
	}
	if err := decode(raw, &d); err != nil {
		return models.AnalysisResult{}, err
	}
	imageURL, videoURL := firstOfType(d.Media, "image"), firstOfType(d.Media, "video")
	res := post(d.Text, hasType(d.Media, "image"), hasType(d.Media, "video"))
	res.ImageURL = imageURL
	res.VideoURL = videoURL
	res.Likes = d.Likes
	res.Comments = d.Comments
	res.Author = d.Author.Name
	return res, nil
}

func normalizeThreads(raw []byte) (models.AnalysisResult, error) {
	var d struct {
		Text    string      `json:"text"`
		Media   []mediaItem `json:"media"`
		Likes   int64       `json:"likes"`
		Replies int64       `json:"replies"`
		Author  struct {
			Username string `json:"username"`
		} `json:"author"`
	}
	if err := decode(raw, &d); err != nil {
		return models.AnalysisResult{}, err
	}
	res := post(d.Text, hasType(d.Media, "image"), hasType(d.Media, "video"))
	res.ImageURL = firstOfType(d.Media, "image")
	res.VideoURL = firstOfType(d.Media, "video")
	res.Likes = d.Likes
	res.Comments = d.Replies
	res.Author = d.Author.Username
	return res, nil
}

func normalizeReddit(raw []byte) (models.AnalysisResult, error) {
	var d struct {
		Title       string          `json:"title"`
		Selftext    string          `json:"selftext"`
		PostHint    string          `json:"post_hint"`
		Thumbnail   string          `json:"thumbnail"`
		Ups         int64           `json:"ups"`
		NumComments int64           `json:"num_comments"`
		Author      string          `json:"author"`
		Media       json.RawMessage `json:"media"`
		Preview     struct {
			Images []struct {
				Source struct {
					URL string `json:"url"`
				} `json:"source"`
			} `json:"images"`
		} `json:"preview"`
	}
	if err := decode(raw, &d); err != nil {
		return models.AnalysisResult{}, err
	}

	var media struct {
		RedditVideo struct {
			FallbackURL string `json:"fallback_url"`
		} `json:"reddit_video"`
	}
	hasMedia := len(d.Media) > 0 && string(d.Media) != "null"
	if hasMedia {
		_ = json.Unmarshal(d.Media, &media)
	}

	hasVideo := strings.Contains(d.PostHint, "video") || hasMedia
	hasImage := strings.Contains(d.PostHint, "image") || len(d.Preview.Images) > 0

	imageURL := ""
	if len(d.Preview.Images) > 0 {
		imageURL = d.Preview.Images[0].Source.URL
	}
	if imageURL == "" && strings.HasPrefix(d.Thumbnail, "http") {
		imageURL = d.Thumbnail
	}

	res := post(firstNonEmpty(d.Selftext, d.Title), hasImage, hasVideo)
	res.ImageURL = imageURL
	if hasVideo {
		res.VideoURL = media.RedditVideo.FallbackURL
	}
	res.Likes = d.Ups
	res.Comments = d.NumComments
	res.Author = d.Author
	return res, nil
}

func normalizeFacebook(raw []byte) (models.AnalysisResult, error) {
	var d struct {
		Text     string   `json:"text"`
		Video    string   `json:"video"`
		Image    string   `json:"image"`
		Images   []string `json:"images"`
		Likes    int64    `json:"likes"`
		Comments int64    `json:"comments"`
		Shares   int64    `json:"shares"`
		Author   struct {
			Name string `json:"name"`
		} `json:"author"`
	}
	if err := decode(raw, &d); err != nil {
		return models.AnalysisResult{}, err
	}
	imageURL := d.Image
	if len(d.Images) > 0 {
		imageURL = d.Images[0]
	}
	res := post(d.Text, imageURL != "", d.Video != "")
	res.ImageURL = imageURL
	res.VideoURL = d.Video
	res.Likes = d.Likes
	res.Comments = d.Comments
	res.Shares = d.Shares
	res.Author = d.Author.Name
	return res, nil
}

// durationSeconds accepts a number of seconds; ISO 8601 strings are not
// parsed and count as unknown.
func durationSeconds(raw json.RawMessage) float64 {
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return 0
	}
	return secs
}

func hasType(items []mediaItem, t string) bool {
	for _, m := range items {
		if m.Type == t {
			return true
		}
	}
	return false
}

func firstOfType(items []mediaItem, t string) string {
	for _, m := range items {
		if m.Type == t && m.URL != "" {
			return m.URL
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
