package scrape

import (
	"errors"
	"net/url"
	"strings"
)

type Platform string

const (
	Instagram Platform = "instagram"
	TikTok    Platform = "tiktok"
	YouTube   Platform = "youtube"
	Twitter   Platform = "twitter"
	LinkedIn  Platform = "linkedin"
	Reddit    Platform = "reddit"
	Facebook  Platform = "facebook"
	Threads   Platform = "threads"
)

var (
	ErrInvalidURL          = errors.New("scrape: not an absolute http(s) url")
	ErrUnsupportedPlatform = errors.New("scrape: unsupported platform")
	ErrBadResponse         = errors.New("scrape: undecodable response")
)

var platformHosts = []struct {
	platform Platform
	hosts    []string
}{
	{Instagram, []string{"instagram.com", "instagr.am"}},
	{TikTok, []string{"tiktok.com"}},
	{YouTube, []string{"youtube.com", "youtu.be"}},
	{Twitter, []string{"twitter.com", "x.com", "t.co"}},
	{LinkedIn, []string{"linkedin.com"}},
	{Reddit, []string{"reddit.com", "redd.it"}},
	{Facebook, []string{"facebook.com", "fb.com", "fb.watch"}},
	{Threads, []string{"threads.net", "threads.com"}},
}

var displayNames = map[Platform]string{
	Instagram: "Instagram",
	TikTok:    "TikTok",
	YouTube:   "YouTube",
	Twitter:   "Twitter/X",
	LinkedIn:  "LinkedIn",
	Reddit:    "Reddit",
	Facebook:  "Facebook",
	Threads:   "Threads",
}

func (p Platform) DisplayName() string {
	if n, ok := displayNames[p]; ok {
		return n
	}
	return string(p)
}

// ParseURL validates raw as an absolute http(s) URL with a host.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

func Detect(u *url.URL) (Platform, error) {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, ph := range platformHosts {
		for _, h := range ph.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return ph.platform, nil
			}
		}
	}
	return "", ErrUnsupportedPlatform
}

// Shape is what the URL alone says about the content, used to quote a price
// before the provider is called.
type Shape struct {
	Platform Platform
	HasImage bool
	HasVideo bool
}

func ExpectedShape(raw string) (Shape, error) {
	u, err := ParseURL(raw)
	if err != nil {
		return Shape{}, err
	}
	p, err := Detect(u)
	if err != nil {
		return Shape{}, err
	}

	path := strings.ToLower(u.Path)
	switch p {
	case TikTok, YouTube:
		return Shape{Platform: p, HasVideo: true}, nil
	case Instagram:
		if strings.Contains(path, "/reel/") || strings.Contains(path, "/reels/") {
			return Shape{Platform: p, HasVideo: true}, nil
		}
		return Shape{Platform: p, HasImage: true}, nil
	case Facebook:
		if u.Hostname() == "fb.watch" || strings.Contains(path, "/videos/") || strings.Contains(path, "/reel/") {
			return Shape{Platform: p, HasVideo: true}, nil
		}
		return Shape{Platform: p, HasImage: true}, nil
	default:
		return Shape{Platform: p, HasImage: true}, nil
	}
}
