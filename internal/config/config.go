package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/pricing"
)

// Config aggregates runtime configuration for the Mini App backend and the bot.
type Config struct {
	BotToken   string
	MiniAppURL string
	LogLevel   string
	ListenAddr string
	MetricsNS  string

	SupabaseURL string
	SupabaseKey string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	TextModel       string
	VisionModel     string
	TranscribeModel string
	KIEAPIKey       string
	KIEBaseURL      string
	ImageModel      string
	ScrapeAPIKey    string
	ScrapeBaseURL   string
	RequestTimeout  time.Duration

	ImageMaxAttempts  int
	ImageRetryDelay   time.Duration
	ImageDeadline     time.Duration
	SpeechMaxAttempts int
	SpeechBaseDelay   time.Duration
	VoiceMaxDuration  time.Duration
	LaunchIdleTTL     time.Duration

	OutboxDriver        string
	OutboxDSN           string
	OutboxFlushInterval time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	IdentityTTL   time.Duration

	AdminUsername string
	AdminPassword string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	Prices pricing.Table
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		MiniAppURL:          getEnv("MINIAPP_URL", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		MetricsNS:           getEnv("METRICS_NAMESPACE", "postapp"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		TextModel:           getEnv("OPENAI_TEXT_MODEL", "gpt-4o-mini"),
		VisionModel:         getEnv("OPENAI_VISION_MODEL", "gpt-4o-mini"),
		TranscribeModel:     getEnv("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		KIEBaseURL:          normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		ImageModel:          getEnv("KIE_IMAGE_MODEL", "nano-banana-pro"),
		ScrapeBaseURL:       getEnv("SCRAPECREATORS_BASE_URL", "https://api.scrapecreators.com/v1"),
		RequestTimeout:      time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		ImageMaxAttempts:    getInt("IMAGE_MAX_ATTEMPTS", 3),
		ImageRetryDelay:     getDuration("IMAGE_RETRY_DELAY", 2*time.Second),
		ImageDeadline:       getDuration("IMAGE_DEADLINE", 4*time.Minute),
		SpeechMaxAttempts:   getInt("SPEECH_MAX_ATTEMPTS", 3),
		SpeechBaseDelay:     getDuration("SPEECH_BASE_DELAY", time.Second),
		VoiceMaxDuration:    getDuration("VOICE_MAX_DURATION", 2*time.Minute),
		LaunchIdleTTL:       getDuration("LAUNCH_IDLE_TTL", 2*time.Hour),
		OutboxDriver:        strings.ToLower(getEnv("OUTBOX_DRIVER", "mysql")),
		OutboxFlushInterval: getDuration("OUTBOX_FLUSH_INTERVAL", 5*time.Second),
		OutboxBatchSize:     getInt("OUTBOX_BATCH_SIZE", 50),
		OutboxMaxAttempts:   getInt("OUTBOX_MAX_ATTEMPTS", 10),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getInt("REDIS_DB", 0),
		IdentityTTL:         getDuration("IDENTITY_CACHE_TTL", 5*time.Minute),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "posts"),
		Prices:              loadPrices(),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.SupabaseURL = os.Getenv("SUPABASE_URL")
	cfg.SupabaseKey = os.Getenv("SUPABASE_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")
	cfg.ScrapeAPIKey = os.Getenv("SCRAPECREATORS_API_KEY")
	cfg.OutboxDSN = os.Getenv("OUTBOX_DSN")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	required := []struct {
		key   string
		value string
	}{
		{"TELEGRAM_BOT_TOKEN", c.BotToken},
		{"SUPABASE_URL", c.SupabaseURL},
		{"SUPABASE_KEY", c.SupabaseKey},
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
		{"KIE_API_KEY", c.KIEAPIKey},
		{"OUTBOX_DSN", c.OutboxDSN},
		{"S3_REGION", c.S3Region},
		{"S3_ACCESS_KEY", c.S3AccessKey},
		{"S3_SECRET_KEY", c.S3SecretKey},
		{"S3_BUCKET", c.S3Bucket},
		{"S3_PUBLIC_BASE_URL", c.S3PublicBaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	switch c.OutboxDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported OUTBOX_DRIVER %q", c.OutboxDriver)
	}
	if c.ImageMaxAttempts < 1 {
		return fmt.Errorf("IMAGE_MAX_ATTEMPTS must be at least 1")
	}
	// The API server writes responses for at most five minutes.
	if c.ImageDeadline <= 0 || c.ImageDeadline >= 5*time.Minute {
		return fmt.Errorf("IMAGE_DEADLINE must be between 0 and 5m, got %s", c.ImageDeadline)
	}
	if c.OutboxMaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func loadPrices() pricing.Table {
	p := pricing.Default()
	p.ImprovePrompt = getCents("PRICE_IMPROVE_PROMPT", p.ImprovePrompt)
	p.CTASuggestions = getCents("PRICE_CTA", p.CTASuggestions)
	p.PrepareImage = getCents("PRICE_PREPARE_IMAGE", p.PrepareImage)
	p.GenerateText = getCents("PRICE_GENERATE_TEXT", p.GenerateText)
	p.GenerateImage = getCents("PRICE_GENERATE_IMAGE", p.GenerateImage)
	p.AnalysisBase = getCents("PRICE_URL_ANALYSIS", p.AnalysisBase)
	p.AnalysisImage = getCents("PRICE_ANALYSIS_IMAGE", p.AnalysisImage)
	p.VideoPerMinute = getCents("PRICE_VIDEO_MINUTE", p.VideoPerMinute)
	p.FileAnalysis = getCents("PRICE_FILE_ANALYSIS", p.FileAnalysis)
	p.Transcription = getCents("PRICE_TRANSCRIPTION", p.Transcription)
	return p
}

// normalizeKIEBaseURL ensures we always hit the documented API host. The root
// kie.ai domain serves HTML instead of JSON.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getCents reads a price in cents. Negative values fall back to the default.
func getCents(key string, fallback models.Cents) models.Cents {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i < 0 {
		return fallback
	}
	return models.Cents(i)
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running with a plain process environment is fine.
	return nil
}
