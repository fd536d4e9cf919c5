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
)

// Config aggregates runtime configuration for the API and supporting services.
type Config struct {
	ListenAddr        string
	LogLevel          string
	MySQLDSN          string
	MySQLMaxOpenConns int

	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string
	ModerationModel     string
	CompletionTimeout   time.Duration
	MaxTokensPerRequest int
	Temperature         float32
	ProductPitch        string

	DefaultCredits     int
	CreditsPerPurchase int

	LimiterBackend    string
	RateWindow        time.Duration
	RateMaxRequests   int
	MaxConcurrentJobs int

	AuthJWTSecret string
	// AuthAdminSubjects may seed and activate prompt templates when auth is on.
	AuthAdminSubjects []string

	StripeSecretKey     string
	StripePriceID       string
	StripeWebhookSecret string
	FrontendURL         string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UsePathStyle bool
	S3Prefix       string

	TelegramBotToken    string
	TelegramAdminChatID int64

	RabbitMQURL          string
	RabbitMQBillingQueue string
	RabbitMQWorkers      int
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultOpenAIBaseURL = "https://api.openai.com/v1"

	cfg := Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":4000"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		MySQLMaxOpenConns:    getInt("MYSQL_MAX_OPEN_CONNS", 10),
		OpenAIBaseURL:        normalizeBaseURL(getEnv("OPENAI_BASE_URL", defaultOpenAIBaseURL), defaultOpenAIBaseURL),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ModerationModel:      getEnv("OPENAI_MODERATION_MODEL", "omni-moderation-latest"),
		CompletionTimeout:    getDuration("OPENAI_TIMEOUT", 25*time.Second),
		MaxTokensPerRequest:  getInt("MAX_TOKENS_PER_REQUEST", 1000),
		Temperature:          float32(getFloat("OPENAI_TEMPERATURE", 0.7)),
		ProductPitch:         getEnv("PRODUCT_PITCH", "We help teams generate high-quality, personalized emails in seconds."),
		DefaultCredits:       getInt("DEFAULT_CREDITS", 5),
		CreditsPerPurchase:   getInt("CREDITS_PER_PURCHASE", 10),
		LimiterBackend:       strings.ToLower(getEnv("LIMITER_BACKEND", "memory")),
		RateWindow:           getDuration("RATE_WINDOW", time.Minute),
		RateMaxRequests:      getInt("RATE_MAX_REQUESTS", 5),
		MaxConcurrentJobs:    getInt("MAX_CONCURRENT_JOBS", 2),
		FrontendURL:          strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3Region:             os.Getenv("S3_REGION"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3UsePathStyle:       getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:             getEnv("S3_PREFIX", "prompt-runs"),
		TelegramAdminChatID:  getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		RabbitMQBillingQueue: getEnv("RABBITMQ_BILLING_QUEUE", "billing.credits"),
		RabbitMQWorkers:      getInt("RABBITMQ_WORKERS", 4),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	cfg.AuthAdminSubjects = getList("AUTH_ADMIN_SUBJECTS")
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripePriceID = os.Getenv("STRIPE_PRICE_ID")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.RabbitMQURL = os.Getenv("RABBITMQ_URL")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.S3Bucket != "" {
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
	}
	if c.TelegramBotToken != "" && c.TelegramAdminChatID == 0 {
		missing = append(missing, "TELEGRAM_ADMIN_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch c.LimiterBackend {
	case "memory", "mysql":
	default:
		return fmt.Errorf("unsupported LIMITER_BACKEND: %s", c.LimiterBackend)
	}
	if c.RateMaxRequests <= 0 || c.MaxConcurrentJobs <= 0 || c.RateWindow <= 0 {
		return errors.New("limiter settings must be positive")
	}
	if c.CreditsPerPurchase <= 0 {
		return errors.New("CREDITS_PER_PURCHASE must be positive")
	}
	return nil
}

// StripeEnabled reports whether checkout and webhook routes should be mounted.
func (c Config) StripeEnabled() bool { return c.StripeSecretKey != "" }

func (c Config) S3Enabled() bool { return c.S3Bucket != "" }

func (c Config) TelegramEnabled() bool { return c.TelegramBotToken != "" }

func (c Config) RabbitMQEnabled() bool { return c.RabbitMQURL != "" }

// normalizeBaseURL adds a scheme when one is missing and drops trailing slashes,
// so the OpenAI client can append paths directly.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed, err = url.Parse("https://" + raw)
		if err != nil {
			return fallback
		}
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getList splits a comma separated variable, dropping blank entries.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
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

// getDuration accepts Go duration strings ("25s") or bare milliseconds ("25000").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// loadEnvFile applies the first env file found. A missing file is fine:
// containers usually inject variables directly.
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
	return nil
}
