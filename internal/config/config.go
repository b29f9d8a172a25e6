package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	GeminiBaseURL    string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GeminiAPIVersion string `env:"GEMINI_API_VERSION" envDefault:"v1beta"`

	Model     string `env:"ECOM_MODEL" envDefault:"gemini-3"`
	TextModel string `env:"ECOM_TEXT_MODEL" envDefault:"gemini-3-flash-preview"`

	OutputDir       string `env:"ECOM_OUTPUT_DIR" envDefault:"outputs"`
	ManualOutputDir string `env:"ECOM_MANUAL_OUTPUT_DIR" envDefault:"manual_outputs"`
	CatalogDir      string `env:"ECOM_CATALOG_DIR" envDefault:"catalog"`
	PromptsDir      string `env:"ECOM_PROMPTS_DIR" envDefault:"prompts"`

	MaxWorkers      int           `env:"ECOM_MAX_WORKERS" envDefault:"5"`
	MaxRetries      int           `env:"ECOM_MAX_RETRIES" envDefault:"2"`
	RetryDelay      time.Duration `env:"ECOM_RETRY_DELAY" envDefault:"2s"`
	RequestInterval time.Duration `env:"ECOM_REQUEST_INTERVAL" envDefault:"0s"`
	ImageCacheTTL   time.Duration `env:"ECOM_IMAGE_CACHE_TTL" envDefault:"30m"`
	MaxInlineBytes  int64         `env:"ECOM_MAX_INLINE_BYTES" envDefault:"20971520"`

	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"180s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30m"`
	PreferIPv4     bool          `env:"PREFER_IPV4" envDefault:"true"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	WebAddr string `env:"WEB_ADDR" envDefault:":8080"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)
	cfg.GeminiBaseURL = strings.TrimSpace(cfg.GeminiBaseURL)
	cfg.GeminiAPIVersion = strings.TrimSpace(cfg.GeminiAPIVersion)
	cfg.Model = strings.ToLower(strings.TrimSpace(cfg.Model))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)

	if cfg.GeminiAPIKey == "" {
		return Config{}, errors.New("GEMINI_API_KEY is required")
	}

	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.RequestInterval < 0 {
		cfg.RequestInterval = 0
	}
	if cfg.ImageCacheTTL <= 0 {
		cfg.ImageCacheTTL = 30 * time.Minute
	}
	if cfg.MaxInlineBytes <= 0 {
		cfg.MaxInlineBytes = 20 << 20
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Minute
	}

	return cfg, nil
}

// TelegramEnabled reports whether finished runs should be published to a chat.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}
