package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	generatorDeepSeek  = "deepseek"
	generatorAnthropic = "anthropic"
)

type config struct {
	Database string `env:"DATABASE, default=topics.db"`

	TelegramToken string `env:"TELEGRAM_BOT_TOKEN, required"`

	// Which backend writes the articles: deepseek or anthropic
	Generator       string  `env:"GENERATOR, default=deepseek"`
	DeepSeekAPIKey  string  `env:"DEEPSEEK_API_KEY"`
	DeepSeekBaseURL string  `env:"DEEPSEEK_BASE_URL, default=https://api.deepseek.com"`
	DeepSeekModel   string  `env:"DEEPSEEK_MODEL, default=deepseek-chat"`
	AnthropicAPIKey string  `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string  `env:"ANTHROPIC_MODEL, default=claude-sonnet-4-5"`
	MaxTokens       int     `env:"MAX_TOKENS, default=8000"`
	Temperature     float64 `env:"TEMPERATURE, default=0.7"`

	LocalTZ         string        `env:"LOCAL_TZ, default=Etc/GMT-3"`
	GenerateTimeout time.Duration `env:"GENERATE_TIMEOUT, default=5m"`
	PublishTimeout  time.Duration `env:"PUBLISH_TIMEOUT, default=1m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s"`

	// An account is created on startup when empty
	TelegraphToken      string `env:"TELEGRAPH_TOKEN"`
	TelegraphShortName  string `env:"TELEGRAPH_SHORT_NAME, default=deepstudy"`
	TelegraphAuthorName string `env:"TELEGRAPH_AUTHOR_NAME, default=DeepStudy Bot"`

	// The ops API is off when 0
	Port       int    `env:"PORT, default=0"`
	CorsOrigin string `env:"CORS_ORIGIN, default=*"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

// LogValue keeps secrets out of the logs.
func (c config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("database", c.Database),
		slog.String("generator", c.Generator),
		slog.String("local_tz", c.LocalTZ),
		slog.Duration("generate_timeout", c.GenerateTimeout),
		slog.Duration("publish_timeout", c.PublishTimeout),
		slog.Bool("telegraph_token_set", c.TelegraphToken != ""),
		slog.Int("port", c.Port),
	)
}

// validate checks what the struct tags cannot and loads the time zone.
func (c config) validate() (*time.Location, error) {
	var errs []error
	switch c.Generator {
	case generatorDeepSeek:
		if c.DeepSeekAPIKey == "" {
			errs = append(errs, errors.New("DEEPSEEK_API_KEY is required for the deepseek generator"))
		}
	case generatorAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic generator"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GENERATOR %q", c.Generator))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("TEMPERATURE must be between 0 and 2, got %v", c.Temperature))
	}
	if c.GenerateTimeout <= 0 || c.PublishTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}

	loc, err := time.LoadLocation(c.LocalTZ)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid LOCAL_TZ: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return loc, nil
}

// tzLabel renders the zone's offset at `at` the way users read it, e.g. "GMT+3".
func tzLabel(loc *time.Location, at time.Time) string {
	_, offset := at.In(loc).Zone()

	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hours, minutes := offset/3600, offset%3600/60
	if minutes != 0 {
		return fmt.Sprintf("GMT%s%d:%02d", sign, hours, minutes)
	}
	return fmt.Sprintf("GMT%s%d", sign, hours)
}
