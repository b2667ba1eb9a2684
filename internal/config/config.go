// Package config reads process settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/PipeOpsHQ/quiz-agent/state/factory"
)

type Config struct {
	AppName string `env:"APP_NAME" envDefault:"TDS Project API"`

	OpenAIKey          string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL" envDefault:"https://aipipe.org/openai/v1"`
	OpenAIFilesBaseURL string `env:"OPENAI_FILES_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel        string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OpenAIMaxRetries   int    `env:"OPENAI_MAX_RETRIES" envDefault:"3"`

	// VisionBackend is "openai" or "gemini".
	VisionBackend string `env:"VISION_BACKEND" envDefault:"openai"`
	GeminiKey     string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	UserEmail  string `env:"USER_EMAIL" envDefault:"default_email"`
	UserSecret string `env:"USER_SECRET" envDefault:"yoursecret"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":5000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RatePerMinute   int           `env:"RATE_PER_MINUTE" envDefault:"30"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	MaxToolOutput int           `env:"MAX_TOOL_OUTPUT" envDefault:"30000"`
	SolveTimeout  time.Duration `env:"SOLVE_TIMEOUT" envDefault:"15m"`

	ChromePath   string        `env:"CHROME_PATH"`
	RenderSettle time.Duration `env:"RENDER_SETTLE" envDefault:"3s"`

	TraceDBPath string `env:"TRACE_DB_PATH"`
	OTelEnabled bool   `env:"OTEL_ENABLED" envDefault:"false"`

	State factory.Config
}

// Load applies .env (when present) without overriding variables already set,
// then parses the environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.VisionBackend) {
	case "openai":
	case "gemini":
		if c.GeminiKey == "" {
			return errors.New("GEMINI_API_KEY is required when VISION_BACKEND=gemini")
		}
	default:
		return fmt.Errorf("unsupported VISION_BACKEND %q (use openai or gemini)", c.VisionBackend)
	}
	if c.RatePerMinute < 0 {
		return errors.New("RATE_PER_MINUTE must not be negative")
	}
	return nil
}
