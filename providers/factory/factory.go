package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PipeOpsHQ/quiz-agent/llm"
	geminiprov "github.com/PipeOpsHQ/quiz-agent/providers/gemini"
	openaiprov "github.com/PipeOpsHQ/quiz-agent/providers/openai"
)

const (
	VisionOpenAI = "openai"
	VisionGemini = "gemini"
)

type Config struct {
	OpenAIKey          string
	OpenAIBaseURL      string
	OpenAIFilesBaseURL string
	OpenAIModel        string
	OpenAIMaxRetries   int

	VisionBackend string
	GeminiKey     string
	GeminiModel   string
}

// Assistants builds the client that drives runs and stores files. Empty
// base URLs keep the client defaults.
func Assistants(cfg Config, logger *slog.Logger) (*openaiprov.Client, error) {
	key := strings.TrimSpace(cfg.OpenAIKey)
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	opts := []openaiprov.Option{
		openaiprov.WithModel(cfg.OpenAIModel),
		openaiprov.WithMaxRetries(cfg.OpenAIMaxRetries),
		openaiprov.WithLogger(logger),
	}
	if baseURL := strings.TrimSpace(cfg.OpenAIBaseURL); baseURL != "" {
		opts = append(opts, openaiprov.WithBaseURL(baseURL))
	}
	if filesURL := strings.TrimSpace(cfg.OpenAIFilesBaseURL); filesURL != "" {
		opts = append(opts, openaiprov.WithFilesBaseURL(filesURL))
	}
	return openaiprov.New(key, opts...)
}

// Vision picks the image backend. The openai backend reuses assistants,
// which may be nil when no key is configured.
func Vision(ctx context.Context, cfg Config, assistants *openaiprov.Client) (llm.Vision, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.VisionBackend))
	switch backend {
	case "", VisionOpenAI:
		if assistants == nil {
			return nil, errors.New("openai vision needs OPENAI_API_KEY")
		}
		return assistants, nil

	case VisionGemini:
		key := strings.TrimSpace(cfg.GeminiKey)
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when VISION_BACKEND=gemini")
		}
		return geminiprov.New(ctx, key, geminiprov.WithModel(cfg.GeminiModel))
	}

	return nil, fmt.Errorf("unsupported VISION_BACKEND %q (use openai or gemini)", cfg.VisionBackend)
}
