// Package llm wraps the text-generation APIs the extractor can call.
//
// Every backend implements Completer. The extraction service only ever sees
// that interface, so tests drive it with a fake and deployments pick a
// backend with LLM_PROVIDER.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Options tunes a single completion request.
type Options struct {
	System      string
	MaxTokens   int
	Temperature float32
	// JSON asks the backend to constrain output to a JSON object.
	JSON bool
}

// Completer turns a prompt into completion text.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Provider string // "gemini" (default) or "openai"
	APIKey   string
	Model    string
	BaseURL  string // openai only; any OpenAI-compatible endpoint
}

// New builds the backend named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini", "google":
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	case "openai", "openrouter":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q (use gemini or openai)", cfg.Provider)
	}
}
