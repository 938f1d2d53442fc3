package llm

import (
	"fmt"
	"log/slog"

	"github.com/b0ase/kintsugi/internal/config"
)

// NewClientFromConfig selects the provider at start-up. MOCK mode returns the
// offline client; otherwise the pinned provider or the first one with an API
// key is used.
func NewClientFromConfig(cfg *config.Config, logger *slog.Logger) (Client, error) {
	if cfg.MockMode() {
		logger.Info("KINTSUGI_MODE=MOCK detected, using mock completion client")
		return NewMockClient(), nil
	}

	name, p, ok := cfg.ActiveProvider()
	if !ok {
		return nil, ErrNoProvider
	}
	price := Price{Input: p.InputPrice, Output: p.OutputPrice}
	logger.Info("completion provider selected", "provider", name, "model", p.Model, "base_url", p.BaseURL)

	switch name {
	case "anthropic":
		return NewAnthropicClient(p.BaseURL, p.APIKey, p.Model, price), nil
	case "kimi", "deepseek", "gemini", "openai":
		return NewOpenAIClient(OpenAIOptions{
			Name:    name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Model:   p.Model,
			Price:   price,
		}), nil
	default:
		// Extra providers from the config file are assumed OpenAI-compatible.
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %s: base_url is required", name)
		}
		return NewOpenAIClient(OpenAIOptions{
			Name:    name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Model:   p.Model,
			Price:   price,
		}), nil
	}
}
