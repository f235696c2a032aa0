package llm

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/tbourn/study-mentor-backend/internal/config"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderYandex = "yandex"
)

// Factory creates completion clients from configuration.
type Factory struct {
	cfg config.LLMConfig
}

// NewFactory returns a Factory for cfg.
func NewFactory(cfg config.LLMConfig) *Factory {
	return &Factory{cfg: cfg}
}

// New creates the configured provider's client, bounded by cfg.Timeout.
func (f *Factory) New(ctx context.Context) (Client, error) {
	var (
		c   Client
		err error
	)
	switch p := strings.ToLower(f.cfg.Provider); p {
	case ProviderGemini:
		if f.cfg.GeminiAPIKey == "" {
			return nil, goerr.New("GEMINI_API_KEY is required for the gemini provider")
		}
		c, err = NewGemini(ctx, f.cfg.GeminiAPIKey, f.cfg.Model)
	case ProviderOpenAI:
		if f.cfg.OpenAIAPIKey == "" {
			return nil, goerr.New("OPENAI_API_KEY is required for the openai provider")
		}
		c = NewOpenAI(f.cfg.OpenAIAPIKey, f.cfg.OpenAIBaseURL, f.cfg.Model, f.cfg.OpenRouterReferrer, f.cfg.OpenRouterTitle)
	case ProviderYandex:
		c, err = NewYandex(f.cfg.YandexOAuthToken, f.cfg.YandexFolderID)
	default:
		return nil, goerr.New("unknown llm provider", goerr.V("provider", p))
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(c, f.cfg.Timeout), nil
}
