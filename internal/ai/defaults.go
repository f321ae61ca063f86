package ai

import (
	"github.com/suPer8Hu/repochat/internal/catalog"
	"github.com/suPer8Hu/repochat/internal/config"
)

// NewDefaultRegistry registers the built-in providers:
//
//	http        upstream answer service speaking the frame protocol (ANSWER_BASE_URL)
//	ollama      local Ollama model behind FramedProvider
//	openrouter  OpenRouter model behind FramedProvider
func NewDefaultRegistry(cfg config.Config, describe func(string) (catalog.Project, bool)) *Registry {
	reg := NewRegistry()
	reg.Register("http", func() (AnswerProvider, error) {
		return NewHTTPProvider(cfg.AnswerBaseURL, cfg.AnswerAPIKey), nil
	})
	reg.Register("ollama", func() (AnswerProvider, error) {
		return NewFramedProvider(NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel), describe), nil
	})
	reg.Register("openrouter", func() (AnswerProvider, error) {
		return NewFramedProvider(NewOpenRouterProvider(
			cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName,
		), describe), nil
	})
	return reg
}
