package llms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/registry"
)

// Service is the process-wide structured-ask facade. It lazy-initializes
// provider adapters from configuration on first use and applies the
// degrade-to-empty failure policy at one place.
type Service struct {
	cfg       *config.Config
	providers *registry.BaseRegistry[Provider]
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:       cfg,
		providers: registry.NewBaseRegistry[Provider](),
	}
}

// Ask runs a structured ask against the selected endpoint. On any failure
// (timeout, provider error, malformed JSON) it returns an empty map so the
// caller can treat the call as "no structured response" — unless testing
// mode requests that failures propagate.
func (s *Service) Ask(ctx context.Context, prompt string, schema map[string]any, opts AskOptions) (map[string]any, error) {
	obj, err := s.ask(ctx, prompt, schema, opts)
	if err != nil {
		if s.cfg.ShouldRaiseExceptions() {
			return nil, err
		}
		slog.Warn("LLM ask failed, degrading to empty response",
			"tier", string(opts.Tier), "error", err)
		return map[string]any{}, nil
	}
	return obj, nil
}

func (s *Service) ask(ctx context.Context, prompt string, schema map[string]any, opts AskOptions) (map[string]any, error) {
	endpointName := s.cfg.LLM.PreferredEndpoint

	// Per-request overrides are a development-mode affordance only.
	if s.cfg.IsDevelopment() {
		if opts.Endpoint != "" {
			endpointName = opts.Endpoint
		}
	} else {
		opts.Endpoint = ""
		opts.Model = ""
	}

	provider, err := s.provider(endpointName)
	if err != nil {
		return nil, err
	}

	return provider.Ask(ctx, prompt, schema, opts)
}

// provider returns the adapter for a named endpoint, constructing it on
// first use.
func (s *Service) provider(name string) (Provider, error) {
	return s.providers.GetOrCreate(name, func() (Provider, error) {
		_, epCfg, err := s.cfg.LLM.Endpoint(name)
		if err != nil {
			return nil, err
		}
		return newProvider(epCfg)
	})
}

func newProvider(cfg *config.LLMEndpointConfig) (Provider, error) {
	switch cfg.LLMType {
	case config.LLMTypeOpenAI:
		return NewOpenAIProvider(cfg)
	case config.LLMTypeAnthropic:
		return NewAnthropicProvider(cfg)
	case config.LLMTypeGemini:
		return NewGeminiProvider(cfg)
	case config.LLMTypeOllama:
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm_type: %s (supported: openai, anthropic, gemini, ollama)", cfg.LLMType)
	}
}

// Close closes all initialized providers.
func (s *Service) Close() error {
	for _, p := range s.providers.List() {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close LLM provider", "error", err)
		}
	}
	return nil
}
