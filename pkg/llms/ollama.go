package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/httpclient"
)

// OllamaProvider implements Provider against a local Ollama server. No API
// key is required.
type OllamaProvider struct {
	client  *httpclient.Client
	baseURL string
	models  config.LLMModels
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func NewOllamaProvider(cfg *config.LLMEndpointConfig) (*OllamaProvider, error) {
	baseURL := cfg.APIEndpoint()
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		client:  httpclient.New(),
		baseURL: baseURL,
		models:  cfg.Models,
	}, nil
}

func (p *OllamaProvider) ModelName(tier Tier) string {
	if tier == TierHigh {
		return p.models.High
	}
	return p.models.Low
}

func (p *OllamaProvider) Ask(ctx context.Context, prompt string, schema map[string]any, opts AskOptions) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	model := opts.Model
	if model == "" {
		model = p.ModelName(opts.Tier)
	}

	options := map[string]any{"temperature": 0}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	req := ollamaRequest{
		Model:   model,
		Prompt:  prompt,
		System:  structuredSystemPrompt(schema),
		Format:  "json",
		Stream:  false,
		Options: options,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", parsed.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}

	obj := ParseJSONObject(parsed.Response)
	if obj == nil {
		return nil, fmt.Errorf("ollama response was not a JSON object")
	}
	return obj, nil
}

func (p *OllamaProvider) Close() error {
	return nil
}

var _ Provider = (*OllamaProvider)(nil)
