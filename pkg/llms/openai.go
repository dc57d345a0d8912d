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

// OpenAIProvider implements Provider against the OpenAI chat completions
// API. It also serves OpenAI-compatible endpoints (Azure OpenAI and local
// gateways) via the configured base URL.
type OpenAIProvider struct {
	client  *httpclient.Client
	apiKey  string
	baseURL string
	models  config.LLMModels
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewOpenAIProvider(cfg *config.LLMEndpointConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI endpoint")
	}

	baseURL := cfg.APIEndpoint()
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIProvider{
		client:  httpclient.New(),
		apiKey:  apiKey,
		baseURL: baseURL,
		models:  cfg.Models,
	}, nil
}

func (p *OpenAIProvider) ModelName(tier Tier) string {
	if tier == TierHigh {
		return p.models.High
	}
	return p.models.Low
}

func (p *OpenAIProvider) Ask(ctx context.Context, prompt string, schema map[string]any, opts AskOptions) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	model := opts.Model
	if model == "" {
		model = p.ModelName(opts.Tier)
	}

	req := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: structuredSystemPrompt(schema)},
			{Role: "user", Content: prompt},
		},
		MaxTokens:      opts.MaxTokens,
		Temperature:    0,
		ResponseFormat: &openAIFormat{Type: "json_object"},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai API error: %s (type: %s)", parsed.Error.Message, parsed.Error.Type)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai response contained no choices")
	}

	obj := ParseJSONObject(parsed.Choices[0].Message.Content)
	if obj == nil {
		return nil, fmt.Errorf("openai response was not a JSON object")
	}
	return obj, nil
}

func (p *OpenAIProvider) Close() error {
	return nil
}

// structuredSystemPrompt instructs the model to answer with JSON matching
// the given schema.
func structuredSystemPrompt(schema map[string]any) string {
	base := "You are a precise assistant. Respond with a single JSON object and nothing else."
	if schema == nil {
		return base
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return base
	}
	return base + " The object must match this JSON schema: " + string(schemaJSON)
}

var _ Provider = (*OpenAIProvider)(nil)
