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

const anthropicAPIVersion = "2023-06-01"

// AnthropicProvider implements Provider against the Anthropic messages API.
type AnthropicProvider struct {
	client     *httpclient.Client
	apiKey     string
	baseURL    string
	apiVersion string
	models     config.LLMModels
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewAnthropicProvider(cfg *config.LLMEndpointConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic endpoint")
	}

	baseURL := cfg.APIEndpoint()
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	apiVersion := cfg.APIVersion()
	if apiVersion == "" {
		apiVersion = anthropicAPIVersion
	}

	return &AnthropicProvider{
		client:     httpclient.New(),
		apiKey:     apiKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		models:     cfg.Models,
	}, nil
}

func (p *AnthropicProvider) ModelName(tier Tier) string {
	if tier == TierHigh {
		return p.models.High
	}
	return p.models.Low
}

func (p *AnthropicProvider) Ask(ctx context.Context, prompt string, schema map[string]any, opts AskOptions) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	model := opts.Model
	if model == "" {
		model = p.ModelName(opts.Tier)
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	req := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    structuredSystemPrompt(schema),
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
			// Prefill nudges the model straight into the object.
			{Role: "assistant", Content: "{"},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s (type: %s)", parsed.Error.Message, parsed.Error.Type)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	// Re-attach the prefilled opening brace.
	obj := ParseJSONObject("{" + text)
	if obj == nil {
		obj = ParseJSONObject(text)
	}
	if obj == nil {
		return nil, fmt.Errorf("anthropic response was not a JSON object")
	}
	return obj, nil
}

func (p *AnthropicProvider) Close() error {
	return nil
}

var _ Provider = (*AnthropicProvider)(nil)
