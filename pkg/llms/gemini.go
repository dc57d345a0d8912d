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

// GeminiProvider implements Provider against the Gemini generateContent API.
type GeminiProvider struct {
	client  *httpclient.Client
	apiKey  string
	baseURL string
	models  config.LLMModels
}

type geminiRequest struct {
	Contents         []geminiContent   `json:"contents"`
	GenerationConfig *geminiGenConfig  `json:"generationConfig,omitempty"`
	SystemInstr      *geminiContent    `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func NewGeminiProvider(cfg *config.LLMEndpointConfig) (*GeminiProvider, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini endpoint")
	}

	baseURL := cfg.APIEndpoint()
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	return &GeminiProvider{
		client:  httpclient.New(),
		apiKey:  apiKey,
		baseURL: baseURL,
		models:  cfg.Models,
	}, nil
}

func (p *GeminiProvider) ModelName(tier Tier) string {
	if tier == TierHigh {
		return p.models.High
	}
	return p.models.Low
}

func (p *GeminiProvider) Ask(ctx context.Context, prompt string, schema map[string]any, opts AskOptions) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	model := opts.Model
	if model == "" {
		model = p.ModelName(opts.Tier)
	}

	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		SystemInstr: &geminiContent{
			Parts: []geminiPart{{Text: structuredSystemPrompt(schema)}},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:      0,
			MaxOutputTokens:  opts.MaxTokens,
			ResponseMimeType: "application/json",
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("gemini API error: %s (status: %s)", parsed.Error.Message, parsed.Error.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("gemini response contained no candidates")
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}

	obj := ParseJSONObject(text)
	if obj == nil {
		return nil, fmt.Errorf("gemini response was not a JSON object")
	}
	return obj, nil
}

func (p *GeminiProvider) Close() error {
	return nil
}

var _ Provider = (*GeminiProvider)(nil)
