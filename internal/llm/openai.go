package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	openAIName         = "openai"
	openAIDefaultURL   = "https://api.openai.com"
	openAIDefaultModel = "gpt-4o-mini"
)

// openAIClient implements Provider against the OpenAI chat completions API.
type openAIClient struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
}

// newOpenAIClient creates a new OpenAI API client.
func newOpenAIClient(cfg Config) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 300
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIDefaultURL
	}

	return &openAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		httpClient:  newHTTPClient(cfg.Timeout),
	}, nil
}

func (c *openAIClient) Name() string  { return openAIName }
func (c *openAIClient) Model() string { return c.model }

// Categorize sends one categorization request to OpenAI.
func (c *openAIClient) Categorize(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	requestBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{
				"role":    "system",
				"content": systemPrompt,
			},
			{
				"role":    "user",
				"content": buildPrompt(req),
			},
		},
		"temperature":     c.temperature,
		"max_tokens":      c.maxTokens,
		"response_format": map[string]string{"type": "json_object"},
	}

	body, err := postJSON(ctx, c.httpClient, openAIName, c.baseURL+"/v1/chat/completions", map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, requestBody)
	if err != nil {
		return Result{}, err
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return Result{}, malformedError(openAIName, fmt.Errorf("failed to parse response: %w", err))
	}
	if len(response.Choices) == 0 {
		return Result{}, malformedError(openAIName, fmt.Errorf("no completion choices returned"))
	}

	categorization, err := parseCategorization(response.Choices[0].Message.Content, req.Direction)
	if err != nil {
		return Result{}, malformedError(openAIName, err)
	}
	categorization.Provider = openAIName
	categorization.Model = c.model

	usage := Usage{InputTokens: response.Usage.PromptTokens, OutputTokens: response.Usage.CompletionTokens}
	return Result{
		Categorization: categorization,
		Usage:          usage,
		Cost:           EstimateCost(c.model, usage),
		Latency:        time.Since(start),
	}, nil
}

// openAIResponse represents the OpenAI API response structure.
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
