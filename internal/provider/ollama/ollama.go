// Package ollama implements the local inference daemon adapter.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"phoenixgate/internal/config"
	"phoenixgate/internal/models"
	"phoenixgate/internal/provider"
)

const contentTypeJSON = "application/json"

// Client talks to an Ollama daemon over its native HTTP API.
type Client struct {
	name        string
	kind        provider.Kind
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	generateURL string
	tagsURL     string
}

// New constructs an Ollama client from configuration.
func New(cfg config.ProviderConfig, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		name:        cfg.Name,
		kind:        provider.Kind(cfg.Kind),
		baseURL:     baseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      client,
		generateURL: baseURL + "/api/generate",
		tagsURL:     baseURL + "/api/tags",
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Kind() provider.Kind {
	return c.kind
}

type generatePayload struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete sends a non-streaming generate request to the daemon.
func (c *Client) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	options := make(map[string]any)
	if n := firstNonZeroInt(req.MaxTokens, c.maxTokens); n > 0 {
		options["num_predict"] = n
	}
	if t := firstNonZeroFloat(req.Temperature, c.temperature); t > 0 {
		options["temperature"] = t
	}
	for k, v := range req.Options {
		options[k] = v
	}
	if len(options) == 0 {
		options = nil
	}

	payload := generatePayload{
		Model:   model,
		Prompt:  req.Prompt,
		System:  req.SystemPrompt,
		Stream:  false,
		Options: options,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, provider.NewError(c.name, provider.KindPermanent, fmt.Errorf("marshal payload: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL, bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewError(c.name, provider.KindPermanent, fmt.Errorf("construct request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, provider.NewError(c.name, provider.ClassifyTransport(err), fmt.Errorf("ollama generate request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, provider.NewError(c.name, provider.ClassifyStatus(httpResp.StatusCode), upstreamError(httpResp))
	}

	var genResp generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&genResp); err != nil {
		return nil, provider.NewError(c.name, provider.KindTransient, fmt.Errorf("decode ollama response: %w", err))
	}

	if genResp.Response == "" {
		return nil, provider.NewError(c.name, provider.KindTransient, errors.New("ollama returned empty response content"))
	}

	return &models.CompletionResponse{
		Content:      genResp.Response,
		Model:        genResp.Model,
		FinishReason: genResp.DoneReason,
		Usage: models.Usage{
			PromptTokens:     genResp.PromptEvalCount,
			CompletionTokens: genResp.EvalCount,
			TotalTokens:      genResp.PromptEvalCount + genResp.EvalCount,
		},
	}, nil
}

// Ping checks daemon liveness via the lightweight tags endpoint.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tagsURL, nil)
	if err != nil {
		return fmt.Errorf("construct health request: %w", err)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama health check failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", httpResp.StatusCode)
	}
	return nil
}

func upstreamError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}
	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func firstNonZeroInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroFloat(values ...float64) float64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
