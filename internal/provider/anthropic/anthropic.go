// Package anthropic implements the cloud provider adapter for the
// Anthropic Messages API.
package anthropic

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

const (
	contentTypeJSON  = "application/json"
	userAgent        = "phoenixgate/0.1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 2048
)

// Client talks to the Anthropic Messages API.
type Client struct {
	name        string
	kind        provider.Kind
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	headers     map[string]string
	client      *http.Client
	messagesURL string
}

// New constructs an Anthropic client from configuration.
func New(cfg config.ProviderConfig, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		name:        cfg.Name,
		kind:        provider.Kind(cfg.Kind),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		headers:     cfg.Headers,
		client:      client,
		messagesURL: baseURL + "/v1/messages",
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Kind() provider.Kind {
	return c.kind
}

type messagePayload struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messageResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	Usage      usageBlock     `json:"usage"`
	StopReason string         `json:"stop_reason"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete issues a single-turn Messages request with the persona system
// prompt.
func (c *Client) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	payload := messagePayload{
		Model: model,
		Messages: []message{{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: req.Prompt}},
		}},
		System:    req.SystemPrompt,
		MaxTokens: maxTokens,
	}
	if t := req.Temperature; t > 0 {
		payload.Temperature = &t
	} else if c.temperature > 0 {
		temp := c.temperature
		payload.Temperature = &temp
	}

	httpReq, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, provider.NewError(c.name, provider.KindPermanent, err)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, provider.NewError(c.name, provider.ClassifyTransport(err), fmt.Errorf("anthropic messages request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, provider.NewError(c.name, provider.ClassifyStatus(httpResp.StatusCode), parseAPIError(httpResp))
	}

	var msgResp messageResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&msgResp); err != nil {
		return nil, provider.NewError(c.name, provider.KindTransient, fmt.Errorf("decode anthropic response: %w", err))
	}

	text := strings.Builder{}
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, provider.NewError(c.name, provider.KindTransient, errors.New("anthropic response missing text content"))
	}

	return &models.CompletionResponse{
		ID:           msgResp.ID,
		Content:      text.String(),
		Model:        msgResp.Model,
		FinishReason: msgResp.StopReason,
		Usage: models.Usage{
			PromptTokens:     msgResp.Usage.InputTokens,
			CompletionTokens: msgResp.Usage.OutputTokens,
			TotalTokens:      msgResp.Usage.InputTokens + msgResp.Usage.OutputTokens,
		},
	}, nil
}

// Ping issues a minimal one-token request to verify credentials and
// reachability.
func (c *Client) Ping(ctx context.Context) error {
	payload := messagePayload{
		Model: c.model,
		Messages: []message{{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: "ping"}},
		}},
		MaxTokens: 1,
	}

	httpReq, err := c.newRequest(ctx, payload)
	if err != nil {
		return err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic health check failed: %w", err)
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(httpResp.Body, 64*1024))

	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("anthropic health check returned status %d", httpResp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("anthropic error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
