// Package openai implements the cloud provider adapter for
// OpenAI-compatible chat completion APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"phoenixgate/internal/config"
	"phoenixgate/internal/models"
	"phoenixgate/internal/provider"
)

// Client wraps an OpenAI-compatible endpoint. Pointing BaseURL at a
// different compatible service (GLM, OpenRouter, a vLLM deployment) makes
// the same adapter serve either the primary or the fallback chain slot.
type Client struct {
	name        string
	kind        provider.Kind
	model       string
	maxTokens   int
	temperature float64
	api         *goopenai.Client
}

// New constructs a cloud client from configuration.
func New(cfg config.ProviderConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key must not be empty")
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout.Std()}
	}

	return &Client{
		name:        cfg.Name,
		kind:        provider.Kind(cfg.Kind),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		api:         goopenai.NewClientWithConfig(clientConfig),
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Kind() provider.Kind {
	return c.kind
}

// Complete issues a chat completion with the persona system prompt and the
// user prompt as the two messages.
func (c *Client) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if n := req.MaxTokens; n > 0 {
		chatReq.MaxTokens = n
	} else if c.maxTokens > 0 {
		chatReq.MaxTokens = c.maxTokens
	}
	if t := req.Temperature; t > 0 {
		chatReq.Temperature = float32(t)
	} else if c.temperature > 0 {
		chatReq.Temperature = float32(c.temperature)
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, provider.NewError(c.name, classify(err), fmt.Errorf("chat completion failed: %w", err))
	}

	if len(resp.Choices) == 0 {
		return nil, provider.NewError(c.name, provider.KindTransient, errors.New("upstream returned no choices"))
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, provider.NewError(c.name, provider.KindTransient, errors.New("upstream returned empty content"))
	}

	return &models.CompletionResponse{
		ID:           resp.ID,
		Content:      content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Ping verifies credentials and reachability via the models listing, the
// cheapest authenticated call the API offers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models failed: %w", err)
	}
	return nil
}

// classify maps go-openai errors onto the gateway error taxonomy.
func classify(err error) provider.ErrorKind {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode > 0 {
			return provider.ClassifyStatus(reqErr.HTTPStatusCode)
		}
	}
	return provider.ClassifyTransport(err)
}
