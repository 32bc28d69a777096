package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phoenixgate/internal/config"
	"phoenixgate/internal/models"
	"phoenixgate/internal/provider"
)

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(config.ProviderConfig{
		Name:    "claude",
		Type:    config.TypeAnthropic,
		Kind:    config.KindCloudFallback,
		BaseURL: baseURL,
		APIKey:  "sk-ant-test",
		Model:   "claude-3-5-haiku",
		Headers: map[string]string{"X-Extra": "yes"},
	}, &http.Client{Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestCompleteSendsMessagesRequest(t *testing.T) {
	var got messagePayload
	var header http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		header = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(messageResponse{
			ID:         "msg_1",
			Model:      "claude-3-5-haiku",
			Content:    []contentBlock{{Type: "text", Text: "pong"}},
			Usage:      usageBlock{InputTokens: 10, OutputTokens: 5},
			StopReason: "end_turn",
		})
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	resp, err := c.Complete(context.Background(), &models.CompletionRequest{
		Prompt:       "ping?",
		SystemPrompt: "answer tersely",
	})
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test", header.Get("x-api-key"))
	assert.Equal(t, apiVersion, header.Get("anthropic-version"))
	assert.Equal(t, "yes", header.Get("X-Extra"))

	assert.Equal(t, "claude-3-5-haiku", got.Model)
	assert.Equal(t, "answer tersely", got.System)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "ping?", got.Messages[0].Content[0].Text)

	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteConcatenatesTextBlocks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(messageResponse{
			Content: []contentBlock{
				{Type: "text", Text: "first "},
				{Type: "tool_use"},
				{Type: "text", Text: "second"},
			},
		})
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	resp, err := c.Complete(context.Background(), &models.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "first second", resp.Content)
}

func TestCompleteParsesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(apiErrorResponse{
			Error: apiError{Type: "authentication_error", Message: "invalid x-api-key"},
		})
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	_, err := c.Complete(context.Background(), &models.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, provider.KindAuth, provider.KindOf(err))
	assert.Contains(t, err.Error(), "invalid x-api-key")
}

func TestCompleteRateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	_, err := c.Complete(context.Background(), &models.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, provider.KindRateLimited, provider.KindOf(err))
}

func TestCompleteMissingTextIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(messageResponse{Content: []contentBlock{{Type: "tool_use"}}})
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	_, err := c.Complete(context.Background(), &models.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, provider.KindTransient, provider.KindOf(err))
}

func TestPingUsesOneTokenRequest(t *testing.T) {
	var got messagePayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(messageResponse{Content: []contentBlock{{Type: "text", Text: "p"}}})
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 1, got.MaxTokens)
}

func TestPingReportsBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	assert.Error(t, c.Ping(context.Background()))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(config.ProviderConfig{Name: "claude"}, &http.Client{})
	assert.Error(t, err)
}
