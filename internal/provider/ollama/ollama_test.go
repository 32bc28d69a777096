package ollama

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
		Name:        "local-llama",
		Type:        config.TypeOllama,
		Kind:        config.KindLocal,
		BaseURL:     baseURL,
		Model:       "llama3.1",
		MaxTokens:   256,
		Temperature: 0.2,
	}, &http.Client{Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestCompleteSendsGeneratePayload(t *testing.T) {
	var got generatePayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(generateResponse{
			Model:           "llama3.1",
			Response:        "the answer",
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 12,
			EvalCount:       30,
		})
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	resp, err := c.Complete(context.Background(), &models.CompletionRequest{
		Prompt:       "what is the answer?",
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)

	assert.Equal(t, "llama3.1", got.Model)
	assert.Equal(t, "what is the answer?", got.Prompt)
	assert.Equal(t, "be brief", got.System)
	assert.False(t, got.Stream)
	assert.EqualValues(t, 256, got.Options["num_predict"])

	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
}

func TestCompleteRequestOverridesDefaults(t *testing.T) {
	var got generatePayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true})
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	_, err := c.Complete(context.Background(), &models.CompletionRequest{
		Prompt:      "hi",
		Model:       "codellama",
		MaxTokens:   64,
		Temperature: 0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, "codellama", got.Model)
	assert.EqualValues(t, 64, got.Options["num_predict"])
	assert.InDelta(t, 0.9, got.Options["temperature"].(float64), 1e-9)
}

func TestCompleteClassifiesUpstreamStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   provider.ErrorKind
	}{
		{http.StatusTooManyRequests, provider.KindRateLimited},
		{http.StatusInternalServerError, provider.KindTransient},
		{http.StatusUnauthorized, provider.KindAuth},
		{http.StatusNotFound, provider.KindPermanent},
	}
	for _, tc := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream says no", tc.status)
		}))

		c := newClient(t, ts.URL)
		_, err := c.Complete(context.Background(), &models.CompletionRequest{Prompt: "hi"})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.kind, provider.KindOf(err), "status %d", tc.status)
		ts.Close()
	}
}

func TestCompleteEmptyResponseIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "", Done: true})
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	_, err := c.Complete(context.Background(), &models.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, provider.KindTransient, provider.KindOf(err))
}

func TestCompleteConnectionRefusedIsTransient(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1")
	_, err := c.Complete(context.Background(), &models.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, provider.KindOf(err).Retryable())
}

func TestCompleteTimeoutClassifiedAsTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, &models.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, provider.KindTimeout, provider.KindOf(err))
}

func TestPing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestPingFailsOnBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	assert.Error(t, c.Ping(context.Background()))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(config.ProviderConfig{Name: "x"}, &http.Client{})
	assert.Error(t, err)
}
