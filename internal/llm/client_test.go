package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func fakeOpenAI(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		choices := []map[string]any{}
		if reply != "" {
			choices = append(choices, map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": reply},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "test-model",
			"choices": choices,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:   baseURL + "/v1",
		Model:     "test-model",
		APIKey:    "test-key",
		MaxTokens: 300,
		Timeout:   5 * time.Second,
	})
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{Model: "gpt-4o-mini", APIKey: "k"})
	require.NotNil(t, client)
	assert.NotNil(t, client.client)
	assert.Equal(t, 60*time.Second, client.timeout)
}

func TestComplete(t *testing.T) {
	var req chatRequest
	srv := fakeOpenAI(t, "  https://acme.fr \n", &req)

	out, err := testClient(srv.URL).Complete(context.Background(), "system text", "user text")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.fr", out)

	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 300, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "user text", req.Messages[1].Content)
}

func TestComplete_NoSystemPrompt(t *testing.T) {
	var req chatRequest
	srv := fakeOpenAI(t, "ok", &req)

	_, err := testClient(srv.URL).Complete(context.Background(), "", "only user")
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
}

func TestComplete_NoChoices(t *testing.T) {
	srv := fakeOpenAI(t, "", nil)

	_, err := testClient(srv.URL).Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm completion")
}

func TestComplete_ContextCancelled(t *testing.T) {
	srv := fakeOpenAI(t, "late", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv.URL).Complete(ctx, "s", "u")
	assert.Error(t, err)
}
