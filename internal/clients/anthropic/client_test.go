package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func messagesResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"id":    "msg_test",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-3-5-haiku-latest",
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
		"usage":       map[string]int{"input_tokens": 10, "output_tokens": 20},
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(config.AnthropicConfig{APIKey: "test-key"}, zerolog.Nop())

	assert.Equal(t, "claude-3-5-haiku-latest", client.Model())
	assert.Equal(t, 1024, client.maxTokens)
}

func TestCompleteReturnsText(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]interface{}

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messagesResponse("Direction: bullish\nScore: 0.6"))
	})

	client := NewClient(config.AnthropicConfig{
		APIKey:    "test-key",
		Model:     "claude-3-5-haiku-latest",
		MaxTokens: 256,
		BaseURL:   server.URL,
	}, zerolog.Nop())

	text, err := client.Complete(context.Background(), "You are an analyst.", "Analyze NVDA earnings.")
	require.NoError(t, err)

	assert.Equal(t, "Direction: bullish\nScore: 0.6", text)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "claude-3-5-haiku-latest", gotBody["model"])
	assert.EqualValues(t, 256, gotBody["max_tokens"])
}

func TestCompleteEmptyPromptRejected(t *testing.T) {
	client := NewClient(config.AnthropicConfig{APIKey: "test-key"}, zerolog.Nop())

	_, err := client.Complete(context.Background(), "system", "   ")
	assert.Error(t, err)
}

func TestCompleteNoTextBlocks(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := messagesResponse("ignored")
		resp["content"] = []map[string]interface{}{}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	client := NewClient(config.AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, zerolog.Nop())

	_, err := client.Complete(context.Background(), "", "Analyze MSFT earnings.")
	assert.ErrorContains(t, err, "no text blocks")
}
