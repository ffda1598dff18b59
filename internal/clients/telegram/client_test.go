package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
)

func newTelegramClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.TelegramConfig{
		BotToken: "test-token",
		ChatID:   "12345",
		BaseURL:  server.URL,
	}, zerolog.Nop())
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	client := newTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	})

	err := client.SendMessage(context.Background(), "digest body", ParseModeMarkdown)
	require.NoError(t, err)

	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "12345", gotBody["chat_id"])
	assert.Equal(t, "digest body", gotBody["text"])
	assert.Equal(t, "Markdown", gotBody["parse_mode"])
	assert.Equal(t, true, gotBody["disable_web_page_preview"])
}

func TestSendMessageTruncatesLongBodies(t *testing.T) {
	var gotText string
	client := newTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotText, _ = body["text"].(string)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	})

	err := client.SendMessage(context.Background(), strings.Repeat("a", 5000), "")
	require.NoError(t, err)

	assert.Len(t, gotText, MaxMessageLength)
	assert.True(t, strings.HasSuffix(gotText, "..."))
}

func TestSendMessageHonorsRetryAfter(t *testing.T) {
	oldWait := retryBaseWait
	retryBaseWait = time.Millisecond
	t.Cleanup(func() { retryBaseWait = oldWait })

	var calls atomic.Int32
	client := newTelegramClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"ok":          false,
				"description": "Too Many Requests",
				"parameters":  map[string]int{"retry_after": 0},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	})

	err := client.SendMessage(context.Background(), "digest", "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSendMessageUnconfigured(t *testing.T) {
	client := NewClient(config.TelegramConfig{}, zerolog.Nop())

	assert.False(t, client.Enabled())
	assert.Error(t, client.SendMessage(context.Background(), "digest", ""))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short passes through", "hello", "hello"},
		{"exactly at limit", strings.Repeat("x", MaxMessageLength), strings.Repeat("x", MaxMessageLength)},
		{"over limit", strings.Repeat("x", MaxMessageLength+1), strings.Repeat("x", MaxMessageLength-3) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in))
		})
	}
}

func TestTruncateMultibyte(t *testing.T) {
	// 4097 three-byte runes; the cut must land on a rune boundary.
	long := strings.Repeat("日", MaxMessageLength+1)
	out := Truncate(long)

	runes := []rune(out)
	assert.Len(t, runes, MaxMessageLength)
	assert.Equal(t, "...", string(runes[MaxMessageLength-3:]))
}
