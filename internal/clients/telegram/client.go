// Package telegram delivers digests and bot replies through the Telegram
// Bot API. It is the downstream sink: failures here are reported, never
// propagated into job results as fatal.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
)

// MaxMessageLength is the Bot API limit on one message body.
const MaxMessageLength = 4096

const maxRetries = 3

// retryBaseWait is the backoff unit; tests shrink it.
var retryBaseWait = time.Second

// Parse modes accepted by the Bot API.
const (
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

// Client for the Telegram Bot API.
type Client struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a Telegram client. Check config.TelegramConfig.Enabled
// before sending; an unconfigured client refuses with an error.
func NewClient(cfg config.TelegramConfig, log zerolog.Logger) *Client {
	return &Client{
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "telegram").Logger(),
	}
}

// Enabled reports whether the client has credentials to send.
func (c *Client) Enabled() bool {
	return c.token != "" && c.chatID != ""
}

// SendMessage delivers text to the configured digest chat.
func (c *Client) SendMessage(ctx context.Context, text, parseMode string) error {
	return c.SendMessageTo(ctx, c.chatID, text, parseMode)
}

// SendMessageTo delivers text to an explicit chat. Bodies over the API limit
// are truncated with an ellipsis marker rather than rejected.
func (c *Client) SendMessageTo(ctx context.Context, chatID, text, parseMode string) error {
	if c.token == "" || chatID == "" {
		return fmt.Errorf("telegram client not configured")
	}

	text = Truncate(text)

	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		retryAfter, err := c.send(ctx, body)
		if err == nil {
			c.log.Debug().
				Str("chat_id", chatID).
				Int("length", len(text)).
				Msg("Message sent")
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < maxRetries-1 {
			waitTime := time.Duration(1<<uint(attempt)) * retryBaseWait
			if retryAfter > 0 {
				waitTime = retryAfter
			}
			c.log.Warn().Err(err).
				Int("attempt", attempt+1).
				Dur("wait", waitTime).
				Msg("Send failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// send performs one sendMessage call. A positive retryAfter carries the
// API's own throttle hint.
func (c *Client) send(ctx context.Context, body []byte) (retryAfter time.Duration, err error) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.OK {
		retryAfter := time.Duration(result.Parameters.RetryAfter) * time.Second
		return retryAfter, fmt.Errorf("API refused: %s (status %d)", result.Description, resp.StatusCode)
	}

	return 0, nil
}

// Truncate trims a body to the API limit, marking the cut with an ellipsis.
// Operates on runes so a multi-byte character is never split.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxMessageLength {
		return text
	}
	return string(runes[:MaxMessageLength-3]) + "..."
}
