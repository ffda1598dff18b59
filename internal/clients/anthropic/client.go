// Package anthropic wraps the Anthropic messages API for sentiment analysis.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

const (
	requestTimeout = 30 * time.Second

	// Low but non-zero: analyses should be stable run to run while still
	// committing to a direction instead of hedging every answer.
	completionTemperature = 0.3
)

// Client is a thin wrapper over the Anthropic SDK. One Complete call maps to
// one paid API call; budget gating happens in the caller, never here.
type Client struct {
	api       sdk.Client
	model     string
	maxTokens int
	log       zerolog.Logger
}

// NewClient creates an Anthropic client from config.
func NewClient(cfg config.AnthropicConfig, log zerolog.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &Client{
		api:       sdk.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		log:       log.With().Str("client", "anthropic").Logger(),
	}
}

// Complete sends one system+user exchange and returns the response text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", domain.NewValidationError("prompt", "must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(c.maxTokens),
		Temperature: sdk.Float(completionTemperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("message request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == sdk.ContentBlockTypeText {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("response contained no text blocks")
	}

	c.log.Debug().
		Str("model", c.model).
		Int("prompt_len", len(user)).
		Int("response_len", text.Len()).
		Dur("duration", time.Since(start)).
		Msg("Completion finished")

	return text.String(), nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}
