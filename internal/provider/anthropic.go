// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// jsonInstruction is appended to the system prompt when JSON is requested;
// the messages API has no response format parameter.
const jsonInstruction = "\n\nRespond with a single JSON object only. Do not wrap it in Markdown."

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	id        string
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic builds a provider from cfg with SDK retries disabled.
func NewAnthropic(cfg types.ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", cfg.ID)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}
	return &AnthropicProvider{
		id:        cfg.ID,
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokensOr(cfg.MaxTokens),
	}, nil
}

func (p *AnthropicProvider) ID() string { return p.id }

// Attempt sends one messages request and concatenates the text blocks.
func (p *AnthropicProvider) Attempt(ctx context.Context, pr Prompt) (string, error) {
	system := pr.System
	if pr.Format.Kind == FormatJSON {
		system += jsonInstruction
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(pr.User)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %s: %v", ErrRateLimited, p.id, err)
		}
		return "", fmt.Errorf("%s messages: %w", p.id, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
