// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// OpenAIProvider calls the chat completions API of OpenAI or any compatible
// endpoint (Groq, Gemini's OpenAI endpoint, OpenRouter).
type OpenAIProvider struct {
	id        string
	client    openai.Client
	model     string
	maxTokens int

	// strictSchema sends json_schema response formats. Compatible endpoints
	// get json_object, which they support more widely.
	strictSchema bool
}

// NewOpenAI builds a provider from cfg. The SDK's own retries are disabled:
// the chain never retries a failed provider.
func NewOpenAI(cfg types.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", cfg.ID)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		id:           cfg.ID,
		client:       openai.NewClient(opts...),
		model:        model,
		maxTokens:    maxTokensOr(cfg.MaxTokens),
		strictSchema: cfg.Kind == types.ProviderOpenAI,
	}, nil
}

func (p *OpenAIProvider) ID() string { return p.id }

// Attempt sends one chat completion request.
func (p *OpenAIProvider) Attempt(ctx context.Context, pr Prompt) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(pr.System),
			openai.UserMessage(pr.User),
		},
		MaxTokens: openai.Int(int64(p.maxTokens)),
	}
	if pr.Format.Kind == FormatJSON {
		if p.strictSchema && pr.Format.Schema != nil {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
					JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   pr.Format.SchemaName,
						Schema: pr.Format.Schema,
						Strict: openai.Bool(true),
					},
				},
			}
		} else {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %s: %v", ErrRateLimited, p.id, err)
		}
		return "", fmt.Errorf("%s chat completion: %w", p.id, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func maxTokensOr(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
