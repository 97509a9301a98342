package adapters

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicSummarize calls Claude to condense text into a short narrative.
type anthropicSummarize struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicSummarize builds a Summarize adapter backed by the Anthropic
// Messages API.
func NewAnthropicSummarize(cfg Config) Summarize {
	return &anthropicSummarize{
		client: anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:  anthropic.ModelClaude3_5SonnetLatest,
	}
}

func (s *anthropicSummarize) Summarize(ctx context.Context, text string) (string, error) {
	message, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Summarize the following in 2-3 sentences:\n\n" + text)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic summarize: %w", err)
	}
	if len(message.Content) == 0 {
		return "", fmt.Errorf("anthropic returned no content blocks")
	}
	return message.Content[0].Text, nil
}
