package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

type anthropicChat struct {
	client  anthropic.Client
	modelID string
}

func newAnthropicChat(cfg config.LLMConfig) (*anthropicChat, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, pkgerrors.NewConfigError("ANTHROPIC_API_KEY is required for the anthropic llm backend")
	}
	return &anthropicChat{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		modelID: cfg.Model,
	}, nil
}

func (c *anthropicChat) model() string { return "anthropic:" + c.modelID }

func (c *anthropicChat) stream(ctx context.Context, prompt string, onToken func(string) error) error {
	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelID),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text == "" {
					continue
				}
				if err := onToken(deltaVariant.Text); err != nil {
					return err
				}
			}
		}
	}
	return stream.Err()
}
