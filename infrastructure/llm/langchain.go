package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// langchainChat adapts a langchaingo model to the backend contract.
// Ollama and OpenAI share it; only construction differs.
type langchainChat struct {
	llm     llms.Model
	name    string
	modelID string
}

func newOllamaChat(cfg config.LLMConfig) (*langchainChat, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.OllamaURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, pkgerrors.NewConfigError("init ollama llm backend").WithCause(err)
	}
	return &langchainChat{llm: llm, name: "ollama", modelID: cfg.Model}, nil
}

func newOpenAIChat(cfg config.LLMConfig) (*langchainChat, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, pkgerrors.NewConfigError("OPENAI_API_KEY is required for the openai llm backend")
	}
	llm, err := openai.New(
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, pkgerrors.NewConfigError("init openai llm backend").WithCause(err)
	}
	return &langchainChat{llm: llm, name: "openai", modelID: cfg.Model}, nil
}

func (c *langchainChat) model() string { return c.name + ":" + c.modelID }

func (c *langchainChat) stream(ctx context.Context, prompt string, onToken func(string) error) error {
	_, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithMaxTokens(defaultMaxTokens),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onToken(string(chunk))
		}),
	)
	return err
}
