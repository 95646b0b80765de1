package embedding

import (
	"context"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

type openAIBackend struct {
	llm     *openai.LLM
	modelID string
}

func newOpenAIBackend(cfg config.EmbeddingConfig) (*openAIBackend, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, pkgerrors.NewConfigError("OPENAI_API_KEY is required for the openai embedding backend")
	}
	llm, err := openai.New(
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, pkgerrors.NewConfigError("init openai embedding backend").WithCause(err)
	}
	return &openAIBackend{llm: llm, modelID: cfg.Model}, nil
}

func (b *openAIBackend) model() string { return "openai:" + b.modelID }

func (b *openAIBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := b.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, pkgerrors.NewDependencyError("openai", err)
	}
	return vecs, nil
}
