package embedding

import (
	"context"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

type ollamaBackend struct {
	llm     *ollama.LLM
	modelID string
}

func newOllamaBackend(cfg config.EmbeddingConfig) (*ollamaBackend, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.OllamaURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, pkgerrors.NewConfigError("init ollama embedding backend").WithCause(err)
	}
	return &ollamaBackend{llm: llm, modelID: cfg.Model}, nil
}

func (b *ollamaBackend) model() string { return "ollama:" + b.modelID }

func (b *ollamaBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := b.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, pkgerrors.NewDependencyError("ollama", err)
	}
	return vecs, nil
}
