// Package llm streams answer tokens from the configured chat backend.
// The same breaker-wrapped pipeline fronts every backend so a flapping
// provider degrades to fast DependencyErrors instead of hung requests.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// Backend names accepted by LLM_BACKEND.
const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// defaultMaxTokens caps a single generated answer.
const defaultMaxTokens = 1024

// chatBackend is one token-streaming provider.
type chatBackend interface {
	stream(ctx context.Context, prompt string, onToken func(string) error) error
	model() string
}

// Streamer is the backend-agnostic chat pipeline.
type Streamer struct {
	backend chatBackend
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ ports.ChatStreamer = (*Streamer)(nil)

// NewStreamer builds the pipeline for the configured backend.
func NewStreamer(cfg config.LLMConfig, logger *zap.Logger) (*Streamer, error) {
	var (
		b   chatBackend
		err error
	)
	switch cfg.Backend {
	case BackendOllama, "":
		b, err = newOllamaChat(cfg)
	case BackendOpenAI:
		b, err = newOpenAIChat(cfg)
	case BackendAnthropic:
		b, err = newAnthropicChat(cfg)
	default:
		return nil, pkgerrors.NewConfigError(fmt.Sprintf("unknown llm backend %q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}

	logger.Info("llm backend ready", zap.String("backend", b.model()))
	return &Streamer{
		backend: b,
		breaker: newBreaker("llm", logger),
		logger:  logger,
	}, nil
}

// Stream generates an answer for prompt, delivering tokens to onToken
// as they arrive.
func (s *Streamer) Stream(ctx context.Context, prompt string, onToken func(string) error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.backend.stream(ctx, prompt, onToken)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewDependencyError("llm backend", err)
	}
	var app *pkgerrors.AppError
	if errors.As(err, &app) {
		return app
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return pkgerrors.NewDependencyError("llm backend", err)
}

// Model identifies the backing model.
func (s *Streamer) Model() string { return s.backend.model() }

// newBreaker mirrors the embedding breaker: trip at an 80% failure
// ratio once five requests have been seen, probe again after a minute.
func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up mid-stream is not a backend failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}
