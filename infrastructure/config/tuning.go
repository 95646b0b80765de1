package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the subset of configuration that may change at runtime via
// the CONFIG_FILE overrides. Values not present in the file keep their
// environment-derived defaults.
type Tuning struct {
	Retrieval RetrievalTuning `yaml:"retrieval"`
	Chunking  ChunkingTuning  `yaml:"chunking"`
	Scheduler SchedulerTuning `yaml:"scheduler"`
}

// RetrievalTuning mirrors the hot-reloadable retrieval knobs.
type RetrievalTuning struct {
	HybridRRFEnabled         bool    `yaml:"hybrid_rrf_enabled"`
	RerankerEnabled          bool    `yaml:"reranker_enabled"`
	RerankTopN               int     `yaml:"rerank_top_n"`
	DecayLambda              float64 `yaml:"decay_lambda"`
	DriftBeta                float64 `yaml:"drift_beta"`
	ExtremelyLowSimThreshold float64 `yaml:"extremely_low_sim_threshold"`
}

// ChunkingTuning mirrors the hot-reloadable chunking knobs.
type ChunkingTuning struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// SchedulerTuning mirrors the hot-reloadable scheduler knobs.
type SchedulerTuning struct {
	TickSeconds int `yaml:"tick_seconds"`
	BatchSize   int `yaml:"batch_size"`
}

// TuningFromConfig seeds runtime tuning from the environment config.
func TuningFromConfig(c *Config) Tuning {
	return Tuning{
		Retrieval: RetrievalTuning{
			HybridRRFEnabled:         c.Retrieval.HybridRRFEnabled,
			RerankerEnabled:          c.Retrieval.RerankerEnabled,
			RerankTopN:               c.Retrieval.RerankTopN,
			DecayLambda:              c.Retrieval.DecayLambda,
			DriftBeta:                c.Retrieval.DriftBeta,
			ExtremelyLowSimThreshold: c.Retrieval.ExtremelyLowSimThreshold,
		},
		Chunking: ChunkingTuning{
			Size:    c.Chunking.Size,
			Overlap: c.Chunking.Overlap,
		},
		Scheduler: SchedulerTuning{
			TickSeconds: int(c.Scheduler.Tick.Seconds()),
			BatchSize:   c.Scheduler.BatchSize,
		},
	}
}

// Validate rejects tuning values that would break the pipeline.
func (t Tuning) Validate() error {
	if t.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive")
	}
	if t.Chunking.Overlap < 0 || t.Chunking.Overlap >= t.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size)")
	}
	if t.Retrieval.RerankTopN <= 0 {
		return fmt.Errorf("retrieval.rerank_top_n must be positive")
	}
	if t.Retrieval.DecayLambda < 0 || t.Retrieval.DriftBeta < 0 {
		return fmt.Errorf("retrieval decay factors cannot be negative")
	}
	if t.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be positive")
	}
	if t.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	return nil
}

// loadTuningFile reads path and overlays it on base. Keys absent from
// the file keep their base values, so partial override files are fine.
func loadTuningFile(path string, base Tuning) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning file: %w", err)
	}
	merged := base
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return Tuning{}, fmt.Errorf("parse tuning file: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return Tuning{}, err
	}
	return merged, nil
}

// TuningSource provides the current tuning values. The watcher swaps
// them on file change; the static source returns a fixed snapshot.
type TuningSource interface {
	Current() Tuning
}

// StaticTuning is a TuningSource with fixed values, used when no
// CONFIG_FILE is configured.
type StaticTuning struct {
	tuning Tuning
}

// NewStaticTuning wraps fixed tuning values.
func NewStaticTuning(t Tuning) *StaticTuning {
	return &StaticTuning{tuning: t}
}

// Current returns the fixed tuning snapshot.
func (s *StaticTuning) Current() Tuning {
	return s.tuning
}
