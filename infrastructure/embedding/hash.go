package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// hashBackend is the deterministic in-process fallback for development
// and tests. Vectors are expanded from a SHA-256 seed over the model id
// and text, so the same input always embeds identically and different
// inputs land far apart.
type hashBackend struct {
	modelID string
	dim     int
}

func newHashBackend(modelID string, dim int) *hashBackend {
	if modelID == "" {
		modelID = "hash"
	}
	return &hashBackend{modelID: modelID, dim: dim}
}

func (h *hashBackend) model() string { return "hash:" + h.modelID }

func (h *hashBackend) embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.expand(text)
	}
	return out, nil
}

// expand fills dim floats in [-1, 1) from counter-mode SHA-256 over the
// seed.
func (h *hashBackend) expand(text string) []float32 {
	seed := sha256.Sum256([]byte(h.modelID + "\x00" + text))

	vec := make([]float32, h.dim)
	var block [sha256.Size]byte
	var counter uint32
	filled := 0
	for filled < h.dim {
		var input [sha256.Size + 4]byte
		copy(input[:], seed[:])
		binary.BigEndian.PutUint32(input[sha256.Size:], counter)
		block = sha256.Sum256(input[:])
		counter++

		for off := 0; off+4 <= len(block) && filled < h.dim; off += 4 {
			u := binary.BigEndian.Uint32(block[off : off+4])
			vec[filled] = float32(u)/float32(1<<31) - 1
			filled++
		}
	}
	return vec
}
