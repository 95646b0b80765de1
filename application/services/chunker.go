package services

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// ChunkOptions are the runtime-tunable chunking knobs.
type ChunkOptions struct {
	Size    int
	Overlap int
}

// Chunker splits document text into overlapping retrieval chunks.
// Options are re-read per call so CONFIG_FILE overrides apply to the
// next document.
type Chunker struct {
	opts func() ChunkOptions
}

// NewChunker wires the splitter.
func NewChunker(opts func() ChunkOptions) *Chunker {
	return &Chunker{opts: opts}
}

// Split breaks text into chunks honoring the configured size and
// overlap. Blank text yields no chunks; text shorter than one chunk
// comes back whole.
func (c *Chunker) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	o := c.opts()
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(o.Size),
		textsplitter.WithChunkOverlap(o.Overlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrorTypeInternal, "split text")
	}
	return chunks, nil
}
