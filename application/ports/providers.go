package ports

import "context"

// Encoder turns text into normalized embedding vectors. Encodings are
// deterministic for a given model and version, so drift measures
// content change rather than backend jitter.
type Encoder interface {
	// Encode embeds texts in order. Every returned vector is
	// L2-normalized and Dimension() wide.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// EncodeOne embeds a single text.
	EncodeOne(ctx context.Context, text string) ([]float32, error)
	// Dimension is the width of the vectors this encoder produces.
	Dimension() int
	// Model identifies the backing model for audit payloads.
	Model() string
}

// ChatStreamer generates an answer incrementally. onToken receives
// each token as the backend produces it; returning an error aborts
// the stream.
type ChatStreamer interface {
	Stream(ctx context.Context, prompt string, onToken func(token string) error) error
	// Model identifies the backing model.
	Model() string
}

// Reranker cross-encodes the top retrieval candidates against the
// query and returns one relevance score per document, in input order.
// Retrieval treats a nil or failing reranker as unavailable and keeps
// the base ranking.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
}
