// Package embedding defines the dense embedding provider boundary of the
// resonance engine and ships HTTP-backed providers for OpenAI-compatible and
// Ollama endpoints. A provider turns text into a fixed-length float32 vector;
// everything downstream (projection, bundling, matching) is pure arithmetic.
package embedding

import "context"

// Provider generates dense embeddings for text.
//
// Implementations must be deterministic for identical text and model version,
// must honor ctx cancellation, and must never return a partially-filled
// vector: on any failure the error is returned and the result discarded.
type Provider interface {
	// Encode embeds a single text.
	Encode(ctx context.Context, text string) ([]float32, error)

	// BatchEncode embeds each text independently and returns the vectors in
	// input order. Texts are never concatenated or pooled together.
	BatchEncode(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the native dimensionality of produced vectors.
	Dimensions() int

	// Model returns the model identifier, for logging and index bookkeeping.
	Model() string
}
