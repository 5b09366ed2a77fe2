package llm

import "context"

// Client abstracts a vision-capable LLM provider used by the classifier.
// Implementations must be concurrency-safe; slots are classified in parallel.
type Client interface {
	// AnalyzeImage sends a prompt and one image and returns the raw text
	// answer. No output schema is enforced by the transport, callers parse
	// defensively.
	AnalyzeImage(ctx context.Context, prompt string, imageData []byte, mimeType string) (string, error)
	// SourceName returns a short provider label for logs and metrics (e.g., "Gemini").
	SourceName() string
}
