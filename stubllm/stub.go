package stubllm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
)

// Client is a deterministic, no-network LLM stub intended for CI and local end-to-end tests.
// It returns schema-valid JSON so the classifier and sinks exercise the full pipeline.
type Client struct{}

func NewClient() *Client { return &Client{} }

func (c *Client) SourceName() string { return "Stub" }

var stubLabels = []struct{ brand, product string }{
	{"Nike", "Running Shoes"},
	{"Coca-Cola", "Coke Zero"},
	{"Samsung", "Galaxy Phone"},
	{"Not an Ad", "Not an Ad"},
}

func (c *Client) AnalyzeImage(ctx context.Context, prompt string, imageData []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Make output deterministic per-input so the pipeline is stable in CI.
	sum := sha256.Sum256(imageData)
	label := stubLabels[binary.BigEndian.Uint64(sum[:8])%uint64(len(stubLabels))]

	b, err := json.Marshal(map[string]string{
		"brand":   label.brand,
		"product": label.product,
	})
	if err != nil {
		return "", err
	}
	// Wrap it the way real models often do.
	return "```json\n" + string(b) + "\n```", nil
}
