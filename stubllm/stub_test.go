package stubllm

import (
	"context"
	"testing"

	"adscan-pipeline/parser"
)

func TestAnalyzeImageIsDeterministic(t *testing.T) {
	c := NewClient()
	img := []byte("same capture")

	first, err := c.AnalyzeImage(context.Background(), "p", img, "image/png")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	second, err := c.AnalyzeImage(context.Background(), "p", img, "image/png")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if first != second {
		t.Errorf("stub output differs for the same input: %q vs %q", first, second)
	}

	label, err := parser.ParseAdLabel(first)
	if err != nil {
		t.Fatalf("stub output does not parse: %v", err)
	}
	if label.Brand == "" || label.Product == "" {
		t.Errorf("stub label has empty fields: %+v", label)
	}
}

func TestAnalyzeImageCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewClient().AnalyzeImage(ctx, "p", nil, "image/png"); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}
