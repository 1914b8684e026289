package embedding

import (
	"context"
)

// MockEmbedder is a configurable mock for testing embedding consumers.
// Set the function field to control behavior in tests.
type MockEmbedder struct {
	// EmbedFunc is called when Embed is invoked. If nil, each input maps to
	// a fixed unit vector.
	EmbedFunc func(ctx context.Context, inputs []string) ([][]float32, error)

	// EmbedCalls counts invocations for verification.
	EmbedCalls int
}

var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a new mock with sensible defaults.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

// Embed implements Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	m.EmbedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, inputs)
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
