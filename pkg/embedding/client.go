// Package embedding provides OpenAI-compatible embedding client
// functionality. Vectors are unit-normalized so cosine similarity equals
// dot product.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/retry"
)

// Embedder turns texts into unit-normalized vectors. Deterministic for
// identical input and model version.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// Config holds configuration for creating an embedding client.
type Config struct {
	Endpoint string // Base URL, e.g., "https://api.openai.com/v1"
	Model    string // Model name, e.g., "text-embedding-3-small"
	APIKey   string // Optional for local endpoints
}

var _ Embedder = (*Client)(nil)

// NewClient creates a new embedding client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("embedding"),
	}, nil
}

// Embed generates one unit-normalized vector per input text.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	start := time.Now()

	// Rate limits and transient endpoint failures are retried; auth and
	// request errors are not.
	var resp openai.EmbeddingResponse
	err := retry.DoIfRetryable(ctx, nil, func() error {
		var err error
		resp, err = c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.model),
			Input: inputs,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = Normalize(d.Embedding)
	}

	c.logger.Debug("Embedded inputs",
		zap.Int("count", len(inputs)),
		zap.Duration("elapsed", time.Since(start)))

	return embeddings, nil
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string {
	return c.model
}

// Normalize scales vec to unit length. Zero vectors are returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
