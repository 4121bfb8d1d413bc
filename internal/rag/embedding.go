package rag

import (
	"context"
	"fmt"

	"github.com/mscottkey/fable-engine/internal/llm"
)

// EmbeddingService turns text into vectors for memory storage and recall.
type EmbeddingService struct {
	client llm.EmbeddingClient
}

func NewEmbeddingService(client llm.EmbeddingClient) *EmbeddingService {
	return &EmbeddingService{client: client}
}

// Embed returns the vector for a single text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding returned no vectors")
	}
	return vectors[0], nil
}
