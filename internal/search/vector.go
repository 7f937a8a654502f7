package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Embedder turns text into a description embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type DescriptionStore interface {
	SearchDescriptions(ctx context.Context, galleryID uuid.UUID, embedding []float32, minScore float64, limit int) ([]ScoredPhoto, error)
}

// VectorSearcher is the semantic backend: it embeds the query and ranks
// photos by description embedding similarity.
type VectorSearcher struct {
	embedder Embedder
	store    DescriptionStore
	minScore float64
	limit    int
}

func NewVectorSearcher(embedder Embedder, store DescriptionStore, minScore float64, limit int) *VectorSearcher {
	return &VectorSearcher{embedder: embedder, store: store, minScore: minScore, limit: limit}
}

func (v *VectorSearcher) SemanticSearch(ctx context.Context, galleryID uuid.UUID, query string) ([]ScoredPhoto, error) {
	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return v.store.SearchDescriptions(ctx, galleryID, vec, v.minScore, v.limit)
}

type EmbeddingStore interface {
	SetDescriptionEmbedding(ctx context.Context, photoID uuid.UUID, embedding []float32) error
}

// DescriptionIndexer stores the embedding of a completed photo's description
// and tags so VectorSearcher can find it.
type DescriptionIndexer struct {
	embedder Embedder
	store    EmbeddingStore
}

func NewDescriptionIndexer(embedder Embedder, store EmbeddingStore) *DescriptionIndexer {
	return &DescriptionIndexer{embedder: embedder, store: store}
}

func (d *DescriptionIndexer) IndexDescription(ctx context.Context, photoID uuid.UUID, description string, tags []string) error {
	text := DescriptionText(description, tags)
	if text == "" {
		return nil
	}
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed description: %w", err)
	}
	return d.store.SetDescriptionEmbedding(ctx, photoID, vec)
}

// DescriptionText is the text embedded for a photo.
func DescriptionText(description string, tags []string) string {
	description = strings.TrimSpace(description)
	if len(tags) == 0 {
		return description
	}
	joined := strings.Join(tags, ", ")
	if description == "" {
		return "Tags: " + joined
	}
	return description + "\nTags: " + joined
}
