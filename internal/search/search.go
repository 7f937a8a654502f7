// Package search answers free-text queries over a gallery, either by
// matching tags locally or by delegating to a semantic backend.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/observability"
)

type Mode string

const (
	ModeInstant Mode = "instant"
	ModeAI      Mode = "ai"
)

// instantMaxTokens is the longest query still tried against tags first.
const instantMaxTokens = 2

var ErrEmptyQuery = errors.New("empty search query")

type ScoredPhoto struct {
	PhotoID uuid.UUID `json:"photo_id"`
	Score   float64   `json:"score"`
}

type Result struct {
	Mode     Mode        `json:"mode"`
	PhotoIDs []uuid.UUID `json:"photo_ids"`
}

// Store lists analyses for tag matching.
type Store interface {
	ListAnalysesByStatus(ctx context.Context, galleryID uuid.UUID, status models.AnalysisStatus) ([]models.PhotoAnalysis, error)
}

// SemanticSearcher ranks a gallery's photos against a natural language query.
type SemanticSearcher interface {
	SemanticSearch(ctx context.Context, galleryID uuid.UUID, query string) ([]ScoredPhoto, error)
}

type Searcher struct {
	store    Store
	semantic SemanticSearcher
}

func NewSearcher(store Store, semantic SemanticSearcher) *Searcher {
	return &Searcher{store: store, semantic: semantic}
}

// Search runs an instant tag match for short queries and falls back to the
// semantic backend when that finds nothing or the query is longer.
func (s *Searcher) Search(ctx context.Context, galleryID uuid.UUID, query string) (*Result, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, ErrEmptyQuery
	}

	if len(tokens) <= instantMaxTokens {
		analyses, err := s.store.ListAnalysesByStatus(ctx, galleryID, models.AnalysisCompleted)
		if err != nil {
			return nil, fmt.Errorf("load analyses: %w", err)
		}
		if ids := MatchTags(analyses, tokens); len(ids) > 0 {
			observability.SearchRequests.WithLabelValues(string(ModeInstant)).Inc()
			return &Result{Mode: ModeInstant, PhotoIDs: ids}, nil
		}
	}

	if s.semantic == nil {
		return nil, errors.New("semantic search is not configured")
	}
	scored, err := s.semantic.SemanticSearch(ctx, galleryID, query)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	observability.SearchRequests.WithLabelValues(string(ModeAI)).Inc()

	ids := make([]uuid.UUID, 0, len(scored))
	for _, p := range scored {
		ids = append(ids, p.PhotoID)
	}
	return &Result{Mode: ModeAI, PhotoIDs: ids}, nil
}

// Tokenize lower-cases the query and splits it on whitespace.
func Tokenize(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// MatchTags returns the photos having a tag that contains any token, in
// analysis order.
func MatchTags(analyses []models.PhotoAnalysis, tokens []string) []uuid.UUID {
	var ids []uuid.UUID
	for _, a := range analyses {
		if tagsMatch(a.SearchTags, tokens) {
			ids = append(ids, a.PhotoID)
		}
	}
	return ids
}

func tagsMatch(tags, tokens []string) bool {
	for _, tag := range tags {
		tag = strings.ToLower(tag)
		for _, tok := range tokens {
			if strings.Contains(tag, tok) {
				return true
			}
		}
	}
	return false
}
