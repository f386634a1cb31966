package embeddings

import (
	"context"
	"fmt"

	"guildrag/db"
	"guildrag/models"
)

type EmbeddingsService struct {
	embeddingsRepo *db.PostgresEmbeddingsRepository
	expectedDim    int
}

func NewEmbeddingsService(repo *db.PostgresEmbeddingsRepository, expectedDim int) *EmbeddingsService {
	return &EmbeddingsService{embeddingsRepo: repo, expectedDim: expectedDim}
}

// UpsertEmbedding writes the vector for a window, overwriting any previous
// one. The on-conflict upsert makes re-processing a window idempotent.
func (s *EmbeddingsService) UpsertEmbedding(
	ctx context.Context,
	windowID string,
	embedding []float32,
) error {
	if windowID == "" {
		return fmt.Errorf("window_id cannot be empty")
	}
	if s.expectedDim > 0 && len(embedding) != s.expectedDim {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(embedding), s.expectedDim)
	}
	if err := s.embeddingsRepo.UpsertEmbedding(ctx, windowID, embedding); err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *EmbeddingsService) MatchWindowsInGuild(
	ctx context.Context,
	queryEmbedding []float32,
	guildID string,
	limit int,
) ([]*models.WindowMatch, error) {
	if guildID == "" {
		return nil, fmt.Errorf("guild_id cannot be empty")
	}
	matches, err := s.embeddingsRepo.MatchWindowsInGuild(ctx, queryEmbedding, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to match windows: %w", err)
	}
	return matches, nil
}
