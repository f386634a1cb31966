package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	dbtx "guildrag/db/tx"
	"guildrag/models"
)

type PostgresEmbeddingsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBWindowMatch represents one row returned by the match_windows_in_guild RPC
type DBWindowMatch struct {
	WindowID   string  `db:"window_id"`
	Similarity float64 `db:"similarity"`
}

func NewPostgresEmbeddingsRepository(db *sqlx.DB, schema string) *PostgresEmbeddingsRepository {
	return &PostgresEmbeddingsRepository{db: db, schema: schema}
}

// UpsertEmbedding writes the vector for a window, overwriting any previous
// one. The window_id unique constraint keeps at most one row per window.
func (r *PostgresEmbeddingsRepository) UpsertEmbedding(
	ctx context.Context,
	windowID string,
	embedding []float32,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		INSERT INTO %s.message_embeddings (window_id, embedding, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (window_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_at = NOW()`, r.schema)

	if _, err := db.ExecContext(ctx, query, windowID, pgvector.NewHalfVector(embedding)); err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

// MatchWindowsInGuild invokes the match_windows_in_guild RPC: nearest windows
// for the query embedding within one guild, ordered by ascending cosine
// distance. similarity = 1 - cosine_distance.
func (r *PostgresEmbeddingsRepository) MatchWindowsInGuild(
	ctx context.Context,
	queryEmbedding []float32,
	guildID string,
	limit int,
) ([]*models.WindowMatch, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		SELECT window_id, similarity
		FROM %s.match_windows_in_guild($1, $2, $3)`, r.schema)

	var dbMatches []DBWindowMatch
	err := db.SelectContext(ctx, &dbMatches, query, pgvector.NewHalfVector(queryEmbedding), guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to match windows in guild: %w", err)
	}

	matches := make([]*models.WindowMatch, 0, len(dbMatches))
	for _, m := range dbMatches {
		matches = append(matches, &models.WindowMatch{WindowID: m.WindowID, Similarity: m.Similarity})
	}
	return matches, nil
}
