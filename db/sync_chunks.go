package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	dbtx "guildrag/db/tx"
	"guildrag/models"
)

type PostgresSyncChunksRepository struct {
	db     *sqlx.DB
	schema string
}

func NewPostgresSyncChunksRepository(db *sqlx.DB, schema string) *PostgresSyncChunksRepository {
	return &PostgresSyncChunksRepository{db: db, schema: schema}
}

// RecordChunk writes the outcome of fetching one container for an operation.
func (r *PostgresSyncChunksRepository) RecordChunk(ctx context.Context, chunk *models.SyncChunk) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		INSERT INTO %s.sync_chunks (id, op_id, target_id, date, cursor, status, attempts, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`, r.schema)

	if _, err := db.ExecContext(ctx, query,
		chunk.ID, chunk.OpID, chunk.TargetID, chunk.Date, chunk.Cursor,
		string(chunk.Status), chunk.Attempts, chunk.LastError); err != nil {
		return fmt.Errorf("failed to record sync chunk: %w", err)
	}
	return nil
}
