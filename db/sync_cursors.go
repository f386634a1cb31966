package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"

	dbtx "guildrag/db/tx"
	"guildrag/models"
)

type PostgresSyncCursorsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBSyncCursor represents the database schema for the sync_cursors table
type DBSyncCursor struct {
	GuildID       string     `db:"guild_id"`
	LastMessageID *string    `db:"last_message_id"`
	LastSyncedAt  *time.Time `db:"last_synced_at"`
}

func NewPostgresSyncCursorsRepository(db *sqlx.DB, schema string) *PostgresSyncCursorsRepository {
	return &PostgresSyncCursorsRepository{db: db, schema: schema}
}

func (r *PostgresSyncCursorsRepository) GetCursorByGuildID(
	ctx context.Context,
	guildID string,
) (mo.Option[*models.SyncCursor], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		SELECT guild_id, last_message_id, last_synced_at
		FROM %s.sync_cursors
		WHERE guild_id = $1`, r.schema)

	var dbCursor DBSyncCursor
	err := db.GetContext(ctx, &dbCursor, query, guildID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.SyncCursor](), nil
		}
		return mo.None[*models.SyncCursor](), fmt.Errorf("failed to get sync cursor: %w", err)
	}

	return mo.Some(&models.SyncCursor{
		GuildID:       dbCursor.GuildID,
		LastMessageID: dbCursor.LastMessageID,
		LastSyncedAt:  dbCursor.LastSyncedAt,
	}), nil
}

func (r *PostgresSyncCursorsRepository) UpsertCursor(
	ctx context.Context,
	cursor *models.SyncCursor,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		INSERT INTO %s.sync_cursors (guild_id, last_message_id, last_synced_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (guild_id) DO UPDATE SET
			last_message_id = EXCLUDED.last_message_id,
			last_synced_at = EXCLUDED.last_synced_at`, r.schema)

	if _, err := db.ExecContext(ctx, query, cursor.GuildID, cursor.LastMessageID, cursor.LastSyncedAt); err != nil {
		return fmt.Errorf("failed to upsert sync cursor: %w", err)
	}
	return nil
}
