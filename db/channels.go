package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	dbtx "guildrag/db/tx"
	"guildrag/models"
)

type PostgresChannelsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBChannel represents the database schema for the channels table
type DBChannel struct {
	ChannelID     string     `db:"channel_id"`
	GuildID       string     `db:"guild_id"`
	CategoryID    *string    `db:"category_id"`
	Name          *string    `db:"name"`
	Type          *string    `db:"type"`
	LastScannedAt *time.Time `db:"last_scanned_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

func NewPostgresChannelsRepository(db *sqlx.DB, schema string) *PostgresChannelsRepository {
	return &PostgresChannelsRepository{db: db, schema: schema}
}

// UpsertChannel registers a channel observed during sync and stamps
// last_scanned_at. Channels are never hard-deleted.
func (r *PostgresChannelsRepository) UpsertChannel(ctx context.Context, channel *models.Channel) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		INSERT INTO %s.channels (channel_id, guild_id, category_id, name, type, last_scanned_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (channel_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			category_id = EXCLUDED.category_id,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			last_scanned_at = NOW()`, r.schema)

	if _, err := db.ExecContext(ctx, query,
		channel.ChannelID, channel.GuildID, channel.CategoryID, channel.Name, channel.Type); err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}
	return nil
}

// UpsertThread registers a thread observed during sync and stamps
// last_scanned_at.
func (r *PostgresChannelsRepository) UpsertThread(ctx context.Context, thread *models.Thread) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		INSERT INTO %s.threads (thread_id, guild_id, channel_id, name, archived, last_scanned_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (thread_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			channel_id = EXCLUDED.channel_id,
			name = EXCLUDED.name,
			archived = EXCLUDED.archived,
			last_scanned_at = NOW()`, r.schema)

	if _, err := db.ExecContext(ctx, query,
		thread.ThreadID, thread.GuildID, thread.ChannelID, thread.Name, thread.Archived); err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}
	return nil
}
