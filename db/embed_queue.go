package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	dbtx "guildrag/db/tx"
	"guildrag/models"
)

type PostgresEmbedQueueRepository struct {
	db     *sqlx.DB
	schema string
}

// DBEmbedQueueItem represents the database schema for the embed_queue table
type DBEmbedQueueItem struct {
	ID        string    `db:"id"`
	WindowID  string    `db:"window_id"`
	Priority  int       `db:"priority"`
	Status    string    `db:"status"`
	Attempts  int       `db:"attempts"`
	UpdatedAt time.Time `db:"updated_at"`
}

var embedQueueColumns = []string{
	"id",
	"window_id",
	"priority",
	"status",
	"attempts",
	"updated_at",
}

func NewPostgresEmbedQueueRepository(db *sqlx.DB, schema string) *PostgresEmbedQueueRepository {
	return &PostgresEmbedQueueRepository{db: db, schema: schema}
}

func dbEmbedQueueItemToModel(item *DBEmbedQueueItem) *models.EmbedQueueItem {
	return &models.EmbedQueueItem{
		ID:        item.ID,
		WindowID:  item.WindowID,
		Priority:  item.Priority,
		Status:    models.EmbedQueueStatus(item.Status),
		Attempts:  item.Attempts,
		UpdatedAt: item.UpdatedAt,
	}
}

// EnqueueWindows inserts one ready row per window id, ignoring windows that
// are already queued (window_id is unique).
func (r *PostgresEmbedQueueRepository) EnqueueWindows(
	ctx context.Context,
	items []*models.EmbedQueueItem,
) error {
	if len(items) == 0 {
		return nil
	}
	db := dbtx.GetTransactional(ctx, r.db)

	valueRows := make([]string, 0, len(items))
	args := make([]interface{}, 0, len(items)*4)
	for i, item := range items {
		base := i * 4
		valueRows = append(valueRows,
			fmt.Sprintf("($%d, $%d, $%d, $%d, NOW())", base+1, base+2, base+3, base+4))
		args = append(args, item.ID, item.WindowID, item.Priority, string(item.Status))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.embed_queue (id, window_id, priority, status, updated_at)
		VALUES %s
		ON CONFLICT (window_id) DO NOTHING`, r.schema, strings.Join(valueRows, ", "))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to enqueue windows: %w", err)
	}
	return nil
}

// ClaimReadyBatch returns up to limit ready rows ordered by priority (higher
// first) then by least recently touched.
func (r *PostgresEmbedQueueRepository) ClaimReadyBatch(
	ctx context.Context,
	limit int,
) ([]*models.EmbedQueueItem, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(embedQueueColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.embed_queue
		WHERE status = 'ready'
		ORDER BY priority DESC, updated_at ASC
		LIMIT $1`, columnsStr, r.schema)

	var dbItems []DBEmbedQueueItem
	if err := db.SelectContext(ctx, &dbItems, query, limit); err != nil {
		return nil, fmt.Errorf("failed to claim ready batch: %w", err)
	}

	items := make([]*models.EmbedQueueItem, 0, len(dbItems))
	for i := range dbItems {
		items = append(items, dbEmbedQueueItemToModel(&dbItems[i]))
	}
	return items, nil
}

// MarkDone transitions a ready row to done. Rows already done or failed are
// left untouched: terminal states are never exited.
func (r *PostgresEmbedQueueRepository) MarkDone(ctx context.Context, id string) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.embed_queue
		SET status = 'done', updated_at = NOW()
		WHERE id = $1 AND status = 'ready'`, r.schema)

	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark queue item done: %w", err)
	}
	return nil
}

// MarkFailed transitions a ready row to failed (terminal).
func (r *PostgresEmbedQueueRepository) MarkFailed(ctx context.Context, id string) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.embed_queue
		SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'ready'`, r.schema)

	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter on a row that stays ready for a
// later retry, returning the new attempt count.
func (r *PostgresEmbedQueueRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.embed_queue
		SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING attempts`, r.schema)

	var attempts int
	if err := db.QueryRowxContext(ctx, query, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

// CountReadyByWindowIDs counts ready rows whose window_id is in the given
// set. Callers batch the id set (the sync runner uses batches of 500).
func (r *PostgresEmbedQueueRepository) CountReadyByWindowIDs(
	ctx context.Context,
	windowIDs []string,
) (int, error) {
	if len(windowIDs) == 0 {
		return 0, nil
	}
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s.embed_queue
		WHERE status = 'ready' AND window_id = ANY($1)`, r.schema)

	var count int
	if err := db.GetContext(ctx, &count, query, pq.Array(windowIDs)); err != nil {
		return 0, fmt.Errorf("failed to count ready queue items: %w", err)
	}
	return count, nil
}

// CountReadyForGuild counts ready rows for windows belonging to the guild,
// joined via message_windows.
func (r *PostgresEmbedQueueRepository) CountReadyForGuild(
	ctx context.Context,
	guildID string,
) (int, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s.embed_queue eq
		INNER JOIN %s.message_windows mw ON eq.window_id = mw.window_id
		WHERE eq.status = 'ready' AND mw.guild_id = $1`, r.schema, r.schema)

	var count int
	if err := db.GetContext(ctx, &count, query, guildID); err != nil {
		return 0, fmt.Errorf("failed to count ready queue items for guild: %w", err)
	}
	return count, nil
}
