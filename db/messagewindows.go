package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/mo"

	dbtx "guildrag/db/tx"
	"guildrag/models"
)

type PostgresWindowsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBMessageWindow represents the database schema for the message_windows table
type DBMessageWindow struct {
	WindowID   string         `db:"window_id"`
	GuildID    string         `db:"guild_id"`
	CategoryID *string        `db:"category_id"`
	ChannelID  string         `db:"channel_id"`
	ThreadID   *string        `db:"thread_id"`
	Date       time.Time      `db:"date"`
	WindowSeq  int            `db:"window_seq"`
	MessageIDs pq.StringArray `db:"message_ids"`
	StartAt    time.Time      `db:"start_at"`
	EndAt      time.Time      `db:"end_at"`
	TokenEst   *int           `db:"token_est"`
	Text       *string        `db:"text"`
}

var windowsColumns = []string{
	"window_id",
	"guild_id",
	"category_id",
	"channel_id",
	"thread_id",
	"date",
	"window_seq",
	"message_ids",
	"start_at",
	"end_at",
	"token_est",
	"text",
}

func NewPostgresWindowsRepository(db *sqlx.DB, schema string) *PostgresWindowsRepository {
	return &PostgresWindowsRepository{db: db, schema: schema}
}

func dbWindowToModel(dbWin *DBMessageWindow) *models.MessageWindow {
	return &models.MessageWindow{
		WindowID:   dbWin.WindowID,
		GuildID:    dbWin.GuildID,
		CategoryID: dbWin.CategoryID,
		ChannelID:  dbWin.ChannelID,
		ThreadID:   dbWin.ThreadID,
		Date:       dbWin.Date.Format("2006-01-02"),
		WindowSeq:  dbWin.WindowSeq,
		MessageIDs: dbWin.MessageIDs,
		StartAt:    dbWin.StartAt,
		EndAt:      dbWin.EndAt,
		TokenEst:   dbWin.TokenEst,
		Text:       dbWin.Text,
	}
}

// UpsertWindow inserts a window or overwrites the existing row for the same
// (channel_id, date, window_seq), which makes re-chunking idempotent. The
// window_id of the stored row is returned (the original id survives a
// conflict).
func (r *PostgresWindowsRepository) UpsertWindow(
	ctx context.Context,
	window *models.MessageWindow,
) (string, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(windowsColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.message_windows (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (channel_id, date, window_seq) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			category_id = EXCLUDED.category_id,
			thread_id = EXCLUDED.thread_id,
			message_ids = EXCLUDED.message_ids,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			token_est = EXCLUDED.token_est,
			text = EXCLUDED.text
		RETURNING window_id`, r.schema, columnsStr)

	var windowID string
	err := db.QueryRowxContext(ctx, query,
		window.WindowID, window.GuildID, window.CategoryID, window.ChannelID,
		window.ThreadID, window.Date, window.WindowSeq,
		pq.Array(window.MessageIDs), window.StartAt, window.EndAt,
		window.TokenEst, window.Text).Scan(&windowID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert window: %w", err)
	}
	return windowID, nil
}

func (r *PostgresWindowsRepository) GetWindowByID(
	ctx context.Context,
	windowID string,
) (mo.Option[*models.MessageWindow], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(windowsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.message_windows
		WHERE window_id = $1`, columnsStr, r.schema)

	var dbWin DBMessageWindow
	err := db.GetContext(ctx, &dbWin, query, windowID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.MessageWindow](), nil
		}
		return mo.None[*models.MessageWindow](), fmt.Errorf("failed to get window: %w", err)
	}
	return mo.Some(dbWindowToModel(&dbWin)), nil
}

// GetWindowsByIDs returns windows for the given ids in database order. The
// caller reconstructs any external ordering (e.g. vector-RPC order).
func (r *PostgresWindowsRepository) GetWindowsByIDs(
	ctx context.Context,
	windowIDs []string,
) ([]*models.MessageWindow, error) {
	if len(windowIDs) == 0 {
		return nil, nil
	}
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(windowsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.message_windows
		WHERE window_id = ANY($1)`, columnsStr, r.schema)

	var dbWindows []DBMessageWindow
	err := db.SelectContext(ctx, &dbWindows, query, pq.Array(windowIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get windows by ids: %w", err)
	}

	windows := make([]*models.MessageWindow, 0, len(dbWindows))
	for i := range dbWindows {
		windows = append(windows, dbWindowToModel(&dbWindows[i]))
	}
	return windows, nil
}
