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

type PostgresMessagesRepository struct {
	db     *sqlx.DB
	schema string
}

// DBMessage represents the database schema for the messages table
type DBMessage struct {
	MessageID      string         `db:"message_id"`
	GuildID        string         `db:"guild_id"`
	CategoryID     *string        `db:"category_id"`
	ChannelID      string         `db:"channel_id"`
	ThreadID       *string        `db:"thread_id"`
	AuthorID       *string        `db:"author_id"`
	ContentMD      *string        `db:"content_md"`
	ContentPlain   *string        `db:"content_plain"`
	CreatedAt      *time.Time     `db:"created_at"`
	EditedAt       *time.Time     `db:"edited_at"`
	DeletedAt      *time.Time     `db:"deleted_at"`
	Mentions       pq.StringArray `db:"mentions"`
	Attachments    pq.StringArray `db:"attachments"`
	JumpLink       *string        `db:"jump_link"`
	TokenCount     *int           `db:"token_count"`
	AllowedRoleIDs pq.StringArray `db:"allowed_role_ids"`
	AllowedUserIDs pq.StringArray `db:"allowed_user_ids"`
}

// Column names for messages table
var messagesColumns = []string{
	"message_id",
	"guild_id",
	"category_id",
	"channel_id",
	"thread_id",
	"author_id",
	"content_md",
	"content_plain",
	"created_at",
	"edited_at",
	"deleted_at",
	"mentions",
	"attachments",
	"jump_link",
	"token_count",
	"allowed_role_ids",
	"allowed_user_ids",
}

func NewPostgresMessagesRepository(db *sqlx.DB, schema string) *PostgresMessagesRepository {
	return &PostgresMessagesRepository{db: db, schema: schema}
}

func dbMessageToModel(dbMsg *DBMessage) *models.Message {
	return &models.Message{
		MessageID:      dbMsg.MessageID,
		GuildID:        dbMsg.GuildID,
		CategoryID:     dbMsg.CategoryID,
		ChannelID:      dbMsg.ChannelID,
		ThreadID:       dbMsg.ThreadID,
		AuthorID:       dbMsg.AuthorID,
		ContentMD:      dbMsg.ContentMD,
		ContentPlain:   dbMsg.ContentPlain,
		CreatedAt:      dbMsg.CreatedAt,
		EditedAt:       dbMsg.EditedAt,
		DeletedAt:      dbMsg.DeletedAt,
		Mentions:       dbMsg.Mentions,
		Attachments:    dbMsg.Attachments,
		JumpLink:       dbMsg.JumpLink,
		TokenCount:     dbMsg.TokenCount,
		AllowedRoleIDs: dbMsg.AllowedRoleIDs,
		AllowedUserIDs: dbMsg.AllowedUserIDs,
	}
}

func modelToDBMessage(msg *models.Message) *DBMessage {
	return &DBMessage{
		MessageID:      msg.MessageID,
		GuildID:        msg.GuildID,
		CategoryID:     msg.CategoryID,
		ChannelID:      msg.ChannelID,
		ThreadID:       msg.ThreadID,
		AuthorID:       msg.AuthorID,
		ContentMD:      msg.ContentMD,
		ContentPlain:   msg.ContentPlain,
		CreatedAt:      msg.CreatedAt,
		EditedAt:       msg.EditedAt,
		DeletedAt:      msg.DeletedAt,
		Mentions:       msg.Mentions,
		Attachments:    msg.Attachments,
		JumpLink:       msg.JumpLink,
		TokenCount:     msg.TokenCount,
		AllowedRoleIDs: msg.AllowedRoleIDs,
		AllowedUserIDs: msg.AllowedUserIDs,
	}
}

// UpsertMessages inserts or overwrites messages by message_id in one
// multi-row statement. Callers are expected to batch.
func (r *PostgresMessagesRepository) UpsertMessages(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	db := dbtx.GetTransactional(ctx, r.db)

	columnsStr := strings.Join(messagesColumns, ", ")
	valueRows := make([]string, 0, len(messages))
	args := make([]interface{}, 0, len(messages)*len(messagesColumns))
	for i, msg := range messages {
		dbMsg := modelToDBMessage(msg)
		base := i * len(messagesColumns)
		placeholders := make([]string, len(messagesColumns))
		for j := range messagesColumns {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueRows = append(valueRows, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			dbMsg.MessageID, dbMsg.GuildID, dbMsg.CategoryID, dbMsg.ChannelID,
			dbMsg.ThreadID, dbMsg.AuthorID, dbMsg.ContentMD, dbMsg.ContentPlain,
			dbMsg.CreatedAt, dbMsg.EditedAt, dbMsg.DeletedAt, dbMsg.Mentions,
			dbMsg.Attachments, dbMsg.JumpLink, dbMsg.TokenCount,
			dbMsg.AllowedRoleIDs, dbMsg.AllowedUserIDs)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.messages (%s)
		VALUES %s
		ON CONFLICT (message_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			category_id = EXCLUDED.category_id,
			channel_id = EXCLUDED.channel_id,
			thread_id = EXCLUDED.thread_id,
			author_id = EXCLUDED.author_id,
			content_md = EXCLUDED.content_md,
			content_plain = EXCLUDED.content_plain,
			created_at = EXCLUDED.created_at,
			edited_at = EXCLUDED.edited_at,
			deleted_at = EXCLUDED.deleted_at,
			mentions = EXCLUDED.mentions,
			attachments = EXCLUDED.attachments,
			jump_link = EXCLUDED.jump_link,
			token_count = EXCLUDED.token_count,
			allowed_role_ids = EXCLUDED.allowed_role_ids,
			allowed_user_ids = EXCLUDED.allowed_user_ids`,
		r.schema, columnsStr, strings.Join(valueRows, ", "))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert messages: %w", err)
	}
	return nil
}

// GetMessagesByIDs returns the messages for the given ids, preserving the
// order of the input slice. Ids with no row are silently skipped.
func (r *PostgresMessagesRepository) GetMessagesByIDs(
	ctx context.Context,
	messageIDs []string,
) ([]*models.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(messagesColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.messages
		WHERE message_id = ANY($1)`, columnsStr, r.schema)

	var dbMessages []DBMessage
	err := db.SelectContext(ctx, &dbMessages, query, pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get messages by ids: %w", err)
	}

	byID := make(map[string]*models.Message, len(dbMessages))
	for i := range dbMessages {
		byID[dbMessages[i].MessageID] = dbMessageToModel(&dbMessages[i])
	}

	ordered := make([]*models.Message, 0, len(messageIDs))
	for _, id := range messageIDs {
		if msg, ok := byID[id]; ok {
			ordered = append(ordered, msg)
		}
	}
	return ordered, nil
}
