package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// MessageWindow is an ordered, bounded-token concatenation of consecutive
// messages from one channel-date or thread-date partition - the unit of
// embedding. (channel_id, date, window_seq) is unique so re-chunking is
// idempotent.
type MessageWindow struct {
	WindowID   string    `json:"window_id"`
	GuildID    string    `json:"guild_id"`
	CategoryID *string   `json:"category_id,omitempty"`
	ChannelID  string    `json:"channel_id"`
	ThreadID   *string   `json:"thread_id,omitempty"`
	Date       string    `json:"date"` // calendar date, YYYY-MM-DD
	WindowSeq  int       `json:"window_seq"`
	MessageIDs []string  `json:"message_ids"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	TokenEst   *int      `json:"token_est,omitempty"`
	Text       *string   `json:"text,omitempty"`
}

// MessageEmbedding holds the dense vector for one window. At most one row per
// window; overwriting is allowed.
type MessageEmbedding struct {
	WindowID  string          `json:"window_id"`
	Embedding pgvector.Vector `json:"embedding"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WindowMatch is one row returned by the match_windows_in_guild RPC,
// ordered by ascending cosine distance (similarity = 1 - cosine_distance).
type WindowMatch struct {
	WindowID   string  `json:"window_id"`
	Similarity float64 `json:"similarity"`
}
