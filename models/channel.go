package models

import "time"

// Channel is a registry row for a guild text channel observed during sync.
// Channels are upserted on observation and never hard-deleted.
type Channel struct {
	ChannelID     string     `json:"channel_id"`
	GuildID       string     `json:"guild_id"`
	CategoryID    *string    `json:"category_id,omitempty"`
	Name          *string    `json:"name,omitempty"`
	Type          *string    `json:"type,omitempty"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Thread is a registry row for a thread whose parent is ChannelID.
type Thread struct {
	ThreadID      string     `json:"thread_id"`
	GuildID       string     `json:"guild_id"`
	ChannelID     string     `json:"channel_id"`
	Name          *string    `json:"name,omitempty"`
	Archived      bool       `json:"archived"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
