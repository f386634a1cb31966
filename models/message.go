package models

import "time"

// Message is one chat-service message. MessageID is globally unique and acts
// as the primary key; edits overwrite the row by MessageID.
type Message struct {
	MessageID      string     `json:"message_id"`
	GuildID        string     `json:"guild_id"`
	CategoryID     *string    `json:"category_id,omitempty"`
	ChannelID      string     `json:"channel_id"`
	ThreadID       *string    `json:"thread_id,omitempty"`
	AuthorID       *string    `json:"author_id,omitempty"`
	ContentMD      *string    `json:"content_md,omitempty"`
	ContentPlain   *string    `json:"content_plain,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	Mentions       []string   `json:"mentions,omitempty"`
	Attachments    []string   `json:"attachments,omitempty"`
	JumpLink       *string    `json:"jump_link,omitempty"`
	TokenCount     *int       `json:"token_count,omitempty"`
	AllowedRoleIDs []string   `json:"allowed_role_ids,omitempty"`
	AllowedUserIDs []string   `json:"allowed_user_ids,omitempty"`
}

// ContainerID returns the partition container for chunking: the thread if the
// message belongs to one, otherwise the channel.
func (m *Message) ContainerID() string {
	if m.ThreadID != nil && *m.ThreadID != "" {
		return *m.ThreadID
	}
	return m.ChannelID
}

// IsTopLevel reports whether the message sits directly in a channel rather
// than inside a thread.
func (m *Message) IsTopLevel() bool {
	return m.ThreadID == nil || *m.ThreadID == ""
}
