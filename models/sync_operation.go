package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type SyncScope string

const (
	SyncScopeGuild   SyncScope = "guild"
	SyncScopeChannel SyncScope = "channel"
	SyncScopeThread  SyncScope = "thread"
)

type SyncMode string

const (
	SyncModeFull  SyncMode = "full"
	SyncModeDelta SyncMode = "delta"
)

type SyncStatus string

const (
	SyncStatusQueued    SyncStatus = "queued"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncProgress is the structured progress blob persisted as JSONB on a sync
// operation. Processed is a 0-100 percentage and must be non-decreasing
// within one job.
type SyncProgress struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// Value implements driver.Valuer so sqlx can write the JSONB column.
func (p SyncProgress) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner so sqlx can read the JSONB column.
func (p *SyncProgress) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	case nil:
		*p = SyncProgress{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into SyncProgress", src)
	}
}

// SyncOperation is one requested sync job. Status transitions are restricted
// to queued -> running -> {completed, failed}.
type SyncOperation struct {
	ID          string       `json:"id"`
	GuildID     string       `json:"guild_id"`
	Scope       SyncScope    `json:"scope"`
	Mode        SyncMode     `json:"mode"`
	TargetIDs   []string     `json:"target_ids,omitempty"`
	Since       *time.Time   `json:"since,omitempty"`
	RequestedBy string       `json:"requested_by"`
	Status      SyncStatus   `json:"status"`
	Progress    SyncProgress `json:"progress"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SyncCursor tracks the per-guild high-water mark that drives delta-mode
// selection.
type SyncCursor struct {
	GuildID       string     `json:"guild_id"`
	LastMessageID *string    `json:"last_message_id,omitempty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
}

type SyncChunkStatus string

const (
	SyncChunkStatusDone   SyncChunkStatus = "done"
	SyncChunkStatusFailed SyncChunkStatus = "failed"
)

// SyncChunk records the outcome of fetching one container within a sync
// operation. Written for observability; a future resume feature can read it.
type SyncChunk struct {
	ID        string          `json:"id"`
	OpID      string          `json:"op_id"`
	TargetID  string          `json:"target_id"`
	Date      string          `json:"date"`
	Cursor    *string         `json:"cursor,omitempty"`
	Status    SyncChunkStatus `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
