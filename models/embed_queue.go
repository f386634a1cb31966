package models

import "time"

type EmbedQueueStatus string

const (
	EmbedQueueStatusReady  EmbedQueueStatus = "ready"
	EmbedQueueStatusDone   EmbedQueueStatus = "done"
	EmbedQueueStatusFailed EmbedQueueStatus = "failed"
)

// EmbedQueueItem is one durable queue row for a window awaiting vector
// computation. WindowID is unique so a window is queued at most once.
// Status only ever moves ready -> done or ready -> failed.
type EmbedQueueItem struct {
	ID        string           `json:"id"`
	WindowID  string           `json:"window_id"`
	Priority  int              `json:"priority"`
	Status    EmbedQueueStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	UpdatedAt time.Time        `json:"updated_at"`
}
