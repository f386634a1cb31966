package services

import (
	"context"
	"time"

	"github.com/samber/mo"

	"guildrag/models"
)

// MessagesService defines the interface for message persistence
type MessagesService interface {
	// SaveMessages upserts messages in batches of 50, retrying each batch up
	// to 3 times. Exhaustion surfaces MESSAGE_SAVE_FAILED.
	SaveMessages(ctx context.Context, messages []*models.Message) error
	GetMessagesByIDs(ctx context.Context, messageIDs []string) ([]*models.Message, error)
}

// WindowsService defines the interface for message-window persistence
type WindowsService interface {
	// UpsertWindow stores a window idempotently on (channel_id, date,
	// window_seq) and returns the stored row's window id.
	UpsertWindow(ctx context.Context, window *models.MessageWindow) (string, error)
	GetWindowByID(ctx context.Context, windowID string) (mo.Option[*models.MessageWindow], error)
	GetWindowsByIDs(ctx context.Context, windowIDs []string) ([]*models.MessageWindow, error)
	// ResolveWindowText returns the window's text, reconstructing it from the
	// member messages' plain content when the text column is null. None means
	// nothing resolved at all.
	ResolveWindowText(ctx context.Context, windowID string) (mo.Option[string], error)
}

// EmbeddingsService defines the interface for vector storage and search
type EmbeddingsService interface {
	UpsertEmbedding(ctx context.Context, windowID string, embedding []float32) error
	MatchWindowsInGuild(
		ctx context.Context,
		queryEmbedding []float32,
		guildID string,
		limit int,
	) ([]*models.WindowMatch, error)
}

// EmbedQueueService defines the interface for the durable embed queue
type EmbedQueueService interface {
	// EnqueueWindows inserts one ready row per window id with priority 0,
	// ignoring windows that are already queued.
	EnqueueWindows(ctx context.Context, windowIDs []string) error
	ClaimReadyBatch(ctx context.Context, limit int) ([]*models.EmbedQueueItem, error)
	CompleteItem(ctx context.Context, id string) error
	FailItem(ctx context.Context, id string) error
	// RegisterAttempt increments the attempt counter and fails the row when
	// the count reaches maxAttempts. Returns true if the row went terminal.
	RegisterAttempt(ctx context.Context, id string, maxAttempts int) (bool, error)
	// CountReadyByWindowIDs counts remaining ready rows for the given
	// windows, batching the IN lookup by 500 ids.
	CountReadyByWindowIDs(ctx context.Context, windowIDs []string) (int, error)
	// CountReadyForGuild counts all ready rows for the guild's windows,
	// regardless of which operation enqueued them.
	CountReadyForGuild(ctx context.Context, guildID string) (int, error)
}

// SyncOperationsService defines the interface for sync job bookkeeping
type SyncOperationsService interface {
	// EnqueueSyncOperation creates a queued operation. Mode is delta iff a
	// cursor exists for the guild, in which case since is the cursor's
	// last_synced_at.
	EnqueueSyncOperation(
		ctx context.Context,
		guildID string,
		scope models.SyncScope,
		targetIDs []string,
		requestedBy string,
	) (*models.SyncOperation, error)
	// ClaimNextOperation atomically transitions the oldest queued operation
	// to running; None when the queue is empty or another runner won.
	ClaimNextOperation(ctx context.Context) (mo.Option[*models.SyncOperation], error)
	GetOperationByID(ctx context.Context, id string) (mo.Option[*models.SyncOperation], error)
	UpdateProgress(ctx context.Context, id string, progress models.SyncProgress) error
	CompleteOperation(
		ctx context.Context,
		id string,
		status models.SyncStatus,
		progress models.SyncProgress,
	) error
	ResetStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error)
	RecordChunkOutcome(ctx context.Context, chunk *models.SyncChunk) error
}

// SyncCursorsService defines the interface for per-guild sync cursors
type SyncCursorsService interface {
	GetCursor(ctx context.Context, guildID string) (mo.Option[*models.SyncCursor], error)
	UpdateCursor(ctx context.Context, guildID, lastMessageID string, lastSyncedAt time.Time) error
}

// ChannelRegistryService defines the interface for the channel/thread registry
type ChannelRegistryService interface {
	RegisterChannels(ctx context.Context, channels []*models.Channel) error
	RegisterThreads(ctx context.Context, threads []*models.Thread) error
}

// TransactionManager provides transaction management capabilities
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
