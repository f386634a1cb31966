package embedqueue

import (
	"context"
	"fmt"
	"log"

	"guildrag/core"
	"guildrag/db"
	"guildrag/models"
)

// countBatchSize bounds the IN lookup when counting remaining ready rows.
const countBatchSize = 500

// queueRepository is the storage surface the service needs; satisfied by
// *db.PostgresEmbedQueueRepository.
type queueRepository interface {
	EnqueueWindows(ctx context.Context, items []*models.EmbedQueueItem) error
	ClaimReadyBatch(ctx context.Context, limit int) ([]*models.EmbedQueueItem, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	CountReadyByWindowIDs(ctx context.Context, windowIDs []string) (int, error)
	CountReadyForGuild(ctx context.Context, guildID string) (int, error)
}

type EmbedQueueService struct {
	queueRepo queueRepository
}

func NewEmbedQueueService(repo *db.PostgresEmbedQueueRepository) *EmbedQueueService {
	return &EmbedQueueService{queueRepo: repo}
}

// EnqueueWindows inserts one ready queue row per window id with priority 0,
// ignoring windows already queued.
func (s *EmbedQueueService) EnqueueWindows(ctx context.Context, windowIDs []string) error {
	if len(windowIDs) == 0 {
		return nil
	}

	items := make([]*models.EmbedQueueItem, 0, len(windowIDs))
	for _, windowID := range windowIDs {
		items = append(items, &models.EmbedQueueItem{
			ID:       core.NewID("eq"),
			WindowID: windowID,
			Priority: 0,
			Status:   models.EmbedQueueStatusReady,
		})
	}

	if err := s.queueRepo.EnqueueWindows(ctx, items); err != nil {
		return core.NewCodedError(core.CodeSyncEnqueueFailed, err)
	}
	log.Printf("📋 Enqueued %d windows for embedding", len(windowIDs))
	return nil
}

func (s *EmbedQueueService) ClaimReadyBatch(
	ctx context.Context,
	limit int,
) ([]*models.EmbedQueueItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	items, err := s.queueRepo.ClaimReadyBatch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim ready batch: %w", err)
	}
	return items, nil
}

func (s *EmbedQueueService) CompleteItem(ctx context.Context, id string) error {
	if err := s.queueRepo.MarkDone(ctx, id); err != nil {
		return fmt.Errorf("failed to complete queue item: %w", err)
	}
	return nil
}

func (s *EmbedQueueService) FailItem(ctx context.Context, id string) error {
	if err := s.queueRepo.MarkFailed(ctx, id); err != nil {
		return fmt.Errorf("failed to fail queue item: %w", err)
	}
	return nil
}

// RegisterAttempt increments the row's attempt counter; once the count
// reaches maxAttempts the row is failed terminally. Returns true when the
// row went terminal.
func (s *EmbedQueueService) RegisterAttempt(
	ctx context.Context,
	id string,
	maxAttempts int,
) (bool, error) {
	attempts, err := s.queueRepo.IncrementAttempts(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to register attempt: %w", err)
	}
	if attempts >= maxAttempts {
		if err := s.queueRepo.MarkFailed(ctx, id); err != nil {
			return false, fmt.Errorf("failed to fail exhausted queue item: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// CountReadyByWindowIDs counts ready rows among the given windows, batching
// the IN lookup by 500 ids.
func (s *EmbedQueueService) CountReadyByWindowIDs(
	ctx context.Context,
	windowIDs []string,
) (int, error) {
	total := 0
	for start := 0; start < len(windowIDs); start += countBatchSize {
		end := start + countBatchSize
		if end > len(windowIDs) {
			end = len(windowIDs)
		}
		count, err := s.queueRepo.CountReadyByWindowIDs(ctx, windowIDs[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to count ready windows: %w", err)
		}
		total += count
	}
	return total, nil
}

// CountReadyForGuild counts all ready rows for the guild's windows, regardless
// of which sync operation enqueued them.
func (s *EmbedQueueService) CountReadyForGuild(ctx context.Context, guildID string) (int, error) {
	count, err := s.queueRepo.CountReadyForGuild(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("failed to count ready windows for guild: %w", err)
	}
	return count, nil
}
