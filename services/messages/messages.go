package messages

import (
	"context"
	"fmt"
	"log"
	"time"

	"guildrag/core"
	"guildrag/db"
	"guildrag/models"
)

const (
	batchSize    = 50
	batchRetries = 3
)

type MessagesService struct {
	messagesRepo *db.PostgresMessagesRepository
}

func NewMessagesService(repo *db.PostgresMessagesRepository) *MessagesService {
	return &MessagesService{messagesRepo: repo}
}

// SaveMessages upserts messages in batches of 50 on conflict key message_id.
// Each batch retries up to 3 times with exponential wait; exhaustion fails
// with MESSAGE_SAVE_FAILED.
func (s *MessagesService) SaveMessages(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	log.Printf("📋 Starting to save %d messages in batches of %d", len(messages), batchSize)

	for start := 0; start < len(messages); start += batchSize {
		end := start + batchSize
		if end > len(messages) {
			end = len(messages)
		}
		batch := messages[start:end]

		if err := s.saveBatch(ctx, batch); err != nil {
			return core.NewCodedError(core.CodeMessageSaveFailed,
				fmt.Errorf("batch starting at %d: %w", start, err))
		}
	}

	log.Printf("📋 Completed successfully - saved %d messages", len(messages))
	return nil
}

func (s *MessagesService) saveBatch(ctx context.Context, batch []*models.Message) error {
	var lastErr error
	for attempt := 0; attempt < batchRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("⚠️ Retrying message batch after %v (attempt %d/%d)", wait, attempt+1, batchRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := s.messagesRepo.UpsertMessages(ctx, batch); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", batchRetries, lastErr)
}

func (s *MessagesService) GetMessagesByIDs(
	ctx context.Context,
	messageIDs []string,
) ([]*models.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	msgs, err := s.messagesRepo.GetMessagesByIDs(ctx, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return msgs, nil
}
