package cursors

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/samber/mo"

	"guildrag/core"
	"guildrag/db"
	"guildrag/models"
)

type SyncCursorsService struct {
	cursorsRepo *db.PostgresSyncCursorsRepository
}

func NewSyncCursorsService(repo *db.PostgresSyncCursorsRepository) *SyncCursorsService {
	return &SyncCursorsService{cursorsRepo: repo}
}

func (s *SyncCursorsService) GetCursor(
	ctx context.Context,
	guildID string,
) (mo.Option[*models.SyncCursor], error) {
	if guildID == "" {
		return mo.None[*models.SyncCursor](), fmt.Errorf("guild_id cannot be empty")
	}
	maybeCursor, err := s.cursorsRepo.GetCursorByGuildID(ctx, guildID)
	if err != nil {
		return mo.None[*models.SyncCursor](), core.NewCodedError(core.CodeSyncCursorReadFailed, err)
	}
	return maybeCursor, nil
}

func (s *SyncCursorsService) UpdateCursor(
	ctx context.Context,
	guildID, lastMessageID string,
	lastSyncedAt time.Time,
) error {
	if guildID == "" {
		return fmt.Errorf("guild_id cannot be empty")
	}
	cursor := &models.SyncCursor{
		GuildID:       guildID,
		LastMessageID: &lastMessageID,
		LastSyncedAt:  &lastSyncedAt,
	}
	if err := s.cursorsRepo.UpsertCursor(ctx, cursor); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	log.Printf("📋 Updated sync cursor for guild %s (last message %s)", guildID, lastMessageID)
	return nil
}
