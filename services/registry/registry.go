package registry

import (
	"context"
	"fmt"

	"guildrag/db"
	"guildrag/models"
)

// ChannelRegistryService keeps the channels/threads registry current with
// what a sync observed. Rows are upserted, never hard-deleted.
type ChannelRegistryService struct {
	channelsRepo *db.PostgresChannelsRepository
}

func NewChannelRegistryService(repo *db.PostgresChannelsRepository) *ChannelRegistryService {
	return &ChannelRegistryService{channelsRepo: repo}
}

func (s *ChannelRegistryService) RegisterChannels(ctx context.Context, channels []*models.Channel) error {
	for _, channel := range channels {
		if err := s.channelsRepo.UpsertChannel(ctx, channel); err != nil {
			return fmt.Errorf("failed to register channel %s: %w", channel.ChannelID, err)
		}
	}
	return nil
}

func (s *ChannelRegistryService) RegisterThreads(ctx context.Context, threads []*models.Thread) error {
	for _, thread := range threads {
		if err := s.channelsRepo.UpsertThread(ctx, thread); err != nil {
			return fmt.Errorf("failed to register thread %s: %w", thread.ThreadID, err)
		}
	}
	return nil
}
