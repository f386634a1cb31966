package windows

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/samber/mo"

	"guildrag/core"
	"guildrag/db"
	"guildrag/models"
)

type WindowsService struct {
	windowsRepo  *db.PostgresWindowsRepository
	messagesRepo *db.PostgresMessagesRepository
}

func NewWindowsService(
	windowsRepo *db.PostgresWindowsRepository,
	messagesRepo *db.PostgresMessagesRepository,
) *WindowsService {
	return &WindowsService{windowsRepo: windowsRepo, messagesRepo: messagesRepo}
}

func (s *WindowsService) UpsertWindow(
	ctx context.Context,
	window *models.MessageWindow,
) (string, error) {
	if window.GuildID == "" {
		return "", fmt.Errorf("guild_id cannot be empty")
	}
	if window.ChannelID == "" {
		return "", fmt.Errorf("channel_id cannot be empty")
	}
	if len(window.MessageIDs) == 0 {
		return "", fmt.Errorf("message_ids cannot be empty")
	}
	if window.EndAt.Before(window.StartAt) {
		return "", fmt.Errorf("end_at cannot precede start_at")
	}

	windowID, err := s.windowsRepo.UpsertWindow(ctx, window)
	if err != nil {
		return "", core.NewCodedError(core.CodeWindowSaveFailed, err)
	}
	return windowID, nil
}

func (s *WindowsService) GetWindowByID(
	ctx context.Context,
	windowID string,
) (mo.Option[*models.MessageWindow], error) {
	window, err := s.windowsRepo.GetWindowByID(ctx, windowID)
	if err != nil {
		return mo.None[*models.MessageWindow](), core.NewCodedError(core.CodeWindowFetchFailed, err)
	}
	return window, nil
}

func (s *WindowsService) GetWindowsByIDs(
	ctx context.Context,
	windowIDs []string,
) ([]*models.MessageWindow, error) {
	windows, err := s.windowsRepo.GetWindowsByIDs(ctx, windowIDs)
	if err != nil {
		return nil, core.NewCodedError(core.CodeWindowFetchFailed, err)
	}
	return windows, nil
}

// ResolveWindowText returns the text to embed for a window. The stored text
// column wins; when it is null the text is rebuilt by joining the member
// messages' plain content in message_ids order, skipping ids whose message
// has since disappeared. None means nothing resolved.
func (s *WindowsService) ResolveWindowText(
	ctx context.Context,
	windowID string,
) (mo.Option[string], error) {
	maybeWindow, err := s.windowsRepo.GetWindowByID(ctx, windowID)
	if err != nil {
		return mo.None[string](), core.NewCodedError(core.CodeWindowFetchFailed, err)
	}
	if !maybeWindow.IsPresent() {
		return mo.None[string](), nil
	}
	window := maybeWindow.MustGet()

	if window.Text != nil && *window.Text != "" {
		return mo.Some(*window.Text), nil
	}

	msgs, err := s.messagesRepo.GetMessagesByIDs(ctx, window.MessageIDs)
	if err != nil {
		return mo.None[string](), fmt.Errorf("failed to load window messages: %w", err)
	}
	if len(msgs) < len(window.MessageIDs) {
		log.Printf("⚠️ Window %s references %d messages but only %d resolved",
			windowID, len(window.MessageIDs), len(msgs))
	}

	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ContentPlain != nil && *msg.ContentPlain != "" {
			parts = append(parts, *msg.ContentPlain)
		}
	}
	if len(parts) == 0 {
		return mo.None[string](), nil
	}
	return mo.Some(strings.Join(parts, "\n")), nil
}
