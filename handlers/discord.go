package handlers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildrag/models"
	"guildrag/services"
	"guildrag/usecases/chat"
)

const helpText = `**guildrag bot**
` + "`/sync`" + ` - このサーバーのメッセージ履歴を同期します (scope: guild/channel/thread)
` + "`/chat query:<質問>`" + ` - 同期済みの履歴に基づいて質問に答えます
` + "`/help`" + ` - このヘルプを表示します`

type DiscordCommandsHandler struct {
	session     *discordgo.Session
	appID       string
	opsService  services.SyncOperationsService
	chatUseCase *chat.ChatUsecase
}

func NewDiscordCommandsHandler(
	botToken, appID string,
	opsService services.SyncOperationsService,
	chatUseCase *chat.ChatUsecase,
) (*DiscordCommandsHandler, error) {
	// Create a new Discord session using the provided bot token
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	handler := &DiscordCommandsHandler{
		session:     session,
		appID:       appID,
		opsService:  opsService,
		chatUseCase: chatUseCase,
	}

	session.AddHandler(handler.handleInteraction)
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	return handler, nil
}

// Session exposes the underlying connection so the fetcher can share it.
func (h *DiscordCommandsHandler) Session() *discordgo.Session {
	return h.session
}

// StartBot opens the Discord connection and registers the slash commands.
func (h *DiscordCommandsHandler) StartBot() error {
	if err := h.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	if err := h.registerCommands(); err != nil {
		return fmt.Errorf("failed to register application commands: %w", err)
	}

	log.Printf("🤖 Discord bot is now running and listening for interactions")
	return nil
}

// StopBot gracefully closes the Discord connection
func (h *DiscordCommandsHandler) StopBot() {
	h.session.Close()
}

func (h *DiscordCommandsHandler) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "sync",
			Description: "Synchronize guild message history for retrieval",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "scope",
					Description: "What to sync: guild (default), channel or thread",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "guild", Value: "guild"},
						{Name: "channel", Value: "channel"},
						{Name: "thread", Value: "thread"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "target",
					Description: "Channel or thread to sync (for channel/thread scope)",
					Required:    false,
				},
			},
		},
		{
			Name:        "chat",
			Description: "Ask a question over the synchronized history",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Your question",
					Required:    true,
				},
			},
		},
		{
			Name:        "help",
			Description: "Show usage help",
		},
	}

	for _, command := range commands {
		if _, err := h.session.ApplicationCommandCreate(h.appID, "", command); err != nil {
			return fmt.Errorf("failed to create command %s: %w", command.Name, err)
		}
	}
	log.Printf("✅ Registered %d application commands", len(commands))
	return nil
}

func (h *DiscordCommandsHandler) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	log.Printf("📨 Slash command /%s in guild %s", data.Name, i.GuildID)

	switch data.Name {
	case "sync":
		h.handleSyncCommand(s, i, data)
	case "chat":
		h.handleChatCommand(s, i, data)
	case "help":
		h.respond(s, i, helpText, true)
	default:
		log.Printf("⚠️ Command /%s is not implemented", data.Name)
		h.respond(s, i, fmt.Sprintf("`/%s` はまだ実装されていません。", data.Name), true)
	}
}

func (h *DiscordCommandsHandler) handleSyncCommand(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) {
	scope := models.SyncScopeGuild
	var targetIDs []string
	for _, option := range data.Options {
		switch option.Name {
		case "scope":
			scope = models.SyncScope(option.StringValue())
		case "target":
			targetIDs = append(targetIDs, option.Value.(string))
		}
	}
	if scope != models.SyncScopeGuild && len(targetIDs) == 0 {
		// Fall back to the channel the command was issued in.
		targetIDs = []string{i.ChannelID}
	}

	op, err := h.opsService.EnqueueSyncOperation(
		context.Background(), i.GuildID, scope, targetIDs, interactionUserID(i))
	if err != nil {
		log.Printf("❌ Failed to enqueue sync operation: %v", err)
		h.respond(s, i, "同期の開始に失敗しました。しばらくしてからもう一度お試しください。", true)
		return
	}

	h.respond(s, i, fmt.Sprintf(
		"同期を開始しました。\nオペレーションID: `%s`\n進捗: %d/%d (%s)",
		op.ID, op.Progress.Processed, op.Progress.Total, op.Progress.Message), true)
}

func (h *DiscordCommandsHandler) handleChatCommand(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) {
	var query string
	for _, option := range data.Options {
		if option.Name == "query" {
			query = option.StringValue()
		}
	}

	// Answering takes longer than the 3s interaction deadline, so defer first.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		log.Printf("❌ Failed to defer chat interaction: %v", err)
		return
	}

	go func() {
		answer, err := h.chatUseCase.Answer(
			context.Background(), i.GuildID, i.ChannelID, interactionUserID(i), query)
		if err != nil {
			log.Printf("❌ Chat command failed: %v", err)
			h.followUp(s, i, "申し訳ありません、回答の生成中にエラーが発生しました。")
			return
		}
		h.followUp(s, i, formatAnswer(answer))
	}()
}

func formatAnswer(answer *chat.Answer) string {
	var b strings.Builder
	b.WriteString(answer.Text)
	if len(answer.Citations) > 0 {
		b.WriteString("\n\n**出典**\n")
		for _, citation := range answer.Citations {
			fmt.Fprintf(&b, "%s %s\n", citation.Label, citation.JumpLink)
		}
	}
	return b.String()
}

func (h *DiscordCommandsHandler) respond(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	content string,
	ephemeral bool,
) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		log.Printf("❌ Failed to respond to interaction: %v", err)
	}
}

func (h *DiscordCommandsHandler) followUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
	})
	if err != nil {
		log.Printf("❌ Failed to send follow-up message: %v", err)
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return "unknown"
}
