package discord

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/semaphore"

	"guildrag/clients"
	"guildrag/models"
	"guildrag/utils"
)

const (
	historyPageSize      = 100
	archivedThreadsLimit = 100
	threadFetchTimeout   = 30 * time.Second
)

// GuildFetcher drains message history from Discord. Channel-level and
// thread-level fetches run under separate semaphores: a channel task that
// spawns thread sub-tasks must not compete with itself on the same limiter.
type GuildFetcher struct {
	session    *discordgo.Session
	channelSem *semaphore.Weighted
	threadSem  *semaphore.Weighted
}

func NewGuildFetcher(session *discordgo.Session, concurrency int) *GuildFetcher {
	if concurrency <= 0 {
		concurrency = 15
	}
	return &GuildFetcher{
		session:    session,
		channelSem: semaphore.NewWeighted(int64(concurrency)),
		threadSem:  semaphore.NewWeighted(int64(concurrency)),
	}
}

// collector accumulates fetch results across concurrent container tasks and
// tracks container progress for the callback.
type collector struct {
	mu         sync.Mutex
	result     clients.FetchResult
	completed  int
	total      int
	onProgress clients.FetchProgress
}

func (c *collector) addContainers(n int) {
	c.mu.Lock()
	c.total += n
	c.mu.Unlock()
}

func (c *collector) containerDone(phase string) {
	c.mu.Lock()
	c.completed++
	completed, total := c.completed, c.total
	onProgress := c.onProgress
	c.mu.Unlock()
	if onProgress != nil {
		onProgress(completed, total, phase)
	}
}

func (c *collector) addMessages(messages []*models.Message) {
	c.mu.Lock()
	c.result.Messages = append(c.result.Messages, messages...)
	c.mu.Unlock()
}

func (c *collector) addChannel(channel *models.Channel) {
	c.mu.Lock()
	c.result.Channels = append(c.result.Channels, channel)
	c.mu.Unlock()
}

func (c *collector) addThread(thread *models.Thread) {
	c.mu.Lock()
	c.result.Threads = append(c.result.Threads, thread)
	c.mu.Unlock()
}

func (c *collector) addSkippedThread(threadID string) {
	c.mu.Lock()
	c.result.SkippedThreads = append(c.result.SkippedThreads, threadID)
	c.mu.Unlock()
}

// FetchGuild fans out across all text channels of the guild plus their
// active and archived threads.
func (f *GuildFetcher) FetchGuild(
	ctx context.Context,
	guildID string,
	since *time.Time,
	onProgress clients.FetchProgress,
) (*clients.FetchResult, error) {
	guildChannels, err := f.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list guild channels: %w", err)
	}

	textChannels := make([]*discordgo.Channel, 0, len(guildChannels))
	for _, ch := range guildChannels {
		if isTextChannel(ch) {
			textChannels = append(textChannels, ch)
		}
	}
	log.Printf("📋 Fetching guild %s: %d text channels", guildID, len(textChannels))

	// Active threads are listed guild-wide; group them by parent channel so
	// each channel task owns its threads.
	activeByParent := make(map[string][]*discordgo.Channel)
	activeThreads, err := f.session.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		log.Printf("⚠️ Failed to list active threads for guild %s: %v", guildID, err)
	} else {
		for _, thread := range activeThreads.Threads {
			activeByParent[thread.ParentID] = append(activeByParent[thread.ParentID], thread)
		}
	}

	coll := &collector{onProgress: onProgress}
	coll.addContainers(len(textChannels))

	var wg sync.WaitGroup
	for _, ch := range textChannels {
		channel := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.channelSem.Acquire(ctx, 1); err != nil {
				return
			}
			defer f.channelSem.Release(1)
			f.drainChannel(ctx, guildID, channel, activeByParent[channel.ID], since, coll)
			coll.containerDone("channels")
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &coll.result, nil
}

// FetchChannel drains a single channel, threads included.
func (f *GuildFetcher) FetchChannel(
	ctx context.Context,
	guildID, channelID string,
	since *time.Time,
	onProgress clients.FetchProgress,
) (*clients.FetchResult, error) {
	channel, err := f.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}

	var channelThreads []*discordgo.Channel
	activeThreads, err := f.session.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		log.Printf("⚠️ Failed to list active threads for guild %s: %v", guildID, err)
	} else {
		for _, thread := range activeThreads.Threads {
			if thread.ParentID == channelID {
				channelThreads = append(channelThreads, thread)
			}
		}
	}

	coll := &collector{onProgress: onProgress}
	coll.addContainers(1)
	f.drainChannel(ctx, guildID, channel, channelThreads, since, coll)
	coll.containerDone("channel")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &coll.result, nil
}

// drainChannel fetches the channel's own history, then its active and
// archived threads under the thread semaphore.
func (f *GuildFetcher) drainChannel(
	ctx context.Context,
	guildID string,
	channel *discordgo.Channel,
	activeThreads []*discordgo.Channel,
	since *time.Time,
	coll *collector,
) {
	coll.addChannel(channelToModel(guildID, channel))

	messages, err := f.fetchHistory(ctx, guildID, channel.ID, channel.ParentID, false, since)
	if err != nil {
		log.Printf("⚠️ Failed to fetch history for channel %s: %v", channel.ID, err)
	} else {
		coll.addMessages(messages)
	}

	threads := make([]*discordgo.Channel, 0, len(activeThreads))
	threads = append(threads, activeThreads...)

	archived, err := f.session.ThreadsArchived(channel.ID, nil, archivedThreadsLimit, discordgo.WithContext(ctx))
	if err != nil {
		log.Printf("⚠️ Failed to list archived threads for channel %s: %v", channel.ID, err)
	} else {
		threads = append(threads, archived.Threads...)
	}

	if len(threads) == 0 {
		return
	}
	coll.addContainers(len(threads))

	var wg sync.WaitGroup
	for _, th := range threads {
		thread := th
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.threadSem.Acquire(ctx, 1); err != nil {
				return
			}
			defer f.threadSem.Release(1)
			f.drainThread(ctx, guildID, channel.ID, thread, since, coll)
			coll.containerDone("threads")
		}()
	}
	wg.Wait()
}

// drainThread fetches one thread's history under a wall-clock timeout. On
// timeout the thread resolves to an empty list and is skipped with a warning;
// it is not re-queued within the same job.
func (f *GuildFetcher) drainThread(
	ctx context.Context,
	guildID, parentChannelID string,
	thread *discordgo.Channel,
	since *time.Time,
	coll *collector,
) {
	coll.addThread(threadToModel(guildID, parentChannelID, thread))

	threadCtx, cancel := context.WithTimeout(ctx, threadFetchTimeout)
	defer cancel()

	messages, err := f.fetchHistory(threadCtx, guildID, thread.ID, parentChannelID, true, since)
	if err != nil {
		log.Printf("⚠️ Skipping thread %s in channel %s: %v", thread.ID, parentChannelID, err)
		coll.addSkippedThread(thread.ID)
		return
	}
	coll.addMessages(messages)
}

// fetchHistory pages backwards through a container's messages (newest first)
// and stops once it crosses the since lower bound.
func (f *GuildFetcher) fetchHistory(
	ctx context.Context,
	guildID, containerID, parentChannelID string,
	isThread bool,
	since *time.Time,
) ([]*models.Message, error) {
	var collected []*models.Message
	beforeID := ""

	for {
		page, err := f.session.ChannelMessages(
			containerID, historyPageSize, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages before %q: %w", beforeID, err)
		}
		if len(page) == 0 {
			break
		}

		reachedLowerBound := false
		for _, msg := range page {
			if since != nil && msg.Timestamp.Before(*since) {
				reachedLowerBound = true
				break
			}
			collected = append(collected, messageToModel(guildID, containerID, parentChannelID, isThread, msg))
		}
		if reachedLowerBound || len(page) < historyPageSize {
			break
		}
		beforeID = page[len(page)-1].ID
	}
	return collected, nil
}

func isTextChannel(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	default:
		return false
	}
}

func channelToModel(guildID string, ch *discordgo.Channel) *models.Channel {
	channelType := fmt.Sprintf("%d", ch.Type)
	model := &models.Channel{
		ChannelID: ch.ID,
		GuildID:   guildID,
		Type:      &channelType,
	}
	if ch.Name != "" {
		name := ch.Name
		model.Name = &name
	}
	if ch.ParentID != "" {
		categoryID := ch.ParentID
		model.CategoryID = &categoryID
	}
	return model
}

func threadToModel(guildID, parentChannelID string, thread *discordgo.Channel) *models.Thread {
	model := &models.Thread{
		ThreadID:  thread.ID,
		GuildID:   guildID,
		ChannelID: parentChannelID,
	}
	if thread.Name != "" {
		name := thread.Name
		model.Name = &name
	}
	if thread.ThreadMetadata != nil {
		model.Archived = thread.ThreadMetadata.Archived
	}
	return model
}

func messageToModel(
	guildID, containerID, parentChannelID string,
	isThread bool,
	msg *discordgo.Message,
) *models.Message {
	channelID := containerID
	var threadID *string
	if isThread {
		channelID = parentChannelID
		id := containerID
		threadID = &id
	}

	createdAt := msg.Timestamp.UTC()
	contentMD := msg.Content
	contentPlain := utils.MarkdownToPlain(msg.Content)
	jumpLink := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, containerID, msg.ID)

	model := &models.Message{
		MessageID:    msg.ID,
		GuildID:      guildID,
		ChannelID:    channelID,
		ThreadID:     threadID,
		ContentMD:    &contentMD,
		ContentPlain: &contentPlain,
		CreatedAt:    &createdAt,
		JumpLink:     &jumpLink,
	}
	if msg.Author != nil {
		authorID := msg.Author.ID
		model.AuthorID = &authorID
	}
	if msg.EditedTimestamp != nil {
		editedAt := msg.EditedTimestamp.UTC()
		model.EditedAt = &editedAt
	}
	for _, mention := range msg.Mentions {
		model.Mentions = append(model.Mentions, mention.ID)
	}
	for _, attachment := range msg.Attachments {
		model.Attachments = append(model.Attachments, attachment.URL)
	}
	return model
}
