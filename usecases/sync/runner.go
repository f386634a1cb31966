// Package sync runs queued sync operations end to end: fetch history from
// Discord, persist messages, chunk them into windows, enqueue embedding work,
// wait for the vectors, then advance the guild cursor.
package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	stdsync "sync"
	"time"

	"guildrag/chunker"
	"guildrag/clients"
	"guildrag/core"
	"guildrag/models"
	"guildrag/services"
)

const (
	defaultPollInterval   = 10 * time.Second
	staleRunningThreshold = 30 * time.Minute
	embedWaitPoll         = 5 * time.Second
	embedWaitCeiling      = 30 * time.Minute
	embedWaitMaxErrors    = 3
)

type Runner struct {
	fetcher         clients.MessageFetcher
	messagesService services.MessagesService
	windowsService  services.WindowsService
	queueService    services.EmbedQueueService
	opsService      services.SyncOperationsService
	cursorsService  services.SyncCursorsService
	registryService services.ChannelRegistryService
	txManager       services.TransactionManager
	engine          *chunker.Engine

	pollInterval time.Duration
}

func NewRunner(
	fetcher clients.MessageFetcher,
	messagesService services.MessagesService,
	windowsService services.WindowsService,
	queueService services.EmbedQueueService,
	opsService services.SyncOperationsService,
	cursorsService services.SyncCursorsService,
	registryService services.ChannelRegistryService,
	txManager services.TransactionManager,
	engine *chunker.Engine,
) *Runner {
	return &Runner{
		fetcher:         fetcher,
		messagesService: messagesService,
		windowsService:  windowsService,
		queueService:    queueService,
		opsService:      opsService,
		cursorsService:  cursorsService,
		registryService: registryService,
		txManager:       txManager,
		engine:          engine,
		pollInterval:    defaultPollInterval,
	}
}

// Start claims and processes queued operations until ctx is cancelled. On
// startup it sweeps operations stuck in running back to queued so a crashed
// runner's work gets picked up again.
func (r *Runner) Start(ctx context.Context) {
	if _, err := r.opsService.ResetStaleRunning(ctx, staleRunningThreshold); err != nil {
		log.Printf("⚠️ Failed to reset stale running operations: %v", err)
	}

	log.Printf("🔄 Sync runner started (poll interval %s)", r.pollInterval)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Sync runner stopped")
			return
		case <-ticker.C:
			r.drainQueue(ctx)
		}
	}
}

// drainQueue processes queued operations back to back so a burst of sync
// requests does not wait one poll interval per job.
func (r *Runner) drainQueue(ctx context.Context) {
	for {
		maybeOp, err := r.opsService.ClaimNextOperation(ctx)
		if err != nil {
			log.Printf("❌ Failed to claim next sync operation: %v", err)
			return
		}
		if maybeOp.IsAbsent() {
			return
		}
		op := maybeOp.MustGet()
		log.Printf("📋 Claimed sync operation %s (guild %s, scope %s, mode %s)", op.ID, op.GuildID, op.Scope, op.Mode)
		r.runOperation(ctx, op)
	}
}

// progressTracker serializes progress writes for one operation. The fetch
// fan-out reports completion from many goroutines at once, so the mutex is
// held across both the clamp and the DB write: persisted values never regress.
type progressTracker struct {
	mu   stdsync.Mutex
	last int
}

func (t *progressTracker) snapshot() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (r *Runner) runOperation(ctx context.Context, op *models.SyncOperation) {
	tracker := &progressTracker{}
	if err := r.executePipeline(ctx, op, tracker); err != nil {
		log.Printf("❌ Sync operation %s failed: %v", op.ID, err)
		progress := models.SyncProgress{Processed: tracker.snapshot(), Total: 100, Message: err.Error()}
		if cerr := r.opsService.CompleteOperation(ctx, op.ID, models.SyncStatusFailed, progress); cerr != nil {
			log.Printf("❌ Failed to mark operation %s as failed: %v", op.ID, cerr)
		}
		return
	}

	progress := models.SyncProgress{Processed: 100, Total: 100, Message: "completed"}
	if err := r.opsService.CompleteOperation(ctx, op.ID, models.SyncStatusCompleted, progress); err != nil {
		log.Printf("❌ Failed to mark operation %s as completed: %v", op.ID, err)
	}
}

func (r *Runner) executePipeline(ctx context.Context, op *models.SyncOperation, tracker *progressTracker) error {
	// Phase 1: fetch history (0-30).
	result, err := r.fetchPhase(ctx, op, tracker)
	if err != nil {
		return fmt.Errorf("fetch phase failed: %w", err)
	}
	r.updateProgress(ctx, op.ID, tracker, 30, fmt.Sprintf("fetched %d messages", len(result.Messages)))

	r.registerContainers(ctx, op, result)

	// Phase 2: persist messages (30-50).
	if len(result.Messages) > 0 {
		if err := r.messagesService.SaveMessages(ctx, result.Messages); err != nil {
			return err
		}
	}
	r.updateProgress(ctx, op.ID, tracker, 50, "messages saved")

	// Phase 3: chunk and enqueue (50-90).
	windowIDs, err := r.chunkPhase(ctx, op, result.Messages, tracker)
	if err != nil {
		return fmt.Errorf("chunk phase failed: %w", err)
	}
	r.updateProgress(ctx, op.ID, tracker, 90, fmt.Sprintf("%d windows enqueued", len(windowIDs)))

	// Phase 4: wait for embeddings (90-99).
	r.awaitEmbeddings(ctx, op.ID, windowIDs, tracker)
	r.updateProgress(ctx, op.ID, tracker, 99, "embeddings ready")

	// Phase 5: advance the guild cursor (99-100).
	if op.Scope == models.SyncScopeGuild {
		if err := r.advanceCursor(ctx, op.GuildID, result.Messages); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) fetchPhase(
	ctx context.Context,
	op *models.SyncOperation,
	tracker *progressTracker,
) (*clients.FetchResult, error) {
	// Called concurrently from the fetch fan-out goroutines; the tracker
	// serializes the writes.
	onProgress := func(completed, total int, phase string) {
		if total <= 0 {
			return
		}
		processed := completed * 30 / total
		r.updateProgress(ctx, op.ID, tracker, processed, phase)
	}

	switch op.Scope {
	case models.SyncScopeGuild:
		return r.fetcher.FetchGuild(ctx, op.GuildID, op.Since, onProgress)
	case models.SyncScopeChannel, models.SyncScopeThread:
		merged := &clients.FetchResult{}
		for _, targetID := range op.TargetIDs {
			result, err := r.fetcher.FetchChannel(ctx, op.GuildID, targetID, op.Since, onProgress)
			if err != nil {
				return nil, err
			}
			merged.Messages = append(merged.Messages, result.Messages...)
			merged.Channels = append(merged.Channels, result.Channels...)
			merged.Threads = append(merged.Threads, result.Threads...)
			merged.SkippedThreads = append(merged.SkippedThreads, result.SkippedThreads...)
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("unsupported sync scope: %s", op.Scope)
	}
}

// registerContainers keeps the channel/thread registry current and records a
// per-container bookkeeping row. Both are advisory; failures are logged and
// do not fail the job.
func (r *Runner) registerContainers(ctx context.Context, op *models.SyncOperation, result *clients.FetchResult) {
	if err := r.registryService.RegisterChannels(ctx, result.Channels); err != nil {
		log.Printf("⚠️ Failed to register channels for operation %s: %v", op.ID, err)
	}
	if err := r.registryService.RegisterThreads(ctx, result.Threads); err != nil {
		log.Printf("⚠️ Failed to register threads for operation %s: %v", op.ID, err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	for _, channel := range result.Channels {
		_ = r.opsService.RecordChunkOutcome(ctx, &models.SyncChunk{
			OpID:     op.ID,
			TargetID: channel.ChannelID,
			Date:     today,
			Status:   models.SyncChunkStatusDone,
			Attempts: 1,
		})
	}
	for _, threadID := range result.SkippedThreads {
		lastError := "thread fetch timed out"
		_ = r.opsService.RecordChunkOutcome(ctx, &models.SyncChunk{
			OpID:      op.ID,
			TargetID:  threadID,
			Date:      today,
			Status:    models.SyncChunkStatusFailed,
			Attempts:  1,
			LastError: &lastError,
		})
	}
}

// partitionKey identifies one chunking partition: the containing thread when
// the message is in one, otherwise the channel, plus the UTC calendar date.
type partitionKey struct {
	containerID string
	date        string
}

func (r *Runner) chunkPhase(
	ctx context.Context,
	op *models.SyncOperation,
	messages []*models.Message,
	tracker *progressTracker,
) ([]string, error) {
	partitions := make(map[partitionKey][]*models.Message)
	for _, m := range messages {
		if m.CreatedAt == nil || m.DeletedAt != nil {
			continue
		}
		key := partitionKey{
			containerID: m.ContainerID(),
			date:        m.CreatedAt.UTC().Format("2006-01-02"),
		}
		partitions[key] = append(partitions[key], m)
	}

	keys := make([]partitionKey, 0, len(partitions))
	for key := range partitions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].containerID != keys[j].containerID {
			return keys[i].containerID < keys[j].containerID
		}
		return keys[i].date < keys[j].date
	})

	var windowIDs []string
	for i, key := range keys {
		ids, err := r.chunkPartition(ctx, op, key, partitions[key])
		if err != nil {
			return nil, err
		}
		windowIDs = append(windowIDs, ids...)

		processed := 50 + (i+1)*40/len(keys)
		r.updateProgress(ctx, op.ID, tracker, processed,
			fmt.Sprintf("chunked %d/%d partitions", i+1, len(keys)))
	}
	return windowIDs, nil
}

func (r *Runner) chunkPartition(
	ctx context.Context,
	op *models.SyncOperation,
	key partitionKey,
	partition []*models.Message,
) ([]string, error) {
	sort.Slice(partition, func(i, j int) bool {
		return partition[i].CreatedAt.Before(*partition[j].CreatedAt)
	})

	input := make([]chunker.Message, 0, len(partition))
	for _, m := range partition {
		content := ""
		if m.ContentPlain != nil {
			content = *m.ContentPlain
		} else if m.ContentMD != nil {
			content = *m.ContentMD
		}
		input = append(input, chunker.Message{
			ID:         m.MessageID,
			Content:    content,
			CreatedAt:  *m.CreatedAt,
			IsTopLevel: m.IsTopLevel(),
		})
	}

	first := partition[0]
	var threadID *string
	if !first.IsTopLevel() {
		threadID = first.ThreadID
	}

	windows := r.engine.Chunk(ctx, input)

	// Windows and their queue rows commit together so the embed worker never
	// sees a half-written partition.
	var windowIDs []string
	err := r.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		for _, win := range windows {
			tokenEst := win.TokenEst
			text := win.Text
			windowID, err := r.windowsService.UpsertWindow(ctx, &models.MessageWindow{
				WindowID:   core.NewID("win"),
				GuildID:    op.GuildID,
				CategoryID: first.CategoryID,
				ChannelID:  key.containerID,
				ThreadID:   threadID,
				Date:       key.date,
				WindowSeq:  win.Seq,
				MessageIDs: win.MessageIDs,
				StartAt:    win.StartAt,
				EndAt:      win.EndAt,
				TokenEst:   &tokenEst,
				Text:       &text,
			})
			if err != nil {
				return err
			}
			windowIDs = append(windowIDs, windowID)
		}
		if len(windowIDs) == 0 {
			return nil
		}
		return r.queueService.EnqueueWindows(ctx, windowIDs)
	})
	if err != nil {
		return nil, err
	}
	return windowIDs, nil
}

// awaitEmbeddings polls the queue until no ready rows remain for the windows
// of this job. It never fails the operation: after the wait ceiling, or after
// three consecutive query errors, the remaining work is assumed complete and
// left to the embed worker.
func (r *Runner) awaitEmbeddings(ctx context.Context, opID string, windowIDs []string, tracker *progressTracker) {
	if len(windowIDs) == 0 {
		return
	}

	deadline := time.Now().Add(embedWaitCeiling)
	consecutiveErrors := 0
	for {
		remaining, err := r.queueService.CountReadyByWindowIDs(ctx, windowIDs)
		if err != nil {
			consecutiveErrors++
			log.Printf("⚠️ Failed to count pending embeddings for operation %s (%d consecutive): %v",
				opID, consecutiveErrors, err)
			if consecutiveErrors >= embedWaitMaxErrors {
				log.Printf("⚠️ Giving up on embedding wait for operation %s, assuming complete", opID)
				return
			}
		} else {
			consecutiveErrors = 0
			if remaining == 0 {
				return
			}
			done := len(windowIDs) - remaining
			processed := 90 + done*9/len(windowIDs)
			r.updateProgress(ctx, opID, tracker, processed,
				fmt.Sprintf("embedding %d/%d windows", done, len(windowIDs)))
		}

		if time.Now().After(deadline) {
			log.Printf("⚠️ Embedding wait ceiling reached for operation %s, continuing", opID)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(embedWaitPoll):
		}
	}
}

// advanceCursor moves the guild high-water mark to the newest fetched message
// by created_at. No fetched messages means nothing new to record.
func (r *Runner) advanceCursor(ctx context.Context, guildID string, messages []*models.Message) error {
	var newest *models.Message
	for _, m := range messages {
		if m.CreatedAt == nil {
			continue
		}
		if newest == nil || m.CreatedAt.After(*newest.CreatedAt) {
			newest = m
		}
	}
	if newest == nil {
		return nil
	}
	return r.cursorsService.UpdateCursor(ctx, guildID, newest.MessageID, *newest.CreatedAt)
}

// updateProgress persists a monotonic progress value. Regressions from
// overlapping phase callbacks are clamped; write failures are logged only.
// The tracker lock stays held across the DB write so concurrent callbacks
// cannot persist out of order.
func (r *Runner) updateProgress(ctx context.Context, opID string, tracker *progressTracker, processed int, message string) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	if processed < tracker.last {
		processed = tracker.last
	}
	if processed > 100 {
		processed = 100
	}
	tracker.last = processed

	progress := models.SyncProgress{Processed: processed, Total: 100, Message: message}
	if err := r.opsService.UpdateProgress(ctx, opID, progress); err != nil {
		log.Printf("⚠️ Failed to update progress for operation %s: %v", opID, err)
	}
}
