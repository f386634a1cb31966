// Package embed drains the embedding queue: it resolves window text, computes
// the vector and stores it, with bounded retries per queue row.
package embed

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"guildrag/clients"
	"guildrag/models"
	"guildrag/services"
	"guildrag/tokenizer"
)

const (
	defaultBatchSize    = 500
	defaultConcurrency  = 15
	defaultPollInterval = 3 * time.Second
	maxIdleBackoff      = 30 * time.Second
	maxAttempts         = 5
)

// TokenLimiter truncates window text to the embedding model's input budget.
type TokenLimiter interface {
	EnsureWithinLimit(ctx context.Context, text string) tokenizer.Result
}

type Worker struct {
	queueService      services.EmbedQueueService
	windowsService    services.WindowsService
	embeddingsService services.EmbeddingsService
	embedder          clients.EmbeddingClient
	limiter           TokenLimiter

	batchSize    int
	concurrency  int64
	pollInterval time.Duration
}

func NewWorker(
	queueService services.EmbedQueueService,
	windowsService services.WindowsService,
	embeddingsService services.EmbeddingsService,
	embedder clients.EmbeddingClient,
	limiter TokenLimiter,
	concurrency int,
) *Worker {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Worker{
		queueService:      queueService,
		windowsService:    windowsService,
		embeddingsService: embeddingsService,
		embedder:          embedder,
		limiter:           limiter,
		batchSize:         defaultBatchSize,
		concurrency:       int64(concurrency),
		pollInterval:      defaultPollInterval,
	}
}

// Start loops until ctx is cancelled. An empty claim backs off exponentially
// up to 30s; any claimed work resets the backoff.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("🔄 Embed worker started (batch %d, concurrency %d)", w.batchSize, w.concurrency)
	idleCycles := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Embed worker stopped")
			return
		default:
		}

		processed := w.runOnce(ctx)
		if processed > 0 {
			idleCycles = 0
			continue
		}

		idleCycles++
		backoff := time.Duration(float64(w.pollInterval) * math.Pow(1.5, float64(idleCycles)))
		if backoff > maxIdleBackoff {
			backoff = maxIdleBackoff
		}
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
}

// runOnce claims one batch and processes it concurrently, returning the
// number of claimed rows.
func (w *Worker) runOnce(ctx context.Context) int {
	batch, err := w.queueService.ClaimReadyBatch(ctx, w.batchSize)
	if err != nil {
		log.Printf("❌ Failed to claim embed queue batch: %v", err)
		return 0
	}
	if len(batch) == 0 {
		return 0
	}
	log.Printf("📋 Processing %d embed queue items", len(batch))

	sem := semaphore.NewWeighted(w.concurrency)
	var wg sync.WaitGroup
	for _, item := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(item *models.EmbedQueueItem) {
			defer wg.Done()
			defer sem.Release(1)
			w.processItem(ctx, item)
		}(item)
	}
	wg.Wait()
	return len(batch)
}

func (w *Worker) processItem(ctx context.Context, item *models.EmbedQueueItem) {
	maybeText, err := w.windowsService.ResolveWindowText(ctx, item.WindowID)
	if err != nil {
		w.registerFailure(ctx, item, err)
		return
	}
	if maybeText.IsAbsent() {
		// No text and no messages to rebuild it from. Retrying cannot help.
		log.Printf("⚠️ Window %s has no resolvable text, failing queue item %s", item.WindowID, item.ID)
		if err := w.queueService.FailItem(ctx, item.ID); err != nil {
			log.Printf("⚠️ Failed to mark queue item %s as failed: %v", item.ID, err)
		}
		return
	}

	result := w.limiter.EnsureWithinLimit(ctx, maybeText.MustGet())
	if result.Truncated {
		log.Printf("⚠️ Window %s text truncated to %d tokens before embedding", item.WindowID, result.Tokens)
	}

	embedding, err := w.embedder.EmbedWindow(ctx, result.Text)
	if err != nil {
		w.registerFailure(ctx, item, err)
		return
	}

	if err := w.embeddingsService.UpsertEmbedding(ctx, item.WindowID, embedding); err != nil {
		w.registerFailure(ctx, item, err)
		return
	}

	if err := w.queueService.CompleteItem(ctx, item.ID); err != nil {
		log.Printf("⚠️ Failed to mark queue item %s as done: %v", item.ID, err)
	}
}

// registerFailure books one failed attempt; the row fails terminally once
// attempts reach the cap, otherwise it stays ready for a later batch.
func (w *Worker) registerFailure(ctx context.Context, item *models.EmbedQueueItem, cause error) {
	log.Printf("⚠️ Embedding window %s failed: %v", item.WindowID, cause)
	terminal, err := w.queueService.RegisterAttempt(ctx, item.ID, maxAttempts)
	if err != nil {
		log.Printf("⚠️ Failed to register attempt for queue item %s: %v", item.ID, err)
		return
	}
	if terminal {
		log.Printf("❌ Queue item %s exhausted %d attempts, marked failed", item.ID, maxAttempts)
	}
}
