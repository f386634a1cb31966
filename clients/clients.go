package clients

import (
	"context"
	"time"

	"guildrag/models"
)

// FetchProgress reports fan-out progress while draining a guild:
// completed/total are container counts, phase is a human-readable label.
type FetchProgress func(completed, total int, phase string)

// FetchResult is the outcome of draining one or more containers.
type FetchResult struct {
	Messages []*models.Message
	Channels []*models.Channel
	Threads  []*models.Thread
	// SkippedThreads lists thread ids that timed out and resolved to an
	// empty list. They are not re-queued within the same job.
	SkippedThreads []string
}

// MessageFetcher drains message history from the chat service.
type MessageFetcher interface {
	// FetchGuild fans out across all text channels and their active and
	// archived threads. since, when non-nil, lower-bounds message timestamps.
	FetchGuild(ctx context.Context, guildID string, since *time.Time, onProgress FetchProgress) (*FetchResult, error)
	// FetchChannel drains a single channel (threads included).
	FetchChannel(ctx context.Context, guildID, channelID string, since *time.Time, onProgress FetchProgress) (*FetchResult, error)
}

// EmbeddingClient computes dense vectors for window and query texts. The two
// entry points have identical semantics but distinct log labels.
type EmbeddingClient interface {
	EmbedWindow(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TokenCountClient counts tokens via the model provider's count endpoint.
// Retry policy lives in the tokenizer, not here.
type TokenCountClient interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// GenerativeClient produces the final answer text from a prompt.
type GenerativeClient interface {
	GenerateAnswer(ctx context.Context, prompt string) (string, error)
}

// RankedDoc is one rerank result: the index into the candidate slice plus the
// model's relevance score.
type RankedDoc struct {
	Index          int
	RelevanceScore float64
}

// RerankClient reorders retrieved candidates with a cross-encoder model.
type RerankClient interface {
	Rerank(ctx context.Context, query string, docs []string, topK int) ([]RankedDoc, error)
}
