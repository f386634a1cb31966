// Package chat answers user questions over the synchronized guild history:
// embed the query, retrieve candidate windows by vector similarity,
// optionally rerank, then generate a grounded answer with citations.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"guildrag/clients"
	"guildrag/core"
	"guildrag/models"
	"guildrag/services"
)

const (
	retrievalLimit    = 200
	topCandidates     = 15
	defaultRerankTopK = 5
	maxCitations      = 3
)

// noContextAnswer is returned when retrieval yields nothing, typically before
// the first sync of a guild.
const noContextAnswer = "まだこのサーバーのメッセージが同期されていないため、お答えできる情報がありません。先に /sync を実行してから、もう一度お試しください。"

var citationZone = time.FixedZone("JST", 9*60*60)

// Citation points the reader back at the source window in Discord.
type Citation struct {
	Label    string `json:"label"`
	JumpLink string `json:"jump_link"`
}

type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	LatencyMs int64      `json:"latency_ms"`
}

type ChatUsecase struct {
	embedder          clients.EmbeddingClient
	generator         clients.GenerativeClient
	reranker          clients.RerankClient
	embeddingsService services.EmbeddingsService
	windowsService    services.WindowsService
	candidateLimit    int
	rerankTopK        int
}

// NewChatUsecase wires the retrieval pipeline. reranker may be nil, in which
// case candidates are used in similarity order. candidateLimit caps how many
// retrieved windows survive into reranking; the rerank input ceiling
// (topCandidates) bounds it from above.
func NewChatUsecase(
	embedder clients.EmbeddingClient,
	generator clients.GenerativeClient,
	reranker clients.RerankClient,
	embeddingsService services.EmbeddingsService,
	windowsService services.WindowsService,
	candidateLimit int,
	rerankTopK int,
) *ChatUsecase {
	if candidateLimit <= 0 || candidateLimit > topCandidates {
		candidateLimit = topCandidates
	}
	if rerankTopK <= 0 {
		rerankTopK = defaultRerankTopK
	}
	return &ChatUsecase{
		embedder:          embedder,
		generator:         generator,
		reranker:          reranker,
		embeddingsService: embeddingsService,
		windowsService:    windowsService,
		candidateLimit:    candidateLimit,
		rerankTopK:        rerankTopK,
	}
}

func (u *ChatUsecase) Answer(
	ctx context.Context,
	guildID, channelID, userID, query string,
) (*Answer, error) {
	started := time.Now()
	log.Printf("📋 Answering question in guild %s channel %s for user %s", guildID, channelID, userID)

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	queryEmbedding, err := u.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, core.NewCodedError(core.CodeChatFailed, fmt.Errorf("failed to embed query: %w", err))
	}

	windows := u.retrieve(ctx, queryEmbedding, guildID)
	if len(windows) == 0 {
		return &Answer{
			Text:      noContextAnswer,
			Citations: []Citation{},
			LatencyMs: time.Since(started).Milliseconds(),
		}, nil
	}

	windows = u.rerank(ctx, query, windows)

	answerText, err := u.generator.GenerateAnswer(ctx, buildPrompt(userID, query, windows))
	if err != nil {
		return nil, core.NewCodedError(core.CodeChatFailed, err)
	}

	answer := &Answer{
		Text:      answerText,
		Citations: buildCitations(guildID, windows),
		LatencyMs: time.Since(started).Milliseconds(),
	}
	log.Printf("✅ Answered question for user %s in %dms with %d citations",
		userID, answer.LatencyMs, len(answer.Citations))
	return answer, nil
}

// retrieve runs vector search and resolves the matched windows, preserving
// similarity order. A failed RPC degrades to the empty set rather than
// erroring the whole request.
func (u *ChatUsecase) retrieve(
	ctx context.Context,
	queryEmbedding []float32,
	guildID string,
) []*models.MessageWindow {
	matches, err := u.embeddingsService.MatchWindowsInGuild(ctx, queryEmbedding, guildID, retrievalLimit)
	if err != nil {
		log.Printf("⚠️ Vector search failed for guild %s, answering without context: %v", guildID, err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	windowIDs := make([]string, 0, len(matches))
	for _, match := range matches {
		windowIDs = append(windowIDs, match.WindowID)
	}
	rows, err := u.windowsService.GetWindowsByIDs(ctx, windowIDs)
	if err != nil {
		log.Printf("⚠️ Failed to load matched windows for guild %s: %v", guildID, err)
		return nil
	}

	// Reassemble in RPC order; windows deleted since the match are dropped.
	byID := make(map[string]*models.MessageWindow, len(rows))
	for _, row := range rows {
		byID[row.WindowID] = row
	}
	ordered := make([]*models.MessageWindow, 0, len(matches))
	for _, match := range matches {
		if window, ok := byID[match.WindowID]; ok {
			ordered = append(ordered, window)
		}
	}

	if len(ordered) > u.candidateLimit {
		ordered = ordered[:u.candidateLimit]
	}
	return ordered
}

// rerank reorders candidates with the cross-encoder when one is configured.
// Any rerank failure falls back to the top-K of the similarity order.
func (u *ChatUsecase) rerank(
	ctx context.Context,
	query string,
	windows []*models.MessageWindow,
) []*models.MessageWindow {
	topK := u.rerankTopK
	if topK > len(windows) {
		topK = len(windows)
	}

	if u.reranker == nil {
		return windows[:topK]
	}

	docs := make([]string, 0, len(windows))
	for _, window := range windows {
		docs = append(docs, windowText(window))
	}
	ranked, err := u.reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		log.Printf("⚠️ Rerank failed, falling back to similarity order: %v", err)
		return windows[:topK]
	}

	reordered := make([]*models.MessageWindow, 0, len(ranked))
	for _, doc := range ranked {
		if doc.Index >= 0 && doc.Index < len(windows) {
			reordered = append(reordered, windows[doc.Index])
		}
	}
	if len(reordered) == 0 {
		return windows[:topK]
	}
	return reordered
}

func buildPrompt(userID, query string, windows []*models.MessageWindow) string {
	var b strings.Builder
	b.WriteString("あなたはDiscordサーバーの過去ログに基づいて質問に答えるアシスタントです。\n")
	b.WriteString("以下のコンテキストに含まれる情報のみを根拠として回答してください。\n")
	b.WriteString("コンテキストに答えがない場合は、分からないと正直に伝えてください。\n")
	b.WriteString("回答の根拠となったコンテキストの番号を [#n] の形式で引用してください。\n")
	b.WriteString("質問と同じ言語で回答してください。既定の言語は日本語です。\n\n")

	b.WriteString("# コンテキスト\n")
	for i, window := range windows {
		fmt.Fprintf(&b, "[#%d] (%s – %s)\n%s\n\n",
			i+1,
			window.StartAt.In(citationZone).Format("2006/01/02 15:04"),
			window.EndAt.In(citationZone).Format("2006/01/02 15:04"),
			windowText(window))
	}

	fmt.Fprintf(&b, "# 質問 (from %s)\n%s\n", userID, query)
	return b.String()
}

// buildCitations returns at most three citations pointing at the first
// message of each window.
func buildCitations(guildID string, windows []*models.MessageWindow) []Citation {
	citations := make([]Citation, 0, maxCitations)
	for i, window := range windows {
		if i >= maxCitations {
			break
		}
		if len(window.MessageIDs) == 0 {
			continue
		}
		citations = append(citations, Citation{
			Label: fmt.Sprintf("[#%d] %s", i+1, window.StartAt.In(citationZone).Format("2006/01/02 15:04")),
			JumpLink: fmt.Sprintf("https://discord.com/channels/%s/%s/%s",
				guildID, window.ChannelID, window.MessageIDs[0]),
		})
	}
	return citations
}

func windowText(window *models.MessageWindow) string {
	if window.Text != nil {
		return *window.Text
	}
	return ""
}
