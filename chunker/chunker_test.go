package chunker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildrag/tokenizer"
)

// runeCounter is a deterministic Counter: one token per rune, no remote.
type runeCounter struct {
	maxTokens    int
	safetyMargin int
}

func (c *runeCounter) Estimate(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 1
	}
	return n
}

func (c *runeCounter) EnsureWithinLimit(ctx context.Context, text string) tokenizer.Result {
	budget := c.maxTokens - c.safetyMargin
	runes := []rune(text)
	if len(runes) <= budget {
		return tokenizer.Result{Text: text, Tokens: len(runes), Truncated: false}
	}
	return tokenizer.Result{Text: string(runes[:budget]), Tokens: budget, Truncated: true}
}

func baseTime() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func msg(id, content string, at time.Time, topLevel bool) Message {
	return Message{ID: id, Content: content, CreatedAt: at, IsTopLevel: topLevel}
}

func TestChunk_EmptyInput(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, DefaultConfig())
	assert.Nil(t, engine.Chunk(context.Background(), nil))
}

func TestChunk_SingleWindow(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 100,
		SoftGapMinutes:     5,
	})

	at := baseTime()
	windows := engine.Chunk(context.Background(), []Message{
		msg("m1", "hello", at, false),
		msg("m2", "world", at.Add(time.Minute), false),
	})

	require.Len(t, windows, 1)
	assert.Equal(t, 1, windows[0].Seq)
	assert.Equal(t, []string{"m1", "m2"}, windows[0].MessageIDs)
	assert.Equal(t, at, windows[0].StartAt)
	assert.Equal(t, at.Add(time.Minute), windows[0].EndAt)
	assert.Equal(t, "hello\nworld", windows[0].Text)
	assert.False(t, windows[0].Truncated)
}

func TestChunk_SoftGapBreaks(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 1000,
		SoftGapMinutes:     5,
	})

	at := baseTime()
	windows := engine.Chunk(context.Background(), []Message{
		msg("m1", "first", at, false),
		msg("m2", "second", at.Add(2*time.Minute), false),
		msg("m3", "after a long pause", at.Add(20*time.Minute), false),
	})

	require.Len(t, windows, 2)
	assert.Equal(t, []string{"m1", "m2"}, windows[0].MessageIDs)
	assert.Equal(t, []string{"m3"}, windows[1].MessageIDs)
	assert.Equal(t, 1, windows[0].Seq)
	assert.Equal(t, 2, windows[1].Seq)
}

func TestChunk_GapAtExactThresholdDoesNotBreak(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 1000,
		SoftGapMinutes:     5,
	})

	at := baseTime()
	windows := engine.Chunk(context.Background(), []Message{
		msg("m1", "first", at, false),
		msg("m2", "exactly five minutes later", at.Add(5*time.Minute), false),
	})

	require.Len(t, windows, 1)
}

func TestChunk_TopLevelMessageBreaks(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 1000,
		SoftGapMinutes:     60,
	})

	at := baseTime()
	windows := engine.Chunk(context.Background(), []Message{
		msg("t1", "thread reply", at, false),
		msg("t2", "another reply", at.Add(time.Minute), false),
		msg("c1", "back in the channel", at.Add(2*time.Minute), true),
	})

	require.Len(t, windows, 2)
	assert.Equal(t, []string{"t1", "t2"}, windows[0].MessageIDs)
	assert.Equal(t, []string{"c1"}, windows[1].MessageIDs)
}

func TestChunk_OverflowFlushes(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 10,
		SoftGapMinutes:     60,
	})

	at := baseTime()
	windows := engine.Chunk(context.Background(), []Message{
		msg("m1", strings.Repeat("a", 6), at, false),
		msg("m2", strings.Repeat("b", 6), at.Add(time.Second), false),
		msg("m3", strings.Repeat("c", 6), at.Add(2*time.Second), false),
	})

	require.Len(t, windows, 3)
	for i, w := range windows {
		assert.Equal(t, i+1, w.Seq)
		assert.Len(t, w.MessageIDs, 1)
	}
}

func TestChunk_OversizedWindowTruncates(t *testing.T) {
	// A single message over the window budget still emits, and the emitted
	// text is cut to the counter's limit.
	engine := NewEngine(&runeCounter{maxTokens: 100, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 100,
		SoftGapMinutes:     5,
	})

	at := baseTime()
	windows := engine.Chunk(context.Background(), []Message{
		msg("m1", strings.Repeat("x", 500), at, false),
	})

	require.Len(t, windows, 1)
	assert.True(t, windows[0].Truncated)
	assert.Equal(t, 100, len([]rune(windows[0].Text)))
	assert.Equal(t, 100, windows[0].TokenEst)
}

func TestChunk_OverlapCarriesMessages(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 12,
		SoftGapMinutes:     60,
		OverlapMessages:    1,
	})

	at := baseTime()
	windows := engine.Chunk(context.Background(), []Message{
		msg("m1", strings.Repeat("a", 6), at, false),
		msg("m2", strings.Repeat("b", 6), at.Add(time.Second), false),
		msg("m3", strings.Repeat("c", 6), at.Add(2*time.Second), false),
	})

	require.Len(t, windows, 2)
	assert.Equal(t, []string{"m1", "m2"}, windows[0].MessageIDs)
	assert.Equal(t, []string{"m2", "m3"}, windows[1].MessageIDs)
}

func TestChunk_Deterministic(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 30,
		SoftGapMinutes:     5,
	})

	at := baseTime()
	input := []Message{
		msg("m1", "one message here", at, false),
		msg("m2", "and another one", at.Add(time.Minute), false),
		msg("m3", "pause follows", at.Add(30*time.Minute), false),
		msg("m4", "tail", at.Add(31*time.Minute), false),
	}

	first := engine.Chunk(context.Background(), input)
	second := engine.Chunk(context.Background(), input)
	assert.Equal(t, first, second)
}

func TestChunk_SeqAndOrderingInvariants(t *testing.T) {
	engine := NewEngine(&runeCounter{maxTokens: 1000, safetyMargin: 0}, Config{
		MaxTokensPerWindow: 20,
		SoftGapMinutes:     5,
	})

	at := baseTime()
	var input []Message
	for i := 0; i < 20; i++ {
		input = append(input, msg(
			string(rune('a'+i)),
			strings.Repeat("x", 7),
			at.Add(time.Duration(i)*time.Minute),
			false,
		))
	}

	windows := engine.Chunk(context.Background(), input)
	require.NotEmpty(t, windows)

	for i, w := range windows {
		assert.Equal(t, i+1, w.Seq)
		assert.False(t, w.EndAt.Before(w.StartAt))
		if i > 0 {
			assert.False(t, w.StartAt.Before(windows[i-1].EndAt))
		}
	}
}
