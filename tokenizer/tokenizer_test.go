package tokenizer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeTokenCounter counts one token per rune and can fail a configurable
// number of times before succeeding.
type fakeTokenCounter struct {
	failures int
	calls    int
}

func (f *fakeTokenCounter) CountTokens(ctx context.Context, text string) (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, fmt.Errorf("transient failure %d", f.calls)
	}
	return len([]rune(text)), nil
}

func TestEstimate_ASCII(t *testing.T) {
	counter := NewCounter(nil)

	// 40 ASCII characters land around 10 tokens.
	text := strings.Repeat("abcd", 10)
	assert.Equal(t, 10, counter.Estimate(text))
}

func TestEstimate_CJKCountsPerCharacter(t *testing.T) {
	counter := NewCounter(nil)

	assert.Equal(t, 5, counter.Estimate("こんにちは"))
	assert.Equal(t, 4, counter.Estimate("東京特許"))
}

func TestEstimate_NeverZeroForNonEmpty(t *testing.T) {
	counter := NewCounter(nil)

	assert.Equal(t, 0, counter.Estimate(""))
	assert.Equal(t, 1, counter.Estimate("a"))
}

func TestCountPrecisely_NilRemoteFallsBackToEstimate(t *testing.T) {
	counter := NewCounter(nil)

	text := strings.Repeat("word ", 20)
	assert.Equal(t, counter.Estimate(text), counter.CountPrecisely(context.Background(), text))
}

func TestCountPrecisely_RetriesThenSucceeds(t *testing.T) {
	remote := &fakeTokenCounter{failures: 1}
	counter := NewCounter(remote)

	tokens := counter.CountPrecisely(context.Background(), "hello")
	assert.Equal(t, 5, tokens)
	assert.Equal(t, 2, remote.calls)
}

func TestCountPrecisely_CancelledContextDegrades(t *testing.T) {
	remote := &fakeTokenCounter{failures: 10}
	counter := NewCounter(remote)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	text := strings.Repeat("abcd", 10)
	assert.Equal(t, counter.Estimate(text), counter.CountPrecisely(ctx, text))
}

func TestTruncate_ShortTextUnchanged(t *testing.T) {
	counter := NewCounter(&fakeTokenCounter{})

	assert.Equal(t, "hello", counter.Truncate(context.Background(), "hello", 10))
}

func TestTruncate_SnapsToBreakCharacter(t *testing.T) {
	counter := NewCounter(&fakeTokenCounter{})

	// One token per rune in the fake, so a limit of 25 cuts mid-word and the
	// snap pulls the cut back to the last space.
	text := "alpha beta gamma delta epsilon zeta"
	truncated := counter.Truncate(context.Background(), text, 25)

	// The cut lands on a word boundary, not inside "epsilon".
	assert.Equal(t, "alpha beta gamma delta", truncated)
}

func TestTruncate_ZeroLimit(t *testing.T) {
	counter := NewCounter(&fakeTokenCounter{})

	assert.Equal(t, "", counter.Truncate(context.Background(), "hello", 0))
}

func TestEnsureWithinLimit_UnderBudgetPassesThrough(t *testing.T) {
	counter := NewCounter(nil, WithMaxTokens(100), WithSafetyMargin(10))

	result := counter.EnsureWithinLimit(context.Background(), "short text")
	assert.Equal(t, "short text", result.Text)
	assert.False(t, result.Truncated)
	assert.Greater(t, result.Tokens, 0)
}

func TestEnsureWithinLimit_OverBudgetTruncates(t *testing.T) {
	counter := NewCounter(&fakeTokenCounter{}, WithMaxTokens(30), WithSafetyMargin(5))

	text := strings.Repeat("tokens and more tokens. ", 10)
	result := counter.EnsureWithinLimit(context.Background(), text)

	assert.True(t, result.Truncated)
	assert.True(t, len([]rune(result.Text)) <= 25)
	assert.True(t, result.Tokens <= 25)
}

func TestEnsureWithinLimit_PreciseCountRescuesEstimateOvershoot(t *testing.T) {
	// The local estimate for CJK text is one token per character, but the
	// fake remote agrees, so pick a remote that reports half.
	remote := &halvingCounter{}
	counter := NewCounter(remote, WithMaxTokens(12), WithSafetyMargin(2))

	text := "こんにちは世界です、元気"
	result := counter.EnsureWithinLimit(context.Background(), text)

	assert.False(t, result.Truncated)
	assert.Equal(t, text, result.Text)
}

type halvingCounter struct{}

func (h *halvingCounter) CountTokens(ctx context.Context, text string) (int, error) {
	return len([]rune(text)) / 2, nil
}

func TestMaxTokens(t *testing.T) {
	counter := NewCounter(nil, WithMaxTokens(512))
	assert.Equal(t, 512, counter.MaxTokens())
}
