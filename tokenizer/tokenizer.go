package tokenizer

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode"

	"guildrag/clients"
)

const (
	defaultMaxTokens    = 2048
	defaultSafetyMargin = 128

	preciseCountAttempts = 5
	preciseCountBaseWait = 250 * time.Millisecond

	// truncateSnapRange is how far back from a binary-search cut we look for
	// a natural break character, to avoid cutting mid-word.
	truncateSnapRange = 100
)

// breakChars are the characters a truncation snaps back to.
var breakChars = map[rune]bool{
	'\n': true,
	'。':  true,
	'、':  true,
	'.':  true,
	',':  true,
	' ':  true,
	'}':  true,
	']':  true,
	')':  true,
}

// Result is the outcome of EnsureWithinLimit.
type Result struct {
	Text      string
	Tokens    int
	Truncated bool
}

// Counter estimates tokens locally, counts them precisely via the model API,
// and truncates text to a token budget. Remote failures are never surfaced:
// everything degrades to the local estimate.
type Counter struct {
	remote       clients.TokenCountClient
	maxTokens    int
	safetyMargin int
}

type Option func(*Counter)

func WithMaxTokens(n int) Option {
	return func(c *Counter) { c.maxTokens = n }
}

func WithSafetyMargin(n int) Option {
	return func(c *Counter) { c.safetyMargin = n }
}

// NewCounter creates a Counter. remote may be nil, in which case precise
// counting always falls back to the local estimate.
func NewCounter(remote clients.TokenCountClient, opts ...Option) *Counter {
	counter := &Counter{
		remote:       remote,
		maxTokens:    defaultMaxTokens,
		safetyMargin: defaultSafetyMargin,
	}
	for _, opt := range opts {
		opt(counter)
	}
	return counter
}

// Estimate is a local, zero-I/O token estimate. Subword vocabularies pack
// roughly four ASCII characters per token while CJK text runs close to one
// token per character, so the estimate walks the runes once and weighs them
// by class.
func (c *Counter) Estimate(text string) int {
	if text == "" {
		return 0
	}

	var asciiChars, wideChars int
	for _, r := range text {
		if r < 128 {
			asciiChars++
		} else if isWideRune(r) {
			wideChars++
		} else {
			// Accented Latin, symbols: closer to ASCII density.
			asciiChars++
		}
	}

	tokens := asciiChars/4 + wideChars
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// CountPrecisely asks the model API for the exact count, retrying transient
// failures up to 5 attempts with exponential backoff starting at 250 ms. On
// exhaustion it falls back to Estimate.
func (c *Counter) CountPrecisely(ctx context.Context, text string) int {
	if text == "" {
		return 0
	}
	if c.remote == nil {
		return c.Estimate(text)
	}

	wait := preciseCountBaseWait
	for attempt := 0; attempt < preciseCountAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return c.Estimate(text)
			case <-time.After(wait):
			}
			wait *= 2
		}

		tokens, err := c.remote.CountTokens(ctx, text)
		if err == nil {
			return tokens
		}
		log.Printf("⚠️ Precise token count failed (attempt %d/%d): %v", attempt+1, preciseCountAttempts, err)
	}

	log.Printf("⚠️ Precise token count exhausted retries, using local estimate")
	return c.Estimate(text)
}

// Truncate binary-searches the largest prefix whose precise token count fits
// within limit, then snaps backward to the nearest break character within the
// last 100 runes. Runs in O(log |text|) precise counts.
func (c *Counter) Truncate(ctx context.Context, text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if c.CountPrecisely(ctx, text) <= limit {
		return text
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.CountPrecisely(ctx, string(runes[:mid])) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return ""
	}

	return snapToBreak(runes[:lo])
}

// snapToBreak cuts the prefix at the last break character if one occurs
// within the final truncateSnapRange runes.
func snapToBreak(runes []rune) string {
	limit := len(runes) - truncateSnapRange
	if limit < 0 {
		limit = 0
	}
	for i := len(runes) - 1; i >= limit; i-- {
		if breakChars[runes[i]] {
			return strings.TrimRight(string(runes[:i+1]), " ")
		}
	}
	return string(runes)
}

// EnsureWithinLimit guarantees text fits within maxTokens - safetyMargin.
// The cheap estimate short-circuits the common case; only texts near the
// budget pay for a precise count, and only texts over it get truncated.
func (c *Counter) EnsureWithinLimit(ctx context.Context, text string) Result {
	budget := c.maxTokens - c.safetyMargin

	estimate := c.Estimate(text)
	if estimate <= budget {
		return Result{Text: text, Tokens: estimate, Truncated: false}
	}

	precise := c.CountPrecisely(ctx, text)
	if precise <= budget {
		return Result{Text: text, Tokens: precise, Truncated: false}
	}

	truncated := c.Truncate(ctx, text, budget)
	return Result{
		Text:      truncated,
		Tokens:    c.CountPrecisely(ctx, truncated),
		Truncated: true,
	}
}

// MaxTokens returns the configured hard ceiling.
func (c *Counter) MaxTokens() int {
	return c.maxTokens
}

func isWideRune(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
