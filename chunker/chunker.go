// Package chunker groups an ordered sequence of messages from one
// channel-date (or thread-date) partition into token-bounded windows with
// soft temporal boundaries. Given identical inputs and config the output is
// byte-identical.
package chunker

import (
	"context"
	"strings"
	"time"

	"guildrag/tokenizer"
)

const (
	DefaultMaxTokensPerWindow = 1200
	DefaultSoftGapMinutes     = 5
	DefaultOverlapMessages    = 0
)

// Counter is the token-counting surface the engine needs.
type Counter interface {
	Estimate(text string) int
	EnsureWithinLimit(ctx context.Context, text string) tokenizer.Result
}

// Message is one input message of a partition, ordered by CreatedAt
// ascending.
type Message struct {
	ID         string
	Content    string
	CreatedAt  time.Time
	IsTopLevel bool
}

// Window is one emitted window. Seq starts at 1 and increments per emit.
type Window struct {
	Seq        int
	MessageIDs []string
	StartAt    time.Time
	EndAt      time.Time
	TokenEst   int
	Text       string
	Truncated  bool
}

type Config struct {
	MaxTokensPerWindow int
	SoftGapMinutes     float64
	OverlapMessages    int
}

func DefaultConfig() Config {
	return Config{
		MaxTokensPerWindow: DefaultMaxTokensPerWindow,
		SoftGapMinutes:     DefaultSoftGapMinutes,
		OverlapMessages:    DefaultOverlapMessages,
	}
}

type Engine struct {
	counter Counter
	config  Config
}

func NewEngine(counter Counter, config Config) *Engine {
	if config.MaxTokensPerWindow <= 0 {
		config.MaxTokensPerWindow = DefaultMaxTokensPerWindow
	}
	if config.SoftGapMinutes <= 0 {
		config.SoftGapMinutes = DefaultSoftGapMinutes
	}
	if config.OverlapMessages < 0 {
		config.OverlapMessages = DefaultOverlapMessages
	}
	return &Engine{counter: counter, config: config}
}

// Chunk windows the partition in a single pass. A window flushes when the
// next message would overflow the token budget, when the time gap since the
// previous message exceeds SoftGapMinutes, or when the next message is
// top-level.
func (e *Engine) Chunk(ctx context.Context, messages []Message) []Window {
	if len(messages) == 0 {
		return nil
	}

	var windows []Window
	var buffer []Message
	budget := 0
	seq := 1
	var lastTimestamp time.Time

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		windows = append(windows, e.emit(ctx, seq, buffer))
		seq++

		// Carry the trailing overlap into the new buffer.
		overlap := e.config.OverlapMessages
		if overlap > len(buffer) {
			overlap = len(buffer)
		}
		carried := make([]Message, overlap)
		copy(carried, buffer[len(buffer)-overlap:])
		buffer = carried
		budget = 0
		for _, m := range buffer {
			budget += e.counter.Estimate(m.Content)
		}
	}

	for i, m := range messages {
		estimate := e.counter.Estimate(m.Content)
		wouldOverflow := budget+estimate > e.config.MaxTokensPerWindow

		softBreak := false
		if i > 0 {
			gapMinutes := m.CreatedAt.Sub(lastTimestamp).Minutes()
			softBreak = gapMinutes > e.config.SoftGapMinutes || m.IsTopLevel
		}

		if len(buffer) > 0 && (wouldOverflow || softBreak) {
			flush()
		}

		buffer = append(buffer, m)
		budget += estimate
		lastTimestamp = m.CreatedAt
	}
	flush()

	return windows
}

func (e *Engine) emit(ctx context.Context, seq int, buffer []Message) Window {
	contents := make([]string, 0, len(buffer))
	ids := make([]string, 0, len(buffer))
	for _, m := range buffer {
		contents = append(contents, m.Content)
		ids = append(ids, m.ID)
	}

	result := e.counter.EnsureWithinLimit(ctx, strings.Join(contents, "\n"))

	return Window{
		Seq:        seq,
		MessageIDs: ids,
		StartAt:    buffer[0].CreatedAt,
		EndAt:      buffer[len(buffer)-1].CreatedAt,
		TokenEst:   result.Tokens,
		Text:       result.Text,
		Truncated:  result.Truncated,
	}
}
