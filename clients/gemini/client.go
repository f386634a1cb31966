package gemini

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

var geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// retryableMessages are provider error fragments that signal a transient
// failure worth retrying.
var retryableMessages = []string{
	"rate limit",
	"overloaded",
	"UNAVAILABLE",
	"RESOURCE_EXHAUSTED",
	"DEADLINE_EXCEEDED",
	"fetch failed",
	"ECONNRESET",
	"ETIMEDOUT",
	"timeout",
}

// Client calls the Gemini REST API for embeddings, token counts, and answer
// generation. A pool of equivalent API keys is load-balanced by picking one
// uniformly at random per call; there are no sticky sessions.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKeys        []string
	chatModel      string
	embeddingModel string
	embeddingDim   int
	maxAttempts    int
}

type Config struct {
	APIKeys        []string
	ChatModel      string
	EmbeddingModel string
	EmbeddingDim   int
}

func NewClient(httpClient *http.Client, cfg Config) (*Client, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one Gemini API key is required")
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        geminiAPIBase,
		apiKeys:        cfg.APIKeys,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		embeddingDim:   cfg.EmbeddingDim,
		maxAttempts:    10,
	}, nil
}

// pickKey chooses a key uniformly at random per call.
func (c *Client) pickKey() string {
	//nolint:gosec // load balancing across equivalent credentials, not crypto
	return c.apiKeys[rand.Intn(len(c.apiKeys))]
}

// isRetryable reports whether a response status or error message signals a
// transient failure.
func isRetryable(statusCode int, errMsg string) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	for _, fragment := range retryableMessages {
		if strings.Contains(errMsg, fragment) {
			return true
		}
	}
	return false
}

// backoffDelay is 2^attempt seconds plus up to 2 seconds of uniform jitter.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	//nolint:gosec // jitter only
	jitter := time.Duration(rand.Float64() * 2 * float64(time.Second))
	return base + jitter
}

// withRetry runs call under the shared retry policy: up to maxAttempts
// attempts, exponential backoff with jitter, retrying only transient signals.
// Non-retryable failures propagate immediately.
func (c *Client) withRetry(ctx context.Context, label string, call func(apiKey string) (int, error)) error {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			log.Printf("🔄 [%s] Retrying after %v (attempt %d/%d)", label, delay.Round(time.Millisecond), attempt+1, c.maxAttempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		statusCode, err := call(c.pickKey())
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(statusCode, err.Error()) {
			return err
		}
		log.Printf("⚠️ [%s] Transient failure (status %d): %v", label, statusCode, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", label, c.maxAttempts, lastErr)
}
