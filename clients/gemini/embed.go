package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type embedContentRequest struct {
	Content              geminiContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
	TaskType             string        `json:"taskType,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type embedContentResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// EmbedWindow embeds a message window's text.
func (c *Client) EmbedWindow(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, "embedWindow", text, "RETRIEVAL_DOCUMENT")
}

// EmbedQuery embeds a user query. Identical semantics to EmbedWindow, only
// the log label and task type differ.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, "embedQuery", text, "RETRIEVAL_QUERY")
}

func (c *Client) embed(ctx context.Context, label, text, taskType string) ([]float32, error) {
	reqBody, err := json.Marshal(embedContentRequest{
		Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
		OutputDimensionality: c.embeddingDim,
		TaskType:             taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	var vector []float32
	err = c.withRetry(ctx, label, func(apiKey string) (int, error) {
		url := fmt.Sprintf("%s/models/%s:embedContent", c.baseURL, c.embeddingModel)
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
		if err != nil {
			return 0, fmt.Errorf("failed to create embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("failed to execute embed request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read embed response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("embed request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var embedResp embedContentResponse
		if err := json.Unmarshal(body, &embedResp); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode embed response: %w", err)
		}
		if len(embedResp.Embedding.Values) == 0 {
			return resp.StatusCode, fmt.Errorf("embed response contained no values")
		}
		vector = embedResp.Embedding.Values
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}
