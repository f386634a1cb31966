package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type countTokensRequest struct {
	Contents []geminiContent `json:"contents"`
}

type countTokensResponse struct {
	TotalTokens int `json:"totalTokens"`
}

// CountTokens asks the model API for the exact token count of text. This is a
// single request; the tokenizer owns the retry-and-degrade policy.
func (c *Client) CountTokens(ctx context.Context, text string) (int, error) {
	reqBody, err := json.Marshal(countTokensRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: text}}}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal count-tokens request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:countTokens", c.baseURL, c.chatModel)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("failed to create count-tokens request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.pickKey())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute count-tokens request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read count-tokens response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("count-tokens request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var countResp countTokensResponse
	if err := json.Unmarshal(body, &countResp); err != nil {
		return 0, fmt.Errorf("failed to decode count-tokens response: %w", err)
	}
	return countResp.TotalTokens, nil
}
