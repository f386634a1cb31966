package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type generateContentRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// GenerateAnswer invokes the generative model with the fixed decoding
// parameters and concatenates all returned content parts into one string.
func (c *Client) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(generateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.3,
			TopP:            0.9,
			MaxOutputTokens: 2048,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	var answer string
	err = c.withRetry(ctx, "generateAnswer", func(apiKey string) (int, error) {
		url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.chatModel)
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
		if err != nil {
			return 0, fmt.Errorf("failed to create generate request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("failed to execute generate request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read generate response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("generate request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var genResp generateContentResponse
		if err := json.Unmarshal(body, &genResp); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode generate response: %w", err)
		}
		if len(genResp.Candidates) == 0 {
			return resp.StatusCode, fmt.Errorf("generate response contained no candidates")
		}

		var sb strings.Builder
		for _, part := range genResp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		answer = sb.String()
		return resp.StatusCode, nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}
