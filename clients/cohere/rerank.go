package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"guildrag/clients"
)

var cohereRerankURL = "https://api.cohere.com/v2/rerank"

// RerankClient calls the Cohere v2 rerank endpoint.
type RerankClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func NewRerankClient(httpClient *http.Client, apiKey, model string) *RerankClient {
	return &RerankClient{
		httpClient: httpClient,
		apiKey:     apiKey,
		model:      model,
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores docs against query and returns the top topK by relevance,
// most relevant first.
func (c *RerankClient) Rerank(
	ctx context.Context,
	query string,
	docs []string,
	topK int,
) ([]clients.RankedDoc, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: docs,
		TopN:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", cohereRerankURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute rerank request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var rerankResp rerankResponse
	if err := json.Unmarshal(body, &rerankResp); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	ranked := make([]clients.RankedDoc, 0, len(rerankResp.Results))
	for _, result := range rerankResp.Results {
		ranked = append(ranked, clients.RankedDoc{
			Index:          result.Index,
			RelevanceScore: result.RelevanceScore,
		})
	}
	return ranked, nil
}
