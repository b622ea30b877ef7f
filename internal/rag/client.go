package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns text into a vector for similarity search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder embeds text via the OpenAI embeddings API
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder for the given model name
// (e.g. "text-embedding-3-large")
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
	}
}

// Embed implements Embedder
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}

	return resp.Data[0].Embedding, nil
}

// Config contains the Qdrant connection and search parameters
type Config struct {
	URL        string
	APIKey     string
	Collection string
	TopK       int
	Timeout    time.Duration
}

// Client retrieves knowledge from a Qdrant collection. It implements the
// relay's ContextProvider capability.
type Client struct {
	config     Config
	httpClient *http.Client
	embedder   Embedder
	logger     *slog.Logger
}

// NewClient creates a retrieval client
func NewClient(config Config, embedder Embedder, logger *slog.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("qdrant url cannot be empty")
	}

	if config.Collection == "" {
		return nil, fmt.Errorf("collection cannot be empty")
	}

	if config.TopK <= 0 {
		config.TopK = 3
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		embedder: embedder,
		logger:   logger,
	}, nil
}

// searchRequest is the Qdrant points/search request body
type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

// searchResponse is the Qdrant points/search response body
type searchResponse struct {
	Result []scoredPoint `json:"result"`
}

type scoredPoint struct {
	Score   float32      `json:"score"`
	Payload pointPayload `json:"payload"`
}

type pointPayload struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}

// Document is one retrieved knowledge fragment
type Document struct {
	Content  string
	Score    float32
	Metadata map[string]any
}

// Context implements the relay's ContextProvider: embed the query, search the
// collection, and format the hits. Returns an empty string with the error for
// logging; callers treat any failure as "no context available".
func (c *Client) Context(ctx context.Context, query string) (string, error) {
	docs, err := c.Search(ctx, query)
	if err != nil {
		return "", err
	}

	return FormatContext(docs), nil
}

// Search runs one similarity search against the collection
func (c *Client) Search(ctx context.Context, query string) ([]Document, error) {
	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	body, err := json.Marshal(searchRequest{
		Vector:      vector,
		Limit:       c.config.TopK,
		WithPayload: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search",
		strings.TrimRight(c.config.URL, "/"), c.config.Collection)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	docs := make([]Document, 0, len(parsed.Result))
	for _, point := range parsed.Result {
		if point.Payload.PageContent == "" {
			continue
		}
		docs = append(docs, Document{
			Content:  point.Payload.PageContent,
			Score:    point.Score,
			Metadata: point.Payload.Metadata,
		})
	}

	c.logger.Debug("Retrieval search completed",
		slog.Int("hits", len(docs)),
		slog.String("collection", c.config.Collection),
	)

	return docs, nil
}

// FormatContext renders retrieved documents into the context string injected
// upstream. Empty input yields an empty string.
func FormatContext(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for i, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("Source %d:\n%s", i+1, content))
	}

	return strings.Join(parts, "\n\n")
}
