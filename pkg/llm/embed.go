// Package llm provides thin HTTP clients for a model gateway: one for text
// embeddings and one generic invoker the answer engine's generation tiers
// share. Both carry explicit timeouts on every call.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"
)

// DefaultDims is the embedding dimensionality the pipeline is configured for.
const DefaultDims = 1024

// DefaultMaxChars caps the input passed to the embedding model; providers
// reject over-long inputs outright, so we truncate first.
const DefaultMaxChars = 8000

// EmbedOpts configures an EmbedClient.
type EmbedOpts struct {
	BaseURL  string
	Model    string
	Dims     int
	MaxChars int
	Timeout  time.Duration
}

// EmbedClient calls the gateway's embedding endpoint. It holds no mutable
// state beyond configuration and is safe for concurrent use.
type EmbedClient struct {
	opts   EmbedOpts
	client *http.Client
}

// NewEmbedClient creates an embedding client.
func NewEmbedClient(opts EmbedOpts) *EmbedClient {
	if opts.Dims <= 0 {
		opts.Dims = DefaultDims
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &EmbedClient{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Dims returns the configured output dimensionality.
func (c *EmbedClient) Dims() int { return c.opts.Dims }

type embedRequest struct {
	Model      string `json:"model"`
	InputText  string `json:"input_text"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for text, truncated to MaxChars first.
// The cut lands on a rune boundary so the request body stays valid UTF-8.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > c.opts.MaxChars {
		cut := c.opts.MaxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	body, _ := json.Marshal(embedRequest{
		Model:      c.opts.Model,
		InputText:  text,
		Dimensions: c.opts.Dims,
		Normalize:  true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/v1/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: embed: status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: embed decode: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("llm: embed: empty embedding returned")
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
