package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Invoker submits a raw request body to a named model and returns the raw
// response body. Callers own both wire formats; Invoker only moves bytes.
type Invoker interface {
	Invoke(ctx context.Context, model string, body []byte) ([]byte, error)
}

// InvokeOpts configures the HTTP Invoker.
type InvokeOpts struct {
	BaseURL string
	Timeout time.Duration
}

// Client is an HTTP Invoker against a model gateway.
type Client struct {
	opts   InvokeOpts
	client *http.Client
}

// NewClient creates a generation client.
func NewClient(opts InvokeOpts) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Invoke posts body to /v1/models/{model}/invoke and returns the response
// bytes unparsed.
func (c *Client) Invoke(ctx context.Context, model string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/models/%s/invoke", c.opts.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: invoke %s: %w", model, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: invoke %s: read: %w", model, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: invoke %s: status %d", model, resp.StatusCode)
	}
	return out, nil
}
