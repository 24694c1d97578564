// Package llm provides an Ollama-backed text-generation client, used by
// the Summarize and Categorize stage processors. Adapted from the
// teacher's embeddings client: same base-URL/model/http.Client shape,
// generalized from an embedding vector endpoint to a generate endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/discoursekg/discoursekg/pkg/resilience"
)

// Client implements text generation against an Ollama server's
// /api/generate endpoint.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *resilience.Breaker
	limiter *resilience.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithBreaker wraps every call with the given circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

// WithLimiter bounds call rate with the given token bucket.
func WithLimiter(l *resilience.Limiter) Option {
	return func(cl *Client) { cl.limiter = l }
}

// New creates an Ollama generation client.
func New(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs one prompt against the model and returns its full
// response text. system, when non-empty, is sent as the system prompt.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm: rate limit: %w", err)
		}
	}

	var out string
	call := func(ctx context.Context) error {
		resp, err := c.generate(ctx, system, prompt)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Call(ctx, call); err != nil {
			return "", err
		}
		return out, nil
	}
	if err := call(ctx); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, System: system, Stream: false})
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: generate: status %d", resp.StatusCode)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	return result.Response, nil
}

// GenerateJSON runs prompt and unmarshals the model's response into out.
// Used by the Categorize processor, whose prompt instructs the model to
// answer with a single JSON object matching domain.CategorizeArtifact.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string, out any) error {
	text, err := c.Generate(ctx, system, prompt)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("llm: response is not valid JSON: %w", err)
	}
	return nil
}
