// Package enrich calls an external text-generation service to produce a
// short summary of a statement at creation time. Enrichment is strictly
// best-effort: every failure class collapses to "no summary" and is logged,
// never returned, so the core write path cannot be failed by this
// collaborator.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "You summarize political statements. Respond with a single neutral sentence capturing the core claim. Do not editorialize."

// Summarizer produces an optional summary for a statement's text. The second
// return is false whenever no summary is available, for any reason.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, bool)
}

type Config struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client implements Summarizer against an OpenAI-compatible chat completions
// endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ Summarizer = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Disabled returns a Summarizer that never attempts a call.
func Disabled() *Client {
	return NewClient(Config{Enabled: false})
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Summarize requests a one-sentence summary of text. The call is bounded by
// the configured timeout regardless of the caller's context; a late result is
// discarded by the HTTP client when the deadline fires.
func (c *Client) Summarize(ctx context.Context, text string) (string, bool) {
	if !c.cfg.Enabled {
		return "", false
	}
	if c.cfg.APIKey == "" || c.cfg.Endpoint == "" || c.cfg.Model == "" {
		log.Printf("enrich: skipping, provider not configured")
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": text},
		},
		"max_tokens":  120,
		"temperature": 0.2,
	})
	if err != nil {
		log.Printf("enrich: marshal request: %v", err)
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("enrich: build request: %v", err)
		return "", false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("enrich: provider call failed: %v", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("enrich: provider error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		return "", false
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("enrich: decode response: %v", err)
		return "", false
	}
	if len(parsed.Choices) == 0 {
		log.Printf("enrich: provider returned no choices")
		return "", false
	}
	summary := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if summary == "" {
		log.Printf("enrich: provider returned empty summary")
		return "", false
	}
	return summary, true
}

// AppendSummary attaches a summary to statement text using the fixed
// delimited format. This happens once, at creation; edits never reapply it.
func AppendSummary(text, summary string) string {
	return fmt.Sprintf("%s\n\n---\nAI Summary: %s", text, summary)
}
