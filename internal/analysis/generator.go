// Package analysis calls the opaque text-generation collaborator. The
// service contract is a (system prompt, user content) request and a
// (content, token count) response; prompt quality and output quality
// are outside this package's concern.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Error wraps a generation failure with the HTTP status that caused
// it. A zero status means the request never reached the service.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analysis: status=%d: %v", e.StatusCode, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// Result is the collaborator's response.
type Result struct {
	Content    string
	TokensUsed int
}

// Generator is an HTTP client for an OpenAI-compatible chat completion
// endpoint.
type Generator struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewGenerator creates a generator client. An empty endpoint disables
// analysis; callers should check Enabled before dispatching work.
func NewGenerator(endpoint, apiKey, model string) *Generator {
	return &Generator{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Enabled reports whether a collaborator endpoint is configured.
func (g *Generator) Enabled() bool {
	return g.endpoint != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate sends one request to the collaborator and returns its
// content and token usage.
func (g *Generator) Generate(ctx context.Context, systemPrompt, userContent string) (*Result, error) {
	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", bytes.TrimSpace(body)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("response contains no choices")}
	}

	return &Result{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}
