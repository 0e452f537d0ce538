package suggest

import (
	"context"
	"fmt"
	"time"

	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/transport"
)

// Backend produces one remediation suggestion for one issue.
type Backend interface {
	Suggest(ctx context.Context, issue domain.Issue) (string, error)
}

// HTTPBackend asks a completion service for manual remediation guidance.
type HTTPBackend struct {
	client *transport.Client
	model  string
}

// NewHTTPBackend builds a backend against a chat-completion style endpoint.
func NewHTTPBackend(baseURL, apiKey, model string, timeout time.Duration, logger *observability.Logger) *HTTPBackend {
	return &HTTPBackend{
		client: transport.NewClient(baseURL, apiKey, timeout, logger),
		model:  model,
	}
}

type suggestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type suggestRequest struct {
	Model       string           `json:"model"`
	Messages    []suggestMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

type suggestResponse struct {
	Choices []struct {
		Message suggestMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const systemPrompt = "You are an accessibility remediation assistant. Given one " +
	"unresolved document accessibility issue, reply with concrete step-by-step " +
	"instructions a document author can follow to fix it manually. Be specific " +
	"to the issue; do not restate the rule text."

func (b *HTTPBackend) Suggest(ctx context.Context, issue domain.Issue) (string, error) {
	prompt := fmt.Sprintf("Rule: %s\nCategory: %s\nPage: %d\nElement: %s\nDescription: %s",
		issue.RuleID, issue.Category, issue.Location.Page, issue.Location.ElementType, issue.Description)
	if issue.Snippet != "" {
		prompt += "\nContext: " + issue.Snippet
	}

	req := suggestRequest{
		Model: b.model,
		Messages: []suggestMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   512,
		Temperature: 0.2,
	}

	var resp suggestResponse
	if err := b.client.PostJSON(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("completion service: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("completion service returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}
